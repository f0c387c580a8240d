package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantracode/VibeCheck-sub002/internal/identity"
	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/signatures"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.uber.org/zap"
)

func TestBaseRulePack(t *testing.T) {
	p := NewBaseRulePack("test_pack", 10)

	if got := p.Name(); got != "test_pack" {
		t.Errorf("Name() = %v, want %v", got, "test_pack")
	}
	if got := p.Priority(); got != 10 {
		t.Errorf("Priority() = %v, want %v", got, 10)
	}
	if !p.IsEnabled() {
		t.Error("IsEnabled() = false, want true (default)")
	}

	p.SetEnabled(false)
	if p.IsEnabled() {
		t.Error("After SetEnabled(false), IsEnabled() = true, want false")
	}
	p.SetEnabled(true)
	if !p.IsEnabled() {
		t.Error("After SetEnabled(true), IsEnabled() = false, want true")
	}
}

func TestMethodClasses(t *testing.T) {
	tests := []struct {
		method   string
		changing bool
		body     bool
	}{
		{"GET", false, false},
		{"HEAD", false, false},
		{"POST", true, true},
		{"put", true, true},
		{"PATCH", true, true},
		{"DELETE", true, false},
		{"ALL", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := stateChanging(tt.method); got != tt.changing {
				t.Errorf("stateChanging(%q) = %v, want %v", tt.method, got, tt.changing)
			}
			if got := acceptsBody(tt.method); got != tt.body {
				t.Errorf("acceptsBody(%q) = %v, want %v", tt.method, got, tt.body)
			}
		})
	}
}

// mockPack is a rule pack returning canned results
type mockPack struct {
	*BaseRulePack
	findings []models.Finding
	err      error
	panics   bool
}

func (m *mockPack) Run(ctx context.Context, in *Input) ([]models.Finding, error) {
	if m.panics {
		panic("boom")
	}
	return m.findings, m.err
}

func newMock(name string, priority int, rule string) *mockPack {
	return &mockPack{
		BaseRulePack: NewBaseRulePack(name, priority),
		findings:     []models.Finding{{RuleID: rule}},
	}
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(2, zap.NewNop())
	r.Register(newMock("low", 1, "LOW-1"))
	r.Register(newMock("high", 50, "HIGH-1"))
	r.Register(newMock("mid-b", 10, "MIDB-1"))
	r.Register(newMock("mid-a", 10, "MIDA-1"))

	disabled := newMock("off", 99, "OFF-1")
	disabled.SetEnabled(false)
	r.Register(disabled)

	failing := newMock("failing", 60, "FAIL-1")
	failing.err = errors.New("broken pack")
	r.Register(failing)

	panicking := newMock("panicking", 70, "PANIC-1")
	panicking.panics = true
	r.Register(panicking)

	findings, ran, err := r.Run(context.Background(), &Input{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ran != 6 {
		t.Errorf("Run() packs run = %d, want 6", ran)
	}

	want := []string{"HIGH-1", "MIDA-1", "MIDB-1", "LOW-1"}
	if len(findings) != len(want) {
		t.Fatalf("Run() returned %d findings, want %d", len(findings), len(want))
	}
	for i, id := range want {
		if findings[i].RuleID != id {
			t.Errorf("findings[%d].RuleID = %s, want %s", i, findings[i].RuleID, id)
		}
	}
}

func TestRunner_Cancelled(t *testing.T) {
	r := NewRunner(1, zap.NewNop())
	r.Register(newMock("a", 1, "A-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := r.Run(ctx, &Input{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunner_RegisterBuiltins(t *testing.T) {
	r := NewRunner(1, zap.NewNop())
	r.RegisterBuiltins(func(name string) bool { return name != "ratelimit" })

	packs := r.Packs()
	if len(packs) != 4 {
		t.Fatalf("Packs() = %d, want 4", len(packs))
	}
	names := []string{"auth", "validation", "middleware", "ratelimit"}
	for i, p := range packs {
		if p.Name() != names[i] {
			t.Errorf("Packs()[%d] = %s, want %s", i, p.Name(), names[i])
		}
		if want := p.Name() != "ratelimit"; p.IsEnabled() != want {
			t.Errorf("%s enabled = %v, want %v", p.Name(), p.IsEnabled(), want)
		}
	}
}

const usersRoute = `import { NextResponse } from "next/server";

export async function GET() {
  return NextResponse.json([]);
}

export async function POST(req: Request) {
  const body = await req.json();
  return NextResponse.json(body);
}

export async function DELETE(req: Request) {
  return new Response(null, { status: 204 });
}
`

const loginRoute = `import { ratelimit } from "@/lib/ratelimit";

export async function POST(req: Request) {
  const form = await req.formData();
  return new Response("ok");
}
`

const limitedRoute = `export async function POST(req: Request) {
  const { success } = await ratelimit.limit(ip);
  return new Response("ok");
}
`

func fixtureInput(t *testing.T) *Input {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"app/api/users/route.ts":      usersRoute,
		"app/api/login/route.ts":      loginRoute,
		"app/api/otp/verify/route.ts": limitedRoute,
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	route := func(method, path, file string, start, end int) models.Route {
		return models.Route{
			RouteID:   identity.RouteID(method, path, file),
			Method:    method,
			Path:      path,
			File:      file,
			StartLine: start,
			EndLine:   end,
			Handler:   method,
		}
	}
	routes := []models.Route{
		route("GET", "/api/users", "app/api/users/route.ts", 3, 5),
		route("POST", "/api/users", "app/api/users/route.ts", 7, 10),
		route("DELETE", "/api/users", "app/api/users/route.ts", 12, 14),
		route("POST", "/api/login", "app/api/login/route.ts", 3, 6),
		route("POST", "/api/otp/verify", "app/api/otp/verify/route.ts", 1, 4),
	}

	traces := make(map[string]models.ProofTrace)
	for _, r := range routes {
		traces[r.RouteID] = models.ProofTrace{RouteID: r.RouteID}
	}
	// DELETE is covered by middleware
	del := traces[routes[2].RouteID]
	del.MiddlewareCovered = true
	traces[routes[2].RouteID] = del

	return &Input{
		Routes:     routes,
		Middleware: []models.MiddlewareFacts{{File: "middleware.ts", Matchers: []string{"/api/users/:path*"}}},
		Traces:     traces,
		Cache:      parser.NewCache(root, 0, zap.NewNop()),
		Table:      signatures.DefaultTable(),
	}
}

func titles(findings []models.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Title
	}
	return out
}

func TestBuiltinPacks(t *testing.T) {
	tests := []struct {
		pack RulePack
		want []string
	}{
		{NewAuthPack(), []string{
			"POST /api/users has no proven authentication",
			"POST /api/login has no proven authentication",
			"POST /api/otp/verify has no proven authentication",
		}},
		{NewValidationPack(), []string{
			"POST /api/users uses the request body without validation",
			"POST /api/login uses the request body without validation",
		}},
		{NewMiddlewarePack(), []string{
			"POST /api/login is outside every middleware matcher",
			"POST /api/otp/verify is outside every middleware matcher",
		}},
		{NewRateLimitPack(), []string{
			"POST /api/login accepts credentials without rate limiting",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.pack.Name(), func(t *testing.T) {
			findings, err := tt.pack.Run(context.Background(), fixtureInput(t))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got := titles(findings)
			if len(got) != len(tt.want) {
				t.Fatalf("Run() titles = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("title[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAuthPack_FindingShape(t *testing.T) {
	in := fixtureInput(t)
	findings, err := NewAuthPack().Run(context.Background(), in)
	if err != nil || len(findings) == 0 {
		t.Fatalf("Run() = %v, %v", findings, err)
	}

	f := findings[0]
	if f.RuleID != RuleMissingAuth || f.Severity != models.SeverityHigh || f.Category != models.CategoryAuth {
		t.Errorf("unexpected classification: %+v", f)
	}
	if f.Symbol != "POST /api/users" {
		t.Errorf("Symbol = %q", f.Symbol)
	}
	if len(f.Evidence) != 1 || f.Evidence[0].StartLine != 7 || f.Evidence[0].Snippet != "export async function POST(req: Request) {" {
		t.Errorf("Evidence = %+v", f.Evidence)
	}
}

func TestValidationPack_ProvenSkipped(t *testing.T) {
	in := fixtureInput(t)
	for id, tr := range in.Traces {
		tr.ValidationProven = true
		in.Traces[id] = tr
	}
	findings, err := NewValidationPack().Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("Run() = %q, want none", titles(findings))
	}
}
