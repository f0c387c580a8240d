package prooftrace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantracode/VibeCheck-sub002/internal/identity"
	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/signatures"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

var fixture = map[string]string{
	"app/api/users/route.ts": `import { NextResponse } from "next/server";
import { checkAccess } from "./access";

export async function POST(req: Request) {
  await checkAccess();
  const body = schema.parse(await req.json());
  return NextResponse.json(body);
}

export async function PUT(req: Request) {
  const body = schema.parse(await req.json());
  return NextResponse.json({ ok: true });
}
`,
	"app/api/users/access.ts": `import { getServerSession } from "next-auth";

export async function checkAccess() {
  const session = await getServerSession();
  if (!session) throw new Error("unauthorized");
}
`,
	"app/api/deep/route.ts": `import { a } from "@/lib/a";
export async function GET() {
  return a();
}
`,
	"app/api/two/route.ts": `import { b } from "@/lib/b";
export async function GET() {
  return b();
}
`,
	"lib/a.ts": `import { b } from "./b";
export function a() {
  return b();
}
`,
	"lib/b.ts": `import { c } from "./c";
export function b() {
  return c();
}
`,
	"lib/c.ts": `export async function c() {
  return getServerSession();
}
`,
	"app/api/cycle/route.ts": `import { x } from "@/lib/x";
export async function GET() {
  return x();
}
`,
	"lib/x.ts": `import { y } from "./y";
export function x() {
  return y();
}
`,
	"lib/y.ts": `import { x } from "./x";
export function y() {
  return x();
}
`,
	"app/api/notes/route.ts": `export async function POST(req: Request) {
  console.log("TODO: call getServerSession() here");
  const data = schema.parse(await req.json());
  return Response.json({ msg: "data ok" });
}

export async function PATCH(req: Request) {
  const data = schema.parse(await req.json());
  return new Response(` + "`saved ${data.title}`" + `);
}
`,
	"app/api/broken/route.ts": "export async function GET() {\n",
	"pages/api/legacy.ts": `export default async function handler(req, res) {
  const session = await getSession({ req });
  res.json({ session });
}
`,
}

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range fixture {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	root := writeFixture(t)
	cache := parser.NewCache(root, 0, zap.NewNop())
	return NewBuilder(cache, signatures.DefaultTable(), 4, zap.NewNop(), noop.NewTracerProvider().Tracer("test"))
}

func route(method, path, file string) models.Route {
	return models.Route{
		RouteID: identity.RouteID(method, path, file),
		Method:  method,
		Path:    path,
		File:    file,
	}
}

var apiMiddleware = []models.MiddlewareFacts{{File: "middleware.ts", Matchers: []string{"/api/:path*"}}}

func TestBuildTrace_DirectAndImported(t *testing.T) {
	b := newBuilder(t)
	r := route("POST", "/api/users", "app/api/users/route.ts")

	tr := b.BuildTrace(context.Background(), r, apiMiddleware)

	assert.Equal(t, r.RouteID, tr.RouteID)
	assert.True(t, tr.AuthProven)
	assert.True(t, tr.ValidationProven)
	assert.True(t, tr.MiddlewareCovered)

	require.Len(t, tr.Steps, 4)
	assert.Equal(t, "app/api/users/route.ts", tr.Steps[0].File)
	assert.Equal(t, 6, tr.Steps[0].Line)
	assert.Contains(t, tr.Steps[0].Label, LabelValidation)

	assert.Equal(t, "app/api/users/route.ts", tr.Steps[1].File)
	assert.Equal(t, 2, tr.Steps[1].Line)
	assert.Equal(t, "import: app/api/users/access.ts", tr.Steps[1].Label)

	assert.Equal(t, "app/api/users/access.ts", tr.Steps[2].File)
	assert.Equal(t, 4, tr.Steps[2].Line)
	assert.Contains(t, tr.Steps[2].Label, LabelAuth)
	assert.Equal(t, "const session = await getServerSession();", tr.Steps[2].Snippet)

	assert.Equal(t, "middleware.ts", tr.Steps[3].File)
	assert.Equal(t, "/api/:path*", tr.Steps[3].Snippet)
}

func TestBuildTrace_UnusedParse(t *testing.T) {
	b := newBuilder(t)
	tr := b.BuildTrace(context.Background(), route("PUT", "/api/users", "app/api/users/route.ts"), nil)

	assert.False(t, tr.ValidationProven)
	// imports are followed regardless of which export uses them
	assert.True(t, tr.AuthProven)
	assert.False(t, tr.MiddlewareCovered)
}

func TestBuildTrace_StringLiteralsProveNothing(t *testing.T) {
	b := newBuilder(t)

	tr := b.BuildTrace(context.Background(), route("POST", "/api/notes", "app/api/notes/route.ts"), nil)
	assert.False(t, tr.AuthProven, "an auth call named inside a string is not a call")
	assert.False(t, tr.ValidationProven, "a parse result named only inside a string is unused")
	assert.Empty(t, tr.Steps)

	tr = b.BuildTrace(context.Background(), route("PATCH", "/api/notes", "app/api/notes/route.ts"), nil)
	assert.True(t, tr.ValidationProven, "template substitutions are code")
	require.Len(t, tr.Steps, 1)
	assert.Equal(t, "const data = schema.parse(await req.json());", tr.Steps[0].Snippet)
}

func TestBuildTrace_DepthBound(t *testing.T) {
	b := newBuilder(t)

	deep := b.BuildTrace(context.Background(), route("GET", "/api/deep", "app/api/deep/route.ts"), nil)
	assert.False(t, deep.AuthProven, "auth three imports away is out of reach")

	two := b.BuildTrace(context.Background(), route("GET", "/api/two", "app/api/two/route.ts"), nil)
	assert.True(t, two.AuthProven)
	require.Len(t, two.Steps, 3)
	assert.Equal(t, "import: lib/b.ts", two.Steps[0].Label)
	assert.Equal(t, "import: lib/c.ts", two.Steps[1].Label)
	assert.Equal(t, "lib/c.ts", two.Steps[2].File)
	assert.Equal(t, 2, two.Steps[2].Line)
}

func TestBuildTrace_ImportCycle(t *testing.T) {
	b := newBuilder(t)
	tr := b.BuildTrace(context.Background(), route("GET", "/api/cycle", "app/api/cycle/route.ts"), nil)

	assert.False(t, tr.AuthProven)
	assert.False(t, tr.ValidationProven)
	assert.Empty(t, tr.Steps)
}

func TestBuildTrace_Degraded(t *testing.T) {
	b := newBuilder(t)

	tests := map[string]models.Route{
		"unparsable file": route("GET", "/api/broken", "app/api/broken/route.ts"),
		"missing file":    route("GET", "/api/none", "app/api/none/route.ts"),
		"missing handler": route("DELETE", "/api/users", "app/api/users/route.ts"),
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			tr := b.BuildTrace(context.Background(), r, apiMiddleware)
			assert.Equal(t, r.RouteID, tr.RouteID)
			assert.False(t, tr.AuthProven)
			assert.False(t, tr.ValidationProven)
			assert.False(t, tr.MiddlewareCovered)
			assert.NotNil(t, tr.Steps)
			assert.Empty(t, tr.Steps)
		})
	}
}

func TestBuildTrace_DefaultExport(t *testing.T) {
	b := newBuilder(t)
	tr := b.BuildTrace(context.Background(), route("ALL", "/api/legacy", "pages/api/legacy.ts"), nil)

	assert.True(t, tr.AuthProven)
	require.Len(t, tr.Steps, 1)
	assert.Equal(t, 2, tr.Steps[0].Line)
}

func TestBuildAll(t *testing.T) {
	b := newBuilder(t)
	routes := []models.Route{
		route("POST", "/api/users", "app/api/users/route.ts"),
		route("PUT", "/api/users", "app/api/users/route.ts"),
		route("GET", "/api/deep", "app/api/deep/route.ts"),
		route("GET", "/api/two", "app/api/two/route.ts"),
		route("GET", "/api/cycle", "app/api/cycle/route.ts"),
		route("GET", "/api/broken", "app/api/broken/route.ts"),
	}

	first, err := b.BuildAll(context.Background(), routes, apiMiddleware)
	require.NoError(t, err)
	require.Len(t, first, len(routes))

	second, err := b.BuildAll(context.Background(), routes, apiMiddleware)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, r := range routes {
		assert.Equal(t, b.BuildTrace(context.Background(), r, apiMiddleware), first[r.RouteID])
	}
}

func TestBuildAll_Cancelled(t *testing.T) {
	b := newBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.BuildAll(ctx, []models.Route{route("GET", "/api/two", "app/api/two/route.ts")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveImport(t *testing.T) {
	files := map[string]bool{
		"lib/auth.ts":          true,
		"lib/db/index.ts":      true,
		"src/lib/session.tsx":  true,
		"app/api/x/helpers.js": true,
		"lib/legacy.cjs":       true,
	}
	exists := func(p string) bool { return files[p] }

	tests := []struct {
		from, specifier string
		want       string
		ok         bool
	}{
		{"app/api/x/route.ts", "../../../lib/auth", "lib/auth.ts", true},
		{"app/api/x/route.ts", "./helpers", "app/api/x/helpers.js", true},
		{"app/api/x/route.ts", "@/lib/db", "lib/db/index.ts", true},
		{"app/api/x/route.ts", "~/lib/auth", "lib/auth.ts", true},
		{"src/app/route.ts", "@/lib/session", "src/lib/session.tsx", true},
		{"lib/auth.ts", "./legacy", "lib/legacy.cjs", true},
		{"lib/auth.ts", "./auth.ts", "lib/auth.ts", true},
		{"app/api/x/route.ts", "next/server", "", false},
		{"app/api/x/route.ts", "./missing", "", false},
		{"lib/auth.ts", "../../outside", "", false},
	}
	for _, tt := range tests {
		got, ok := ResolveImport(exists, tt.from, tt.specifier)
		assert.Equal(t, tt.ok, ok, "ResolveImport(%q, %q)", tt.from, tt.specifier)
		assert.Equal(t, tt.want, got, "ResolveImport(%q, %q)", tt.from, tt.specifier)
	}
}

func TestMatcherCovers(t *testing.T) {
	tests := []struct {
		matcher string
		path    string
		want    bool
	}{
		{"/api/:path*", "/api/users", true},
		{"/api/:path*", "/api", true},
		{"/api/:path*", "/apiary", false},
		{"/api/:path*", "/dashboard", false},
		{"/api/*", "/api/users/:id", true},
		{"/api/users/:id", "/api/users/:id", true},
		{"/api/users/:id", "/api/users/42/posts", true},
		{"/(api|trpc)(.*)", "/trpc/user.get", true},
		{"/(api|trpc)(.*)", "/admin", false},
		{"/dashboard", "/dashboard/settings", true},
		{"/dashboard", "/dashboardx", false},
		{"/account/:slug?", "/account", true},
		// lookahead does not compile; the literal prefix "/" is used
		{"/((?!_next/static|favicon.ico).*)", "/api/users", true},
		{"/admin((?!x).*)", "/public", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatcherCovers(tt.matcher, tt.path), "MatcherCovers(%q, %q)", tt.matcher, tt.path)
	}
}

func TestMatcherRegex_Malformed(t *testing.T) {
	_, err := MatcherRegex("/((?!api).*)")
	assert.Error(t, err)
}

func TestMiddlewareCoverage(t *testing.T) {
	facts := []models.MiddlewareFacts{
		{File: "src/middleware.ts", Matchers: []string{"/dashboard/:path*"}},
		{File: "middleware.ts", Matchers: []string{"/api/:path*"}},
	}

	file, matcher, ok := MiddlewareCoverage("/api/users", facts)
	assert.True(t, ok)
	assert.Equal(t, "middleware.ts", file)
	assert.Equal(t, "/api/:path*", matcher)

	_, _, ok = MiddlewareCoverage("/public", facts)
	assert.False(t, ok)

	file, matcher, ok = MiddlewareCoverage("/anything", []models.MiddlewareFacts{{File: "middleware.ts"}})
	assert.True(t, ok)
	assert.Equal(t, "middleware.ts", file)
	assert.Empty(t, matcher)
}
