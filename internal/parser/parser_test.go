package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const appRoute = `import { NextResponse } from "next/server";
import { getServerSession } from "next-auth";
import { z } from 'zod';
import db, { users as usersTable } from "@/lib/db";
import type { User } from "./types";
import "./side-effect";

const schema = z.object({ name: z.string() });

// export async function DELETE() {}
export async function GET(req: Request, { params }: { params: { id: string } }) {
  const session = await getServerSession();
  return NextResponse.json({ ok: true, msg: ` + "`hello ${session?.user?.name ?? \"}\"}`" + ` });
}

export const POST = async (req: Request) => {
  const body = schema.parse(await req.json());
  if (body.name === "}") {
    return NextResponse.json({ error: "bad" }, { status: 400 });
  }
  return NextResponse.json(body);
};

export const dynamic = "force-dynamic";
`

func TestParseAppRoute(t *testing.T) {
	src, err := Parse("app/api/users/route.ts", []byte(appRoute))
	require.NoError(t, err)

	var specs []string
	for _, imp := range src.Imports {
		specs = append(specs, imp.Specifier)
	}
	assert.Equal(t, []string{"next/server", "next-auth", "zod", "@/lib/db", "./types", "./side-effect"}, specs)
	assert.Equal(t, []string{"db", "usersTable"}, src.Imports[3].Names)
	assert.True(t, src.Imports[4].TypeOnly)
	assert.Empty(t, src.Imports[5].Names)
	assert.Equal(t, 4, src.Imports[3].Line)

	assert.Equal(t, []string{"GET", "POST"}, src.ExportedNames())
	assert.Nil(t, src.Function("DELETE"), "commented-out function must not be found")

	get := src.Function("GET")
	require.NotNil(t, get)
	assert.Equal(t, 11, get.StartLine)
	assert.Equal(t, 14, get.EndLine)
	assert.Contains(t, get.Lines[1].Code, "getServerSession")

	post := src.Function("POST")
	require.NotNil(t, post)
	assert.Equal(t, 16, post.StartLine)
	assert.Equal(t, 22, post.EndLine)
	assert.True(t, post.Exported)

	assert.Nil(t, src.Function("dynamic"))
}

const pagesRoute = `// pages/api/user.js
const { withAuth } = require("../../lib/auth");

async function handler(req, res) {
  if (req.method === "POST") {
    return res.status(201).json({});
  }
  res.json([]);
}

export default withAuth(handler);
`

func TestParseDefaultAlias(t *testing.T) {
	src, err := Parse("pages/api/user.js", []byte(pagesRoute))
	require.NoError(t, err)

	require.Len(t, src.Imports, 1)
	assert.Equal(t, "../../lib/auth", src.Imports[0].Specifier)
	assert.Equal(t, 2, src.Imports[0].Line)

	def := src.DefaultExport()
	require.NotNil(t, def)
	assert.True(t, def.Default)
	assert.Equal(t, 4, def.StartLine)
	last := def.Lines[len(def.Lines)-1]
	assert.Equal(t, 11, last.No)
	assert.Contains(t, last.Code, "withAuth(handler)")

	handler := src.Function("handler")
	require.NotNil(t, handler)
	assert.False(t, handler.Exported)
}

func TestParseDefaultFunction(t *testing.T) {
	src, err := Parse("pages/api/a.ts", []byte("export default async function handler(req, res) {\n  res.end()\n}\n"))
	require.NoError(t, err)

	def := src.DefaultExport()
	require.NotNil(t, def)
	assert.Equal(t, "handler", def.Name)
	assert.Equal(t, 1, def.StartLine)
	assert.Equal(t, 3, def.EndLine)
	assert.Len(t, src.Functions, 1)
}

func TestParseExportList(t *testing.T) {
	code := "function handle(req) {\n  return new Response('x')\n}\nexport { handle as GET, handle as HEAD }\n"
	src, err := Parse("app/x/route.ts", []byte(code))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"GET", "HEAD"}, src.ExportedNames())
	get := src.Function("GET")
	require.NotNil(t, get)
	assert.Equal(t, "GET", get.Name)
	assert.Equal(t, 4, get.Lines[len(get.Lines)-1].No)
}

func TestParseRegexAndStrings(t *testing.T) {
	code := "const re = /[{]/g;\nconst s = '{';\nconst t = `${'}'}`;\nexport function f(a) { return a / 2 / 1; }\n"
	src, err := Parse("lib/x.ts", []byte(code))
	require.NoError(t, err)

	f := src.Function("f")
	require.NotNil(t, f)
	assert.Equal(t, 4, f.StartLine)
	assert.Equal(t, 4, f.EndLine)
}

func TestParseMaskedLines(t *testing.T) {
	code := "export function f(x) {\n  log(\"getSession() ok\"); // auth()\n  return `id ${x.id}`;\n}\n"
	src, err := Parse("lib/x.ts", []byte(code))
	require.NoError(t, err)

	f := src.Function("f")
	require.NotNil(t, f)
	require.Len(t, f.Lines, 4)
	assert.Equal(t, `  log("getSession() ok"); // auth()`, f.Lines[1].Text)
	assert.Equal(t, `  log("getSession() ok"); `+strings.Repeat(" ", len("// auth()")), f.Lines[1].Code)
	assert.NotContains(t, f.Masked()[1], "getSession")
	assert.Contains(t, f.Masked()[2], "x.id")
	assert.NotContains(t, f.Masked()[2], "`id")
}

func TestParseUnparsable(t *testing.T) {
	tests := map[string]string{
		"unbalanced open":  "export function f() {\n",
		"unbalanced close": "}\n",
		"open comment":     "/* never closed\nexport function f() {}\n",
		"open template":    "const s = `abc\n",
		"nul byte":         "export const a = 1;\x00",
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("bad.ts", []byte(code))
			assert.True(t, errors.Is(err, ErrUnparsable), "got %v", err)
		})
	}
}

func TestParseMultilineImport(t *testing.T) {
	code := "import {\n  a,\n  b as c,\n} from './mod';\nexport * from \"./all\";\nconst lazy = () => import('./lazy');\n"
	src, err := Parse("x.ts", []byte(code))
	require.NoError(t, err)

	require.Len(t, src.Imports, 3)
	assert.Equal(t, "./mod", src.Imports[0].Specifier)
	assert.Equal(t, []string{"a", "c"}, src.Imports[0].Names)
	assert.Equal(t, "./all", src.Imports[1].Specifier)
	assert.Equal(t, "./lazy", src.Imports[2].Specifier)
	assert.Equal(t, 6, src.Imports[2].Line)
}

func TestCache(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "auth.ts"), []byte("export function requireUser() {\n  return 1\n}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "broken.ts"), []byte("export function x() {\n"), 0644))

	c := NewCache(root, 0, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ParsedSource, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(ctx, "./lib/auth.ts")
		}(i)
	}
	wg.Wait()
	require.NotNil(t, results[0])
	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	assert.Nil(t, c.Get(ctx, "lib/broken.ts"))
	assert.Nil(t, c.Get(ctx, "lib/missing.ts"))
	assert.Equal(t, 3, c.Len())

	assert.True(t, c.Exists("lib/auth.ts"))
	assert.False(t, c.Exists("lib"))
	assert.False(t, c.Exists("lib/missing.ts"))
}

func TestCacheCancelled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.ts"), []byte("export const a = 1\n"), 0644))

	c := NewCache(root, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, c.Get(ctx, "a.ts"))
	assert.Equal(t, 0, c.Len(), "cancelled lookups are not remembered")
	assert.NotNil(t, c.Get(context.Background(), "a.ts"))
}

func TestCacheCancelledLeader(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.ts"), []byte("export const a = 1\n"), 0644))

	c := NewCache(root, 0, zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.read = func(ctx context.Context, key string) *ParsedSource {
		once.Do(func() {
			close(started)
			<-release
		})
		return c.load(ctx, key)
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var leader, waiter *ParsedSource
	wg.Add(2)
	go func() {
		defer wg.Done()
		leader = c.Get(leaderCtx, "a.ts")
	}()
	<-started
	go func() {
		defer wg.Done()
		waiter = c.Get(context.Background(), "a.ts")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)
	wg.Wait()

	assert.Nil(t, leader)
	require.NotNil(t, waiter, "a live caller must not inherit another caller's cancellation")
	assert.Equal(t, 1, c.Len())
}

func TestCachePut(t *testing.T) {
	c := NewCache(t.TempDir(), 0, zap.NewNop())
	src := c.Put("app/route.ts", []byte("export function GET() {}\n"))
	require.NotNil(t, src)
	assert.Same(t, src, c.Get(context.Background(), "app/route.ts"))
	assert.True(t, c.Exists("app/route.ts"))
}
