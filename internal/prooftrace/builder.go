// Package prooftrace decides, per route, whether an authentication check
// and input validation are reachable from the route handler.
package prooftrace

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/signatures"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxDepth bounds import recursion: 0 is the handler, 1 its direct
// imports, 2 the imports of those.
const MaxDepth = 2

// Step labels
const (
	LabelAuth       = "auth"
	LabelValidation = "validation"
	LabelImport     = "import"
	LabelMiddleware = "middleware"
)

// Builder builds proof traces over one source tree
type Builder struct {
	cache   *parser.Cache
	table   *signatures.Table
	workers int
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewBuilder creates a proof-trace builder. workers <= 0 uses one worker
// per CPU.
func NewBuilder(cache *parser.Cache, table *signatures.Table, workers int, logger *zap.Logger, tracer trace.Tracer) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Builder{
		cache:   cache,
		table:   table,
		workers: workers,
		logger:  logger,
		tracer:  tracer,
	}
}

// BuildAll traces every route with a bounded worker pool. Output does not
// depend on scheduling. The only error is cancellation of ctx.
func (b *Builder) BuildAll(ctx context.Context, routes []models.Route, middleware []models.MiddlewareFacts) (map[string]models.ProofTrace, error) {
	ctx, span := b.tracer.Start(ctx, "prooftrace.BuildAll",
		trace.WithAttributes(attribute.Int("route_count", len(routes)), attribute.Int("workers", b.workers)))
	defer span.End()

	results := make([]models.ProofTrace, len(routes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range routes {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.BuildTrace(gctx, routes[i], middleware)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	traces := make(map[string]models.ProofTrace, len(routes))
	for i, r := range routes {
		traces[r.RouteID] = results[i]
	}
	return traces, nil
}

// BuildTrace traces a single route. Unreadable or unparsable handler files
// and routes without a located handler give an all-false trace.
func (b *Builder) BuildTrace(ctx context.Context, route models.Route, middleware []models.MiddlewareFacts) models.ProofTrace {
	result := models.ProofTrace{RouteID: route.RouteID, Steps: []models.ProofStep{}}

	src := b.cache.Get(ctx, route.File)
	if src == nil {
		b.logger.Debug("Handler file unavailable", zap.String("route", route.RouteID), zap.String("file", route.File))
		return result
	}
	handler := FindHandler(src, route)
	if handler == nil {
		b.logger.Debug("Handler not located", zap.String("route", route.RouteID), zap.String("file", route.File))
		return result
	}

	t := &tracer{
		b:       b,
		ctx:     ctx,
		visited: map[string]int{src.Path: 0},
		seen:    make(map[string]bool),
	}
	t.scan(src.Path, []*parser.Function{handler}, nil)
	if !t.done() {
		t.walk(src, 1, nil)
	}

	result.AuthProven = t.auth
	result.ValidationProven = t.validation
	if file, matcher, ok := MiddlewareCoverage(route.Path, middleware); ok {
		result.MiddlewareCovered = true
		label := LabelMiddleware + ": all paths"
		if matcher != "" {
			label = fmt.Sprintf("%s: %s", LabelMiddleware, matcher)
		}
		t.add(models.ProofStep{File: file, Snippet: matcher, Label: label})
	}
	result.Steps = append(result.Steps, t.steps...)
	return result
}

// FindHandler locates the function serving route: an explicit handler
// name, then the export named after the method, then the default export.
func FindHandler(src *parser.ParsedSource, route models.Route) *parser.Function {
	if route.Handler != "" {
		if f := src.Function(route.Handler); f != nil {
			return f
		}
	}
	if route.Method != "" && route.Method != "ALL" {
		if f := src.Function(strings.ToUpper(route.Method)); f != nil {
			return f
		}
	}
	return src.DefaultExport()
}

// tracer is the state of one route trace
type tracer struct {
	b          *Builder
	ctx        context.Context
	auth       bool
	validation bool
	visited    map[string]int // file -> shallowest depth scanned
	seen       map[string]bool
	steps      []models.ProofStep
}

func (t *tracer) done() bool {
	return t.auth && t.validation
}

func (t *tracer) add(step models.ProofStep) {
	key := fmt.Sprintf("%s:%d:%s", step.File, step.Line, step.Label)
	if t.seen[key] {
		return
	}
	t.seen[key] = true
	t.steps = append(t.steps, step)
}

// scan checks fns for the properties still unproven. hops is the import
// chain that led to file.
func (t *tracer) scan(file string, fns []*parser.Function, hops []models.ProofStep) {
	table := t.b.table
	for _, fn := range fns {
		if t.done() {
			return
		}
		code := fn.Masked()
		if !t.auth {
			if m, ok := table.FindAuth(code, 0); ok {
				t.auth = true
				t.prove(file, fn, m, LabelAuth, hops)
			}
		}
		if !t.validation {
			if m, ok := table.FindValidation(code, 0); ok {
				t.validation = true
				t.prove(file, fn, m, LabelValidation, hops)
			}
		}
	}
}

func (t *tracer) prove(file string, fn *parser.Function, m signatures.Match, label string, hops []models.ProofStep) {
	for _, hop := range hops {
		t.add(hop)
	}
	line := fn.Lines[m.Line]
	t.add(models.ProofStep{
		File:    file,
		Line:    line.No,
		Snippet: strings.TrimSpace(line.Text),
		Label:   fmt.Sprintf("%s: %s in %s", label, m.PatternID, fn.Name),
	})
}

// walk follows the imports of src in source order
func (t *tracer) walk(src *parser.ParsedSource, depth int, hops []models.ProofStep) {
	for _, imp := range src.Imports {
		if t.done() || t.ctx.Err() != nil {
			return
		}
		if imp.TypeOnly {
			continue
		}
		target, ok := ResolveImport(t.b.cache.Exists, src.Path, imp.Specifier)
		if !ok {
			continue
		}
		if d, seen := t.visited[target]; seen && d <= depth {
			continue
		}
		t.visited[target] = depth

		mod := t.b.cache.Get(t.ctx, target)
		if mod == nil {
			continue
		}

		snippet := ""
		if imp.Line > 0 && imp.Line <= len(src.Lines) {
			snippet = strings.TrimSpace(src.Lines[imp.Line-1])
		}
		chain := make([]models.ProofStep, len(hops), len(hops)+1)
		copy(chain, hops)
		chain = append(chain, models.ProofStep{
			File:    src.Path,
			Line:    imp.Line,
			Snippet: snippet,
			Label:   fmt.Sprintf("%s: %s", LabelImport, target),
		})

		t.scan(target, mod.Functions, chain)
		if depth < MaxDepth && !t.done() {
			t.walk(mod, depth+1, chain)
		}
	}
}
