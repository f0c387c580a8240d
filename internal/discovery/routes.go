// Package discovery finds the routes and middleware of a Next.js style
// source tree.
package discovery

import (
	"context"
	"sort"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/internal/identity"
	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	regexp "github.com/wasilibs/go-re2"
	"go.uber.org/zap"
)

// MethodAll marks a pages-router handler that serves every method
const MethodAll = "ALL"

// HTTPMethods lists the handler exports recognized in app-router files
var HTTPMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

var (
	appRouteRe  = regexp.MustCompile(`^(?:src/)?app/(?:(.*)/)?route\.(?:ts|tsx|js|jsx|mjs)$`)
	pagesAPIRe  = regexp.MustCompile(`^(?:src/)?pages/(api(?:/.*)?)\.(?:ts|tsx|js|jsx|mjs)$`)
	reqMethodRe = regexp.MustCompile(`\.method\s*[!=]==?\s*['"]([A-Z]+)['"]|\bcase\s+['"]([A-Z]+)['"]\s*:`)
)

// Discoverer extracts routes and middleware facts through a parse cache
type Discoverer struct {
	cache  *parser.Cache
	logger *zap.Logger
}

// NewDiscoverer creates a discoverer reading through cache
func NewDiscoverer(cache *parser.Cache, logger *zap.Logger) *Discoverer {
	return &Discoverer{cache: cache, logger: logger}
}

// Discover inspects the given repo-relative files. Files that fail to parse
// are skipped. Output is sorted by path, method and file.
func (d *Discoverer) Discover(ctx context.Context, files []string) ([]models.Route, []models.MiddlewareFacts) {
	routes := []models.Route{}
	middleware := []models.MiddlewareFacts{}

	for _, rel := range files {
		if ctx.Err() != nil {
			break
		}
		rel = identity.NormalizePath(rel)
		switch {
		case IsMiddlewareFile(rel):
			src := d.cache.Get(ctx, rel)
			if src == nil {
				d.logger.Debug("Skipping unparsable middleware", zap.String("file", rel))
				continue
			}
			middleware = append(middleware, models.MiddlewareFacts{File: rel, Matchers: ExtractMatchers(src.Code)})
		default:
			routePath, kind := RoutePath(rel)
			if kind == "" {
				continue
			}
			src := d.cache.Get(ctx, rel)
			if src == nil {
				d.logger.Debug("Skipping unparsable route file", zap.String("file", rel))
				continue
			}
			if kind == RouterApp {
				routes = append(routes, appRoutes(rel, routePath, src)...)
			} else {
				routes = append(routes, pagesRoutes(rel, routePath, src)...)
			}
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		return a.File < b.File
	})
	sort.Slice(middleware, func(i, j int) bool { return middleware[i].File < middleware[j].File })

	d.logger.Debug("Discovery complete",
		zap.Int("routes", len(routes)),
		zap.Int("middleware", len(middleware)))
	return routes, middleware
}

// Router names the file convention a route was discovered through
type Router string

const (
	RouterApp   Router = "app"
	RouterPages Router = "pages"
)

// RoutePath maps a file to its URL path and router kind. The kind is empty
// for files that do not define routes.
func RoutePath(rel string) (string, Router) {
	if m := appRouteRe.FindStringSubmatch(rel); m != nil {
		return urlPath(m[1]), RouterApp
	}
	if m := pagesAPIRe.FindStringSubmatch(rel); m != nil {
		p := strings.TrimSuffix(m[1], "/index")
		return urlPath(p), RouterPages
	}
	return "", ""
}

// urlPath converts directory segments into a route path: groups and
// parallel-route slots vanish, [id] becomes :id, [...slug] and
// [[...slug]] become :slug*.
func urlPath(dir string) string {
	var parts []string
	for _, seg := range strings.Split(dir, "/") {
		switch {
		case seg == "":
			continue
		case strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")"):
			continue
		case strings.HasPrefix(seg, "@"):
			continue
		case strings.HasPrefix(seg, "[[...") && strings.HasSuffix(seg, "]]"):
			parts = append(parts, ":"+seg[5:len(seg)-2]+"*")
		case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
			parts = append(parts, ":"+seg[4:len(seg)-1]+"*")
		case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			parts = append(parts, ":"+seg[1:len(seg)-1])
		default:
			parts = append(parts, seg)
		}
	}
	return "/" + strings.Join(parts, "/")
}

func appRoutes(rel, routePath string, src *parser.ParsedSource) []models.Route {
	exported := make(map[string]bool)
	for _, name := range src.ExportedNames() {
		exported[name] = true
	}
	var out []models.Route
	for _, method := range HTTPMethods {
		if !exported[method] {
			continue
		}
		fn := src.Function(method)
		if fn == nil {
			continue
		}
		out = append(out, newRoute(method, routePath, rel, fn))
	}
	return out
}

func pagesRoutes(rel, routePath string, src *parser.ParsedSource) []models.Route {
	fn := src.DefaultExport()
	if fn == nil {
		return nil
	}
	methods := HandledMethods(fn.Code())
	if len(methods) == 0 {
		methods = []string{MethodAll}
	}
	out := make([]models.Route, 0, len(methods))
	for _, method := range methods {
		r := newRoute(method, routePath, rel, fn)
		r.Handler = parser.DefaultExportName
		out = append(out, r)
	}
	return out
}

func newRoute(method, routePath, rel string, fn *parser.Function) models.Route {
	return models.Route{
		RouteID:   identity.RouteID(method, routePath, rel),
		Method:    method,
		Path:      routePath,
		File:      rel,
		StartLine: fn.StartLine,
		EndLine:   fn.EndLine,
		Handler:   fn.Name,
	}
}

// HandledMethods returns the HTTP methods a pages-router handler compares
// req.method against, in canonical order
func HandledMethods(lines []string) []string {
	found := make(map[string]bool)
	for _, line := range lines {
		for _, m := range reqMethodRe.FindAllStringSubmatch(line, -1) {
			found[m[1]+m[2]] = true
		}
	}
	var out []string
	for _, method := range HTTPMethods {
		if found[method] {
			out = append(out, method)
		}
	}
	return out
}
