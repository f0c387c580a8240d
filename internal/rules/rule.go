// Package rules turns discovered routes and their proof traces into findings.
package rules

import (
	"context"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/prooftrace"
	"github.com/quantracode/VibeCheck-sub002/internal/signatures"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// RulePack is the interface that all rule packs must implement
type RulePack interface {
	// Name returns the pack name used to enable or disable it
	Name() string

	// Priority returns the pack priority (higher = earlier in the output)
	Priority() int

	// Run inspects the scan input and returns findings without ids
	Run(ctx context.Context, in *Input) ([]models.Finding, error)

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// Input is the read-only scan state shared by all rule packs
type Input struct {
	Routes     []models.Route
	Middleware []models.MiddlewareFacts
	Traces     map[string]models.ProofTrace
	Cache      *parser.Cache
	Table      *signatures.Table
}

// Handler returns the parsed handler of route, or nil when it cannot be read
func (in *Input) Handler(ctx context.Context, route models.Route) *parser.Function {
	if in.Cache == nil {
		return nil
	}
	src := in.Cache.Get(ctx, route.File)
	if src == nil {
		return nil
	}
	return prooftrace.FindHandler(src, route)
}

// BaseRulePack provides common functionality for rule packs
type BaseRulePack struct {
	name     string
	priority int
	enabled  bool
}

// NewBaseRulePack creates an enabled base pack
func NewBaseRulePack(name string, priority int) *BaseRulePack {
	return &BaseRulePack{
		name:     name,
		priority: priority,
		enabled:  true,
	}
}

func (p *BaseRulePack) Name() string {
	return p.name
}

func (p *BaseRulePack) Priority() int {
	return p.priority
}

func (p *BaseRulePack) IsEnabled() bool {
	return p.enabled
}

func (p *BaseRulePack) SetEnabled(enabled bool) {
	p.enabled = enabled
}

// stateChanging reports whether a request with this method can mutate state
func stateChanging(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE", "ALL":
		return true
	}
	return false
}

// acceptsBody reports whether a request with this method carries a body
func acceptsBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "ALL":
		return true
	}
	return false
}

// routeFinding fills the fields every route-scoped finding shares
func routeFinding(route models.Route, fn *parser.Function) models.Finding {
	ev := models.Evidence{
		File:      route.File,
		StartLine: route.StartLine,
		EndLine:   route.EndLine,
		Label:     "route handler",
	}
	if fn != nil && len(fn.Lines) > 0 {
		ev.Snippet = strings.TrimSpace(fn.Lines[0].Text)
	}
	return models.Finding{
		Symbol:   route.Method + " " + route.Path,
		Evidence: []models.Evidence{ev},
	}
}
