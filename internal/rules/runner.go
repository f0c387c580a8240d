package rules

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes rule packs with a bounded worker pool
type Runner struct {
	packs   []RulePack
	workers int
	logger  *zap.Logger
}

// NewRunner creates a runner. workers <= 0 uses one worker per CPU.
func NewRunner(workers int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{workers: workers, logger: logger}
}

// Register adds a rule pack
func (r *Runner) Register(p RulePack) {
	r.packs = append(r.packs, p)
	r.logger.Debug("Registered rule pack",
		zap.String("name", p.Name()),
		zap.Int("priority", p.Priority()))
}

// Packs returns the registered packs in execution order
func (r *Runner) Packs() []RulePack {
	packs := append([]RulePack(nil), r.packs...)
	sort.SliceStable(packs, func(i, j int) bool {
		if packs[i].Priority() != packs[j].Priority() {
			return packs[i].Priority() > packs[j].Priority()
		}
		return packs[i].Name() < packs[j].Name()
	})
	return packs
}

// Run executes every enabled pack and concatenates their findings in pack
// order. A pack that fails or panics is logged and skipped; only
// cancellation of ctx is returned as an error.
func (r *Runner) Run(ctx context.Context, in *Input) ([]models.Finding, int, error) {
	var enabled []RulePack
	for _, p := range r.Packs() {
		if p.IsEnabled() {
			enabled = append(enabled, p)
		}
	}

	results := make([][]models.Finding, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, p := range enabled {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			findings, err := runPack(gctx, p, in)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("Rule pack failed",
					zap.String("pack", p.Name()),
					zap.Error(err))
				return nil
			}
			results[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var out []models.Finding
	for _, findings := range results {
		out = append(out, findings...)
	}
	return out, len(enabled), nil
}

func runPack(ctx context.Context, p RulePack, in *Input) (findings []models.Finding, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return p.Run(ctx, in)
}

// RegisterBuiltins registers every built-in pack the enabled func accepts
func (r *Runner) RegisterBuiltins(enabled func(name string) bool) {
	for _, p := range Builtins() {
		if enabled != nil && !enabled(p.Name()) {
			p.SetEnabled(false)
		}
		r.Register(p)
	}
}

// Builtins returns fresh instances of the built-in packs
func Builtins() []RulePack {
	return []RulePack{
		NewAuthPack(),
		NewValidationPack(),
		NewMiddlewarePack(),
		NewRateLimitPack(),
	}
}
