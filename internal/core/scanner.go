package core

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantracode/VibeCheck-sub002/internal/config"
	"github.com/quantracode/VibeCheck-sub002/internal/discovery"
	"github.com/quantracode/VibeCheck-sub002/internal/filesystem"
	"github.com/quantracode/VibeCheck-sub002/internal/identity"
	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/prooftrace"
	"github.com/quantracode/VibeCheck-sub002/internal/rules"
	"github.com/quantracode/VibeCheck-sub002/internal/signatures"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Tool identity written into every artifact
const (
	ToolName    = "vibecheck"
	ToolVersion = "0.3.0"
)

// ProgressCallback is called to report scan progress
type ProgressCallback func(phase string, current, total int, message string)

// Scanner is the main scanner engine
type Scanner struct {
	config           *config.Config
	logger           *zap.Logger
	tracer           trace.Tracer
	runner           *rules.Runner
	progressCallback ProgressCallback
	now              func() time.Time
	initOnce         sync.Once
	mu               sync.Mutex
}

// NewScanner creates a new scanner instance
func NewScanner(cfg *config.Config, logger *zap.Logger, tracer trace.Tracer) *Scanner {
	return &Scanner{
		config: cfg,
		logger: logger,
		tracer: tracer,
		runner: rules.NewRunner(cfg.Workers, logger),
		now:    time.Now,
	}
}

// RegisterRulePack registers an additional rule pack
func (s *Scanner) RegisterRulePack(p rules.RulePack) {
	if !s.config.RulePackEnabled(p.Name()) {
		p.SetEnabled(false)
	}
	s.runner.Register(p)
}

// SetProgressCallback sets the progress callback function
func (s *Scanner) SetProgressCallback(cb ProgressCallback) {
	s.progressCallback = cb
}

// reportProgress calls the progress callback if set
func (s *Scanner) reportProgress(phase string, current, total int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progressCallback != nil {
		s.progressCallback(phase, current, total, message)
	}
}

// Scan walks root, traces every discovered route and runs the rule packs.
// Unreadable or unparsable files degrade the result; the only errors are
// configuration errors and cancellation.
func (s *Scanner) Scan(ctx context.Context, root string) (*models.ScanArtifact, error) {
	ctx, span := s.tracer.Start(ctx, "core.Scan", trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	start := s.now()
	s.logger.Info("Starting scan", zap.String("path", root))

	table, err := signatures.NewLoader(s.config.PatternsPath).Load()
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to load control patterns: %w", err))
	}
	s.logger.Debug("Loaded control patterns", zap.Int("count", table.Len()))

	s.initOnce.Do(func() {
		s.runner.RegisterBuiltins(s.config.RulePackEnabled)
	})

	maxSize := filesystem.ParseSize(s.config.MaxSize)
	cache := parser.NewCache(root, maxSize, s.logger)
	metrics := models.ScanMetrics{WorkersUsed: s.workers()}

	s.reportProgress("walking", 0, 0, "Collecting source files...")
	files, err := s.collectFiles(ctx, root, maxSize, &metrics)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.reportProgress("walking", len(files), len(files), fmt.Sprintf("Found %d files to parse", len(files)))

	if err := s.parseFiles(ctx, cache, files, &metrics); err != nil {
		return nil, s.fail(span, err)
	}

	s.reportProgress("discovery", 0, 0, "Discovering routes...")
	routes, middleware := discovery.NewDiscoverer(cache, s.logger).Discover(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, s.fail(span, err)
	}
	metrics.RoutesFound = len(routes)
	s.reportProgress("discovery", len(routes), len(routes), fmt.Sprintf("Found %d routes", len(routes)))

	s.reportProgress("tracing", 0, len(routes), "Building proof traces...")
	builder := prooftrace.NewBuilder(cache, table, s.config.Workers, s.logger, s.tracer)
	traces, err := builder.BuildAll(ctx, routes, middleware)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.reportProgress("tracing", len(routes), len(routes), "Proof traces complete")

	s.reportProgress("rules", 0, 0, "Running rule packs...")
	findings, ran, err := s.runner.Run(ctx, &rules.Input{
		Routes:     routes,
		Middleware: middleware,
		Traces:     traces,
		Cache:      cache,
		Table:      table,
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	metrics.RulePacksRun = ran

	identity.Assign(findings)
	identity.SortFindings(findings)
	if findings == nil {
		findings = []models.Finding{}
	}

	end := s.now()
	metrics.DurationMs = end.Sub(start).Milliseconds()
	s.reportProgress("rules", len(findings), len(findings), "Scan complete")

	artifact := &models.ScanArtifact{
		ArtifactVersion: models.ArtifactVersionCurrent,
		GeneratedAt:     end.UTC().Format(time.RFC3339),
		Tool:            models.ToolInfo{Name: ToolName, Version: ToolVersion},
		Repo:            &models.RepoInfo{Name: repoName(root), RootPath: root},
		Summary:         models.NewArtifactSummary(findings),
		Findings:        findings,
		RouteMap:        &models.RouteMap{Kind: models.MapVersioned, Version: 1, Routes: routes},
		MiddlewareMap:   &models.MiddlewareMap{Kind: models.MapVersioned, Version: 1, Middleware: middleware},
		ProofTraces:     traces,
		Metrics:         &metrics,
	}

	span.SetAttributes(
		attribute.Int("files_scanned", metrics.FilesScanned),
		attribute.Int("routes", metrics.RoutesFound),
		attribute.Int("findings", len(findings)))
	s.logger.Info("Scan completed",
		zap.Int64("duration_ms", metrics.DurationMs),
		zap.Int("files_scanned", metrics.FilesScanned),
		zap.Int("routes", metrics.RoutesFound),
		zap.Int("findings", len(findings)))

	return artifact, nil
}

func (s *Scanner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Scanner) workers() int {
	if s.config.Workers > 0 {
		return s.config.Workers
	}
	return runtime.NumCPU()
}

// collectFiles walks root and returns the repo-relative paths to parse in
// walk order
func (s *Scanner) collectFiles(ctx context.Context, root string, maxSize int64, metrics *models.ScanMetrics) ([]string, error) {
	walker := filesystem.NewWalker(s.config, s.logger)
	var files []string
	err := walker.Walk(ctx, root, func(fileInfo *models.FileInfo) error {
		extension := filesystem.GetExtension(fileInfo.Path)
		if !s.config.ShouldScanFile(extension) {
			metrics.FilesSkipped++
			return nil
		}
		if maxSize > 0 && fileInfo.Size > maxSize {
			s.logger.Debug("File too large, skipping",
				zap.String("path", fileInfo.RelativePath),
				zap.Int64("size", fileInfo.Size))
			metrics.FilesSkipped++
			return nil
		}
		files = append(files, fileInfo.RelativePath)
		return nil
	})
	return files, err
}

// parseFiles fills the cache using a bounded worker pool
func (s *Scanner) parseFiles(ctx context.Context, cache *parser.Cache, files []string, metrics *models.ScanMetrics) error {
	var processed, failed atomic.Int64
	lastReport := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metrics.WorkersUsed)
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if cache.Get(gctx, rel) == nil {
				if err := gctx.Err(); err != nil {
					return err
				}
				failed.Add(1)
			}
			n := int(processed.Add(1))

			s.mu.Lock()
			report := time.Since(lastReport) > 100*time.Millisecond || n%100 == 0
			if report {
				lastReport = time.Now()
			}
			s.mu.Unlock()
			if report {
				s.reportProgress("parsing", n, len(files), rel)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	metrics.FilesScanned = len(files)
	metrics.ParseFailures = int(failed.Load())
	s.reportProgress("parsing", len(files), len(files), "Parsing complete")
	return nil
}

func repoName(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(root)
	}
	return filepath.Base(abs)
}
