package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantracode/VibeCheck-sub002/internal/artifact"
	"github.com/quantracode/VibeCheck-sub002/internal/config"
	"github.com/quantracode/VibeCheck-sub002/internal/core"
	"github.com/quantracode/VibeCheck-sub002/internal/policy"
	"github.com/quantracode/VibeCheck-sub002/internal/report"
	"github.com/quantracode/VibeCheck-sub002/internal/watch"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const defaultArtifactPath = ".vibecheck/artifact.json"

// scanFlags are the flags shared by every command that runs a scan
type scanFlags struct {
	workers    int
	maxSize    string
	extensions []string
	exclude    []string
	patterns   string
	rulePacks  []string
	disable    []string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Number of worker goroutines (default: CPU cores)")
	cmd.Flags().StringVar(&f.maxSize, "max-size", "", "Maximum file size to parse (default: 1M)")
	cmd.Flags().StringSliceVar(&f.extensions, "extensions", nil, "File extensions to parse (comma-separated)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Directories to exclude (comma-separated)")
	cmd.Flags().StringVar(&f.patterns, "patterns", "", "Directory of extra control-pattern YAML files")
	cmd.Flags().StringSliceVar(&f.rulePacks, "rule-packs", nil, "Enable only these rule packs (comma-separated)")
	cmd.Flags().StringSliceVar(&f.disable, "disable", nil, "Disable rule packs (comma-separated)")
}

// apply overrides config with CLI flags
func (f *scanFlags) apply(cfg *config.Config) {
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.maxSize != "" {
		cfg.MaxSize = f.maxSize
	}
	if len(f.extensions) > 0 {
		cfg.Extensions = f.extensions
	}
	if len(f.exclude) > 0 {
		cfg.Exclude = f.exclude
	}
	if f.patterns != "" {
		cfg.PatternsPath = f.patterns
	}
	if len(f.rulePacks) > 0 {
		cfg.RulePacks = f.rulePacks
	}
	if len(f.disable) > 0 {
		cfg.Disable = f.disable
	}
}

// policyFlags are the flags that select and tune the policy
type policyFlags struct {
	profile       string
	policyFile    string
	waiversFile   string
	baselineFile  string
	failOn        string
	warnOn        string
	minConfidence float64
	maxFindings   int
	maxCritical   int
	maxHigh       int
	reportFormat  string
	outputFile    string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.profile, "profile", "", "Policy profile: "+strings.Join(policy.ProfileNames(), ", "))
	cmd.Flags().StringVar(&f.policyFile, "policy", "", "YAML policy file")
	cmd.Flags().StringVar(&f.waiversFile, "waivers", "", "YAML or JSON waiver file")
	cmd.Flags().StringVar(&f.baselineFile, "baseline", "", "Baseline artifact for regression analysis")
	cmd.Flags().StringVar(&f.failOn, "fail-on", "", "Fail on findings at or above this severity")
	cmd.Flags().StringVar(&f.warnOn, "warn-on", "", "Warn on findings at or above this severity")
	cmd.Flags().Float64Var(&f.minConfidence, "min-confidence", 0, "Minimum confidence for a finding to fail the policy")
	cmd.Flags().IntVar(&f.maxFindings, "max-findings", 0, "Fail when active findings exceed this count")
	cmd.Flags().IntVar(&f.maxCritical, "max-critical", 0, "Fail when critical findings exceed this count")
	cmd.Flags().IntVar(&f.maxHigh, "max-high", 0, "Fail when high findings exceed this count")
	cmd.Flags().StringVarP(&f.reportFormat, "report", "r", "", "Report format: text, json, md, sarif (default: console output)")
	cmd.Flags().StringVarP(&f.outputFile, "output", "o", "", "Report output file path")
}

// apply overrides config with CLI flags and returns the threshold overrides
func (f *policyFlags) apply(cmd *cobra.Command, cfg *config.Config) policy.FlagOverrides {
	if f.policyFile != "" {
		cfg.PolicyFile = f.policyFile
	}
	if f.waiversFile != "" {
		cfg.WaiversFile = f.waiversFile
	}
	if f.baselineFile != "" {
		cfg.BaselineFile = f.baselineFile
	}
	if f.reportFormat != "" {
		cfg.ReportFormat = f.reportFormat
	}
	if f.outputFile != "" {
		cfg.OutputFile = f.outputFile
	}

	overrides := policy.FlagOverrides{
		Profile:        f.profile,
		FailOnSeverity: f.failOn,
		WarnOnSeverity: f.warnOn,
	}
	if cmd.Flags().Changed("min-confidence") {
		overrides.MinConfidenceForFail = &f.minConfidence
	}
	if cmd.Flags().Changed("max-findings") {
		overrides.MaxFindings = &f.maxFindings
	}
	if cmd.Flags().Changed("max-critical") {
		overrides.MaxCritical = &f.maxCritical
	}
	if cmd.Flags().Changed("max-high") {
		overrides.MaxHigh = &f.maxHigh
	}
	return overrides
}

// scanCmd creates the scan command
func scanCmd() *cobra.Command {
	var (
		flags scanFlags
		out   string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a project and write the scan artifact",
		Long:  `Discover routes and middleware, build proof traces, run rule packs and write a deterministic scan artifact.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				logger.Error("Failed to load config", zap.Error(err))
				return err
			}
			flags.apply(cfg)

			if !quiet {
				printMainBanner()
				fmt.Printf("  %sScanning:%s  %s\n\n", colorGray, colorReset, args[0])
			}
			art, err := runScan(cmd.Context(), cfg, args[0], !quiet)
			if err != nil {
				return err
			}

			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create artifact directory: %w", err)
				}
			}
			if err := artifact.Write(out, art); err != nil {
				return err
			}

			if !quiet {
				printScanSummary(art, out)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", defaultArtifactPath, "Artifact output path")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and summary output")
	return cmd
}

// evaluateCmd creates the evaluate command
func evaluateCmd() *cobra.Command {
	var flags policyFlags

	cmd := &cobra.Command{
		Use:   "evaluate [artifact]",
		Short: "Evaluate a scan artifact against a policy",
		Long: `Apply waivers, overrides and thresholds to a scan artifact, compare it with an
optional baseline and exit non-zero when the policy fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(flags.reportFormat); err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				logger.Error("Failed to load config", zap.Error(err))
				return err
			}
			overrides := flags.apply(cmd, cfg)

			path := defaultArtifactPath
			if len(args) == 1 {
				path = args[0]
			}
			art, err := artifact.Load(path)
			if err != nil {
				return err
			}

			rep, err := evaluate(cfg, art, overrides)
			if err != nil {
				return err
			}
			if err := writeReport(cfg, rep, art); err != nil {
				return err
			}
			if rep.ExitCode != 0 {
				return &exitError{code: rep.ExitCode}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// traceCmd creates the trace command
func traceCmd() *cobra.Command {
	var (
		flags scanFlags
		route string
	)

	cmd := &cobra.Command{
		Use:   "trace <path>",
		Short: "Print the proof trace of one route",
		Long:  `Scan a project and explain how authentication, validation and middleware coverage were decided for a route.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			flags.apply(cfg)

			art, err := runScan(cmd.Context(), cfg, args[0], false)
			if err != nil {
				return err
			}
			r, ok := findRoute(art.Routes(), route)
			if !ok {
				return fmt.Errorf("no route matches %q", route)
			}
			printTrace(r, art.ProofTraces[r.RouteID])
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&route, "route", "", `Route to trace: "METHOD /path", a path or a route id`)
	cmd.MarkFlagRequired("route")
	return cmd
}

// watchCmd creates the watch command
func watchCmd() *cobra.Command {
	var (
		sflags   scanFlags
		pflags   policyFlags
		out      string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Re-scan and re-evaluate whenever sources change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(pflags.reportFormat); err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			sflags.apply(cfg)
			overrides := pflags.apply(cmd, cfg)
			root := args[0]
			artifactPath := filepath.Join(root, out)

			run := func(ctx context.Context) error {
				art, err := runScan(ctx, cfg, root, false)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(artifactPath), 0755); err != nil {
					return err
				}
				if err := artifact.Write(artifactPath, art); err != nil {
					return err
				}
				rep, err := evaluate(cfg, art, overrides)
				if err != nil {
					return err
				}
				return writeReport(cfg, rep, art)
			}

			printMainBanner()
			if err := run(cmd.Context()); err != nil {
				logger.Error("Initial scan failed", zap.Error(err))
			}

			ignore := []string{artifactPath}
			if cfg.OutputFile != "" {
				ignore = append(ignore, cfg.OutputFile)
			}
			w := watch.NewWatcher(root, cfg.Exclude, ignore, run, logger)
			w.SetDebounce(debounce)
			fmt.Printf("  %sWatching %s for changes (Ctrl+C to stop)%s\n", colorGray, root, colorReset)
			return w.Run(cmd.Context())
		},
	}

	sflags.register(cmd)
	pflags.register(cmd)
	cmd.Flags().StringVar(&out, "out", defaultArtifactPath, "Artifact path, relative to the watched root")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a re-scan")
	return cmd
}

// profilesCmd creates the profiles command
func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List built-in policy profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range policy.ProfileNames() {
				p, err := policy.Profile(name)
				if err != nil {
					return err
				}
				marker := " "
				if name == policy.DefaultProfile {
					marker = "*"
				}
				t := p.Thresholds
				fmt.Printf("%s %s%-16s%s fail on %s%-8s%s warn on %-8s min confidence %.1f\n",
					marker, colorBold, name, colorReset, colorCyan, t.FailOnSeverity, colorReset, t.WarnOnSeverity, t.MinConfidenceForFail)
			}
			return nil
		},
	}
}

// runScan runs one scan with the configured rule packs
func runScan(ctx context.Context, cfg *config.Config, root string, progress bool) (*models.ScanArtifact, error) {
	scanner := core.NewScanner(cfg, logger, otel.Tracer(tracerName))
	if progress {
		scanner.SetProgressCallback(progressPrinter())
	}
	art, err := scanner.Scan(ctx, root)
	if err != nil {
		logger.Error("Scan failed", zap.Error(err))
		return nil, err
	}
	return art, nil
}

// evaluate resolves the policy and evaluates art against it
func evaluate(cfg *config.Config, art *models.ScanArtifact, overrides policy.FlagOverrides) (*models.PolicyReport, error) {
	var file *config.PolicyFile
	if cfg.PolicyFile != "" {
		f, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		file = f
	}
	pcfg, err := policy.Resolve(cfg.Profile, file, overrides)
	if err != nil {
		return nil, err
	}

	var waivers []models.Waiver
	if cfg.WaiversFile != "" {
		waivers, err = config.LoadWaivers(cfg.WaiversFile)
		if err != nil {
			return nil, err
		}
	}

	var baseline *models.ScanArtifact
	if cfg.BaselineFile != "" {
		baseline, err = artifact.Load(cfg.BaselineFile)
		if err != nil {
			return nil, fmt.Errorf("baseline: %w", err)
		}
	}

	return policy.Evaluate(art, baseline, pcfg, policy.Options{Waivers: waivers, Now: time.Now()})
}

func writeReport(cfg *config.Config, rep *models.PolicyReport, art *models.ScanArtifact) error {
	gen, err := report.NewGenerator(cfg, logger)
	if err != nil {
		return err
	}
	path, err := gen.Generate(rep, art)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Printf("  %sReport:%s    %s%s%s (%s)\n", colorGray, colorReset, colorOrange, path, colorReset, rep.Status)
	}
	return nil
}

// findRoute matches "METHOD /path", a bare path or a route id
func findRoute(routes []models.Route, query string) (models.Route, bool) {
	query = strings.TrimSpace(query)
	method, path := "", query
	if parts := strings.Fields(query); len(parts) == 2 {
		method, path = strings.ToUpper(parts[0]), parts[1]
	}
	for _, r := range routes {
		if r.RouteID == query {
			return r, true
		}
		if r.Path == path && (method == "" || r.Method == method) {
			return r, true
		}
	}
	return models.Route{}, false
}

func printScanSummary(art *models.ScanArtifact, out string) {
	fmt.Println()
	fmt.Printf("%s%sSCAN COMPLETE%s\n\n", colorBold, colorOrange, colorReset)
	if m := art.Metrics; m != nil {
		fmt.Printf("  %sFiles:%s     %d parsed, %d skipped, %d unparsable\n", colorGray, colorReset, m.FilesScanned, m.FilesSkipped, m.ParseFailures)
		fmt.Printf("  %sRoutes:%s    %d\n", colorGray, colorReset, m.RoutesFound)
		fmt.Printf("  %sDuration:%s  %s\n", colorGray, colorReset, report.FormatDuration(time.Duration(m.DurationMs)*time.Millisecond))
	}
	if art.Summary.Total == 0 {
		fmt.Printf("  %s%s✓ No findings%s\n", colorBold, colorGreen, colorReset)
	} else {
		fmt.Printf("  %s%s⚠ FINDINGS: %d%s\n", colorBold, colorRed, art.Summary.Total, colorReset)
		for _, sev := range models.AllSeverities {
			if n := art.Summary.BySeverity[sev]; n > 0 {
				fmt.Printf("      %-9s %d\n", strings.ToUpper(string(sev)), n)
			}
		}
	}
	fmt.Printf("  %sArtifact:%s  %s%s%s\n\n", colorGray, colorReset, colorOrange, out, colorReset)
}

func printTrace(r models.Route, t models.ProofTrace) {
	mark := func(ok bool) string {
		if ok {
			return colorGreen + "proven" + colorReset
		}
		return colorYellow + "not proven" + colorReset
	}
	fmt.Println()
	fmt.Printf("%s%s%s %s\n", colorBold, r.Method, colorReset, r.Path)
	fmt.Printf("  %sHandler:%s     %s:%d-%d\n", colorGray, colorReset, r.File, r.StartLine, r.EndLine)
	fmt.Printf("  %sAuth:%s        %s\n", colorGray, colorReset, mark(t.AuthProven))
	fmt.Printf("  %sValidation:%s  %s\n", colorGray, colorReset, mark(t.ValidationProven))
	fmt.Printf("  %sMiddleware:%s  %s\n", colorGray, colorReset, mark(t.MiddlewareCovered))
	if len(t.Steps) > 0 {
		fmt.Println()
		for i, s := range t.Steps {
			loc := s.File
			if s.Line > 0 {
				loc = fmt.Sprintf("%s:%d", s.File, s.Line)
			}
			fmt.Printf("  %d. %s%s%s  %s\n", i+1, colorCyan, s.Label, colorReset, loc)
			if s.Snippet != "" {
				fmt.Printf("     %s%s%s\n", colorGray, s.Snippet, colorReset)
			}
		}
	}
	fmt.Println()
}
