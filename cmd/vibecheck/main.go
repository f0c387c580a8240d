package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorOrange = "\033[38;5;208m"
	colorYellow = "\033[38;5;220m"
	colorGray   = "\033[38;5;245m"
	colorCyan   = "\033[36m"
)

const tracerName = "github.com/quantracode/VibeCheck-sub002"

var (
	version = "0.3.0"
	logger  *zap.Logger
	verbose bool
)

// exitError carries a non-zero exit status without printing an error
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "vibecheck",
		Short: "VibeCheck - security posture scanner for Next.js API routes",
		Long: `Static scanner that discovers API routes, traces authentication and validation
through their handlers, and gates CI on a configurable policy.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = newLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			printMainBanner()
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(profilesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		logger.Sync()
	}

	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%sError:%s %v\n", colorRed, colorReset, err)
		os.Exit(2)
	}
}

// newLogger builds a development logger for --verbose and a silent,
// error-only JSON logger otherwise
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		Encoding:         "json",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	return cfg.Build()
}

// printMainBanner prints the main banner
func printMainBanner() {
	fmt.Println()
	fmt.Printf("%s%sVIBECHECK%s %sv%s%s\n", colorBold, colorOrange, colorReset, colorGray, version, colorReset)
	fmt.Printf("%sRoute security posture scanner%s\n", colorGray, colorReset)
	fmt.Println()
}

// validateFormat validates the --report flag
func validateFormat(format string) error {
	if format == "" {
		return nil
	}
	valid := []string{"console", "text", "txt", "json", "md", "markdown", "sarif"}
	if !contains(valid, format) {
		return fmt.Errorf("--report must be one of: %s (got: %s)", strings.Join(valid, ", "), format)
	}
	return nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// progressPrinter renders scanner progress on one refreshing line per phase
func progressPrinter() func(phase string, current, total int, message string) {
	lastPhase := ""
	return func(phase string, current, total int, message string) {
		if lastPhase == phase {
			fmt.Fprint(os.Stderr, "\033[1A\033[K")
		}
		lastPhase = phase
		if phase == "parsing" && total > 0 {
			barWidth := 30
			filled := barWidth * current / total
			bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
			fmt.Fprintf(os.Stderr, "  %sParsing:%s   [%s%s%s] %d/%d\n", colorGray, colorReset, colorOrange, bar, colorReset, current, total)
			return
		}
		fmt.Fprintf(os.Stderr, "  %s%-10s%s %s\n", colorGray, phase+":", colorReset, message)
	}
}
