package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantracode/VibeCheck-sub002/internal/config"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.uber.org/zap"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
	colorOrange = "\033[38;5;208m"
	colorGray   = "\033[38;5;245m"
)

const ruleLine = "───────────────────────────────────────────────────────────────"

// FormatDuration formats duration to a human-readable string with max 2 decimal places
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		mins := int(d.Minutes())
		return fmt.Sprintf("%dm%.2fs", mins, d.Seconds()-float64(mins*60))
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) - hours*60
	secs := d.Seconds() - float64(hours*3600) - float64(mins*60)
	return fmt.Sprintf("%dh%dm%.2fs", hours, mins, secs)
}

// Generator renders policy reports in various formats
type Generator struct {
	config *config.Config
	logger *zap.Logger
	out    io.Writer
	now    func() time.Time
}

// NewGenerator creates a new report generator
func NewGenerator(cfg *config.Config, logger *zap.Logger) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("report generator requires a config")
	}
	return &Generator{
		config: cfg,
		logger: logger,
		out:    os.Stdout,
		now:    time.Now,
	}, nil
}

// SetOutput redirects console output
func (g *Generator) SetOutput(w io.Writer) {
	g.out = w
}

// Generate writes the report in the configured format and returns its absolute
// path. With no format configured the report is printed to the console instead.
// The artifact is optional and only contributes scan metadata.
func (g *Generator) Generate(rep *models.PolicyReport, art *models.ScanArtifact) (string, error) {
	if rep == nil {
		return "", fmt.Errorf("no policy report to render")
	}
	format := strings.ToLower(g.config.ReportFormat)
	if format == "" || format == "console" {
		g.printConsole(rep, art)
		return "", nil
	}

	ext, err := extension(format)
	if err != nil {
		return "", err
	}
	outputFile := g.config.OutputFile
	if outputFile == "" {
		outputFile = fmt.Sprintf("VIBECHECK-REPORT-%s.%s", g.now().Format("20060102-150405"), ext)
	}

	g.logger.Info("Generating report",
		zap.String("format", format),
		zap.String("output", outputFile))

	data, err := Render(format, rep, art)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s report: %w", format, err)
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s report: %w", format, err)
	}

	absPath, _ := filepath.Abs(outputFile)
	return absPath, nil
}

// Render produces the report bytes for a file format
func Render(format string, rep *models.PolicyReport, art *models.ScanArtifact) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return renderJSON(rep)
	case "txt", "text":
		return []byte(renderText(rep, art)), nil
	case "md", "markdown":
		return []byte(renderMarkdown(rep, art)), nil
	case "sarif":
		return renderSARIF(rep, art)
	}
	return nil, fmt.Errorf("unknown report format: %s", format)
}

func extension(format string) (string, error) {
	switch format {
	case "json":
		return "json", nil
	case "txt", "text":
		return "txt", nil
	case "md", "markdown":
		return "md", nil
	case "sarif":
		return "sarif", nil
	}
	return "", fmt.Errorf("unknown report format: %s", format)
}

// printConsole prints the policy outcome to the console with colors
func (g *Generator) printConsole(rep *models.PolicyReport, art *models.ScanArtifact) {
	w := g.out
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sPOLICY %s%s\n", colorBold, getStatusColor(rep.Status), strings.ToUpper(string(rep.Status)), colorReset)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %sProfile:%s   %s\n", colorGray, colorReset, rep.Profile)
	if art != nil {
		if art.Repo != nil {
			fmt.Fprintf(w, "  %sRepo:%s      %s\n", colorGray, colorReset, art.Repo.Name)
		}
		if art.Metrics != nil {
			fmt.Fprintf(w, "  %sFiles:%s     %d\n", colorGray, colorReset, art.Metrics.FilesScanned)
			fmt.Fprintf(w, "  %sRoutes:%s    %d\n", colorGray, colorReset, art.Metrics.RoutesFound)
			fmt.Fprintf(w, "  %sDuration:%s  %s\n", colorGray, colorReset,
				FormatDuration(time.Duration(art.Metrics.DurationMs)*time.Millisecond))
		}
	}
	fmt.Fprintf(w, "  %sFindings:%s  %d active, %d waived, %d ignored\n", colorGray, colorReset,
		rep.Summary.Active, rep.Summary.Waived, rep.Summary.Ignored)
	fmt.Fprintln(w)

	for _, r := range rep.Reasons {
		fmt.Fprintf(w, "  %s%-4s%s %s%s%s %s\n", getStatusColor(r.Status), strings.ToUpper(string(r.Status)), colorReset,
			colorCyan, r.Code, colorReset, r.Message)
	}

	visible := visibleFindings(rep)
	if len(visible) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s%s%s\n", colorGray, ruleLine, colorReset)
		for i, af := range visible {
			f := af.Finding
			fmt.Fprintf(w, "\n  %s%s[%d]%s %s%s%s\n", colorBold, colorWhite, i+1, colorReset, colorBold, f.Title, colorReset)
			fmt.Fprintf(w, "      %sSeverity:%s  %s%s%s\n", colorGray, colorReset,
				getSeverityColor(af.EffectiveSeverity), severityLabel(af), colorReset)
			fmt.Fprintf(w, "      %sRule:%s      %s\n", colorGray, colorReset, f.RuleID)
			fmt.Fprintf(w, "      %sFile:%s      %s%s%s:%s%d%s\n", colorGray, colorReset,
				colorOrange, f.PrimaryFile(), colorReset, colorRed, f.PrimaryLine(), colorReset)
			if len(f.Evidence) > 0 && f.Evidence[0].Snippet != "" {
				fmt.Fprintf(w, "      %sCode:%s      %s%s%s\n", colorGray, colorReset,
					colorDim, cleanFragment(f.Evidence[0].Snippet, 120), colorReset)
			}
			if f.Remediation.RecommendedFix != "" {
				fmt.Fprintf(w, "      %sFix:%s       %s\n", colorGray, colorReset, cleanFragment(f.Remediation.RecommendedFix, 120))
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s%s%s\n", colorGray, ruleLine, colorReset)
	}

	if reg := rep.Regression; reg != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s%sREGRESSION%s\n", colorBold, colorBlue, colorReset)
		fmt.Fprintf(w, "  %sNew:%s        %d\n", colorGray, colorReset, len(reg.NewFindings))
		fmt.Fprintf(w, "  %sResolved:%s   %d\n", colorGray, colorReset, len(reg.ResolvedFindings))
		fmt.Fprintf(w, "  %sPersisting:%s %d\n", colorGray, colorReset, reg.PersistingCount)
		fmt.Fprintf(w, "  %sNet:%s        %+d\n", colorGray, colorReset, reg.NetChange)
	}
	fmt.Fprintln(w)
}

// visibleFindings drops findings an override ignored
func visibleFindings(rep *models.PolicyReport) []models.ActiveFinding {
	out := make([]models.ActiveFinding, 0, len(rep.ActiveFindings))
	for _, af := range rep.ActiveFindings {
		if !af.Ignored {
			out = append(out, af)
		}
	}
	return out
}

// severityLabel shows the effective severity and the original one when an override changed it
func severityLabel(af models.ActiveFinding) string {
	label := strings.ToUpper(string(af.EffectiveSeverity))
	if af.EffectiveSeverity != af.Finding.Severity {
		label += fmt.Sprintf(" (was %s)", strings.ToUpper(string(af.Finding.Severity)))
	}
	return label
}

// getStatusColor returns ANSI color for a policy status
func getStatusColor(s models.Status) string {
	switch s {
	case models.StatusFail:
		return colorRed
	case models.StatusWarn:
		return colorYellow
	default:
		return colorGreen
	}
}

// getSeverityColor returns ANSI color for severity level
func getSeverityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return colorRed + colorBold
	case models.SeverityHigh:
		return colorOrange
	case models.SeverityMedium:
		return colorYellow
	case models.SeverityLow:
		return colorGreen
	case models.SeverityInfo:
		return colorBlue
	default:
		return colorWhite
	}
}

// cleanFragment cleans and truncates code fragment for console output
func cleanFragment(fragment string, maxLen int) string {
	fragment = strings.ReplaceAll(fragment, "\n", " ")
	fragment = strings.ReplaceAll(fragment, "\r", "")
	fragment = strings.ReplaceAll(fragment, "\t", " ")

	for strings.Contains(fragment, "  ") {
		fragment = strings.ReplaceAll(fragment, "  ", " ")
	}

	fragment = strings.TrimSpace(fragment)

	if len(fragment) > maxLen {
		fragment = fragment[:maxLen] + "..."
	}
	return fragment
}
