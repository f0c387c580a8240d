package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// renderText renders a plain text report
func renderText(rep *models.PolicyReport, art *models.ScanArtifact) string {
	var sb strings.Builder

	// Header
	sb.WriteString(strings.Repeat("=", 79) + "\n")
	sb.WriteString(fmt.Sprintf("  VIBECHECK POLICY REPORT v%s\n", rep.PolicyVersion))
	sb.WriteString(strings.Repeat("=", 79) + "\n\n")

	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 79) + "\n")
	sb.WriteString(fmt.Sprintf("Status:           %s\n", strings.ToUpper(string(rep.Status))))
	sb.WriteString(fmt.Sprintf("Profile:          %s\n", rep.Profile))
	if art != nil {
		if art.Repo != nil {
			sb.WriteString(fmt.Sprintf("Repository:       %s\n", art.Repo.Name))
		}
		if art.GeneratedAt != "" {
			sb.WriteString(fmt.Sprintf("Scanned At:       %s\n", art.GeneratedAt))
		}
		if art.Metrics != nil {
			sb.WriteString(fmt.Sprintf("Scanned Files:    %d\n", art.Metrics.FilesScanned))
			sb.WriteString(fmt.Sprintf("Routes:           %d\n", art.Metrics.RoutesFound))
			sb.WriteString(fmt.Sprintf("Duration:         %s\n",
				FormatDuration(time.Duration(art.Metrics.DurationMs)*time.Millisecond)))
		}
	}
	sb.WriteString(fmt.Sprintf("Total Findings:   %d\n", rep.Summary.Total))
	sb.WriteString(fmt.Sprintf("Active:           %d\n", rep.Summary.Active))
	sb.WriteString(fmt.Sprintf("Waived:           %d\n", rep.Summary.Waived))
	sb.WriteString(fmt.Sprintf("Ignored:          %d\n", rep.Summary.Ignored))
	sb.WriteString("\n")

	sb.WriteString("REASONS\n")
	sb.WriteString(strings.Repeat("-", 79) + "\n")
	for _, r := range rep.Reasons {
		sb.WriteString(fmt.Sprintf("  [%-4s] %-24s %s\n", strings.ToUpper(string(r.Status)), r.Code, r.Message))
	}
	sb.WriteString("\n")

	if rep.Summary.Active > 0 {
		sb.WriteString("FINDINGS BY SEVERITY\n")
		sb.WriteString(strings.Repeat("-", 79) + "\n")
		for _, severity := range models.AllSeverities {
			if n := rep.Summary.BySeverity[severity]; n > 0 {
				sb.WriteString(fmt.Sprintf("  %-10s: %d\n", strings.ToUpper(string(severity)), n))
			}
		}
		sb.WriteString("\n")
	}

	visible := visibleFindings(rep)
	if len(visible) > 0 {
		sb.WriteString("DETAILED FINDINGS\n")
		sb.WriteString(strings.Repeat("=", 79) + "\n\n")

		for i, af := range visible {
			f := af.Finding
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, f.Title))
			sb.WriteString(strings.Repeat("-", 79) + "\n")
			sb.WriteString(fmt.Sprintf("ID:          %s\n", f.ID))
			sb.WriteString(fmt.Sprintf("Rule:        %s\n", f.RuleID))
			sb.WriteString(fmt.Sprintf("Severity:    %s\n", severityLabel(af)))
			sb.WriteString(fmt.Sprintf("Confidence:  %.0f%%\n", f.Confidence*100))
			sb.WriteString(fmt.Sprintf("Category:    %s\n", f.Category))
			sb.WriteString(fmt.Sprintf("Fingerprint: %s\n", f.Fingerprint))
			if f.Description != "" {
				sb.WriteString(fmt.Sprintf("Description: %s\n", f.Description))
			}
			for _, ev := range f.Evidence {
				sb.WriteString(fmt.Sprintf("Evidence:    %s:%d (%s)\n", ev.File, ev.StartLine, ev.Label))
				if ev.Snippet != "" {
					sb.WriteString(fmt.Sprintf("             %s\n", cleanFragment(ev.Snippet, 120)))
				}
			}
			if f.Remediation.RecommendedFix != "" {
				sb.WriteString(fmt.Sprintf("Fix:         %s\n", f.Remediation.RecommendedFix))
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("No active findings.\n\n")
	}

	if len(rep.WaivedFindings) > 0 {
		sb.WriteString("WAIVED FINDINGS\n")
		sb.WriteString(strings.Repeat("-", 79) + "\n")
		for _, wf := range rep.WaivedFindings {
			sb.WriteString(fmt.Sprintf("  %s %s (waiver %s: %s)\n", wf.Finding.RuleID, wf.Finding.Title, wf.Waiver.ID, wf.Waiver.Reason))
		}
		sb.WriteString("\n")
	}

	if reg := rep.Regression; reg != nil {
		sb.WriteString("REGRESSION\n")
		sb.WriteString(strings.Repeat("-", 79) + "\n")
		sb.WriteString(fmt.Sprintf("New Findings:     %d\n", len(reg.NewFindings)))
		sb.WriteString(fmt.Sprintf("Resolved:         %d\n", len(reg.ResolvedFindings)))
		sb.WriteString(fmt.Sprintf("Persisting:       %d\n", reg.PersistingCount))
		sb.WriteString(fmt.Sprintf("Net Change:       %+d\n", reg.NetChange))
		for _, sr := range reg.SeverityRegressions {
			sb.WriteString(fmt.Sprintf("  severity  %s %s -> %s\n", sr.RuleID, sr.PreviousSeverity, sr.CurrentSeverity))
		}
		for _, pr := range reg.ProtectionRegressions {
			sb.WriteString(fmt.Sprintf("  protection %s on %s (%s)\n", pr.ProtectionType, pr.RouteID, pr.RuleID))
		}
		for _, sem := range reg.SemanticRegressions {
			sb.WriteString(fmt.Sprintf("  %s [%s] %s\n", sem.Type, sem.Severity, sem.Description))
		}
		sb.WriteString("\n")
	}

	// Footer
	sb.WriteString(strings.Repeat("=", 79) + "\n")
	sb.WriteString("End of Report\n")
	sb.WriteString(strings.Repeat("=", 79) + "\n")
	return sb.String()
}
