package report

import (
	"fmt"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// renderMarkdown renders a Markdown report suitable for pull request comments
func renderMarkdown(rep *models.PolicyReport, art *models.ScanArtifact) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# VibeCheck Policy Report %s %s\n\n", getStatusEmoji(rep.Status), strings.ToUpper(string(rep.Status))))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Profile | %s |\n", rep.Profile))
	if art != nil && art.Repo != nil {
		sb.WriteString(fmt.Sprintf("| Repository | `%s` |\n", art.Repo.Name))
	}
	if art != nil && art.Metrics != nil {
		sb.WriteString(fmt.Sprintf("| Scanned Files | %d |\n", art.Metrics.FilesScanned))
		sb.WriteString(fmt.Sprintf("| Routes | %d |\n", art.Metrics.RoutesFound))
	}
	sb.WriteString(fmt.Sprintf("| Total Findings | %d |\n", rep.Summary.Total))
	sb.WriteString(fmt.Sprintf("| **Active** | **%d** |\n", rep.Summary.Active))
	sb.WriteString(fmt.Sprintf("| Waived | %d |\n", rep.Summary.Waived))
	sb.WriteString(fmt.Sprintf("| Ignored | %d |\n", rep.Summary.Ignored))
	sb.WriteString("\n")

	sb.WriteString("## Reasons\n\n")
	for _, r := range rep.Reasons {
		sb.WriteString(fmt.Sprintf("- %s `%s` %s\n", getStatusEmoji(r.Status), r.Code, r.Message))
	}
	sb.WriteString("\n")

	visible := visibleFindings(rep)
	if len(visible) == 0 {
		sb.WriteString("> ✅ **No active findings**\n\n")
	} else {
		sb.WriteString("## Findings by Severity\n\n")
		sb.WriteString("| Severity | Count |\n")
		sb.WriteString("|----------|-------|\n")
		for _, severity := range models.AllSeverities {
			if n := rep.Summary.BySeverity[severity]; n > 0 {
				sb.WriteString(fmt.Sprintf("| %s %s | %d |\n", getSeverityEmoji(severity), strings.ToUpper(string(severity)), n))
			}
		}
		sb.WriteString("\n")

		sb.WriteString("## Detailed Findings\n\n")
		for i, af := range visible {
			f := af.Finding
			sb.WriteString(fmt.Sprintf("### %d. %s %s\n\n", i+1, getSeverityEmoji(af.EffectiveSeverity), f.Title))

			sb.WriteString("| Field | Value |\n")
			sb.WriteString("|-------|-------|\n")
			sb.WriteString(fmt.Sprintf("| Rule | `%s` |\n", f.RuleID))
			sb.WriteString(fmt.Sprintf("| Severity | %s |\n", severityLabel(af)))
			sb.WriteString(fmt.Sprintf("| Confidence | %.0f%% |\n", f.Confidence*100))
			sb.WriteString(fmt.Sprintf("| File | `%s:%d` |\n", f.PrimaryFile(), f.PrimaryLine()))
			sb.WriteString(fmt.Sprintf("| Fingerprint | `%s` |\n", f.Fingerprint))
			sb.WriteString("\n")

			if f.Description != "" {
				sb.WriteString(fmt.Sprintf("**Description:** %s\n\n", f.Description))
			}
			if len(f.Evidence) > 0 && f.Evidence[0].Snippet != "" {
				sb.WriteString("**Code Fragment:**\n\n")
				sb.WriteString("```ts\n")
				sb.WriteString(f.Evidence[0].Snippet)
				sb.WriteString("\n```\n\n")
			}
			if f.Remediation.RecommendedFix != "" {
				sb.WriteString(fmt.Sprintf("**Fix:** %s\n\n", f.Remediation.RecommendedFix))
			}
			sb.WriteString("---\n\n")
		}
	}

	if len(rep.WaivedFindings) > 0 {
		sb.WriteString("## Waived Findings\n\n")
		sb.WriteString("| Rule | Title | Waiver | Expires |\n")
		sb.WriteString("|------|-------|--------|---------|\n")
		for _, wf := range rep.WaivedFindings {
			expires := wf.Waiver.ExpiresAt
			if expires == "" {
				expires = "never"
			}
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s |\n", wf.Finding.RuleID, wf.Finding.Title, wf.Waiver.ID, expires))
		}
		sb.WriteString("\n")
	}

	if reg := rep.Regression; reg != nil {
		sb.WriteString("## Regression\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| New | %d |\n", len(reg.NewFindings)))
		sb.WriteString(fmt.Sprintf("| Resolved | %d |\n", len(reg.ResolvedFindings)))
		sb.WriteString(fmt.Sprintf("| Persisting | %d |\n", reg.PersistingCount))
		sb.WriteString(fmt.Sprintf("| Net Change | %+d |\n", reg.NetChange))
		sb.WriteString("\n")
		for _, sem := range reg.SemanticRegressions {
			sb.WriteString(fmt.Sprintf("- %s **%s**: %s\n", getSeverityEmoji(sem.Severity), sem.Type, sem.Description))
		}
		if len(reg.SemanticRegressions) > 0 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Generated by VibeCheck, policy v%s*\n", rep.PolicyVersion))
	return sb.String()
}

// getSeverityEmoji returns emoji for severity level
func getSeverityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "🔴"
	case models.SeverityHigh:
		return "🟠"
	case models.SeverityMedium:
		return "🟡"
	case models.SeverityLow:
		return "🟢"
	case models.SeverityInfo:
		return "🔵"
	default:
		return "⚪"
	}
}

func getStatusEmoji(s models.Status) string {
	switch s {
	case models.StatusFail:
		return "❌"
	case models.StatusWarn:
		return "⚠️"
	default:
		return "✅"
	}
}
