// Package regression compares a scan against a baseline scan.
package regression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	regexp "github.com/wasilibs/go-re2"
)

// CoverageTolerance is the growth in routes with findings tolerated before a
// coverage decrease is reported
const CoverageTolerance = 1.1

var (
	methodRe     = regexp.MustCompile(`\b(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\b`)
	familySuffix = regexp.MustCompile(`-\d+$`)
)

// Compute diffs current against baseline by fingerprint and derives the
// semantic regressions. Compute(a, a) reports no change for any a.
func Compute(current, baseline []models.Finding) models.RegressionSummary {
	base := make(map[string]*models.Finding, len(baseline))
	for i := range baseline {
		if _, ok := base[baseline[i].Fingerprint]; !ok {
			base[baseline[i].Fingerprint] = &baseline[i]
		}
	}
	cur := make(map[string]bool, len(current))
	for _, f := range current {
		cur[f.Fingerprint] = true
	}

	summary := models.RegressionSummary{
		NewFindings:           []models.FindingRef{},
		ResolvedFindings:      []models.FindingRef{},
		SeverityRegressions:   []models.SeverityRegression{},
		ProtectionRegressions: []models.ProtectionRegression{},
		SemanticRegressions:   []models.SemanticRegression{},
		NetChange:             len(current) - len(baseline),
	}

	var added []models.Finding
	regressed := make(map[string]bool)
	for _, f := range current {
		prev, ok := base[f.Fingerprint]
		if !ok {
			added = append(added, f)
			summary.NewFindings = append(summary.NewFindings, ref(f))
			continue
		}
		summary.PersistingCount++
		if models.GetSeverityPriority(f.Severity) > models.GetSeverityPriority(prev.Severity) && !regressed[f.Fingerprint] {
			regressed[f.Fingerprint] = true
			summary.SeverityRegressions = append(summary.SeverityRegressions, models.SeverityRegression{
				Fingerprint:      f.Fingerprint,
				RuleID:           f.RuleID,
				Title:            f.Title,
				PreviousSeverity: prev.Severity,
				CurrentSeverity:  f.Severity,
			})
		}
	}
	for _, f := range baseline {
		if !cur[f.Fingerprint] {
			summary.ResolvedFindings = append(summary.ResolvedFindings, ref(f))
		}
	}

	summary.ProtectionRegressions = protectionRegressions(added, baseline)
	for _, p := range summary.ProtectionRegressions {
		summary.SemanticRegressions = append(summary.SemanticRegressions, models.SemanticRegression{
			Type:         models.SemanticProtectionRemoved,
			Severity:     severityOf(current, p.Fingerprint),
			Description:  fmt.Sprintf("%s protection missing on %s (%s)", p.ProtectionType, p.RouteID, p.RuleID),
			RouteID:      p.RouteID,
			Fingerprints: []string{p.Fingerprint},
		})
	}
	summary.SemanticRegressions = append(summary.SemanticRegressions, coverageDecreases(current, baseline)...)
	summary.SemanticRegressions = append(summary.SemanticRegressions, severityGroupIncreases(current, baseline)...)

	sortRefs(summary.NewFindings)
	sortRefs(summary.ResolvedFindings)
	sort.Slice(summary.SeverityRegressions, func(i, j int) bool {
		return summary.SeverityRegressions[i].Fingerprint < summary.SeverityRegressions[j].Fingerprint
	})
	sortSemantic(summary.SemanticRegressions)
	return summary
}

func ref(f models.Finding) models.FindingRef {
	return models.FindingRef{
		ID:          f.ID,
		Fingerprint: f.Fingerprint,
		RuleID:      f.RuleID,
		Title:       f.Title,
		Severity:    f.Severity,
	}
}

func severityOf(findings []models.Finding, fingerprint string) models.Severity {
	for _, f := range findings {
		if f.Fingerprint == fingerprint {
			return f.Severity
		}
	}
	return models.SeverityInfo
}

// RouteKey groups findings by route without consulting the route map:
// primary evidence file plus the first HTTP method named in the title, or
// "*" when the title names none. The key is approximate.
func RouteKey(f models.Finding) string {
	method := "*"
	if m := methodRe.FindString(f.Title); m != "" {
		method = m
	}
	return f.PrimaryFile() + ":" + method
}

// ProtectionOf returns the protection a finding reports as missing
func ProtectionOf(f models.Finding) (models.ProtectionType, bool) {
	switch {
	case strings.HasPrefix(f.RuleID, "VC-AUTH"):
		return models.ProtectionAuth, true
	case strings.HasPrefix(f.RuleID, "VC-VAL"):
		return models.ProtectionValidation, true
	case strings.HasPrefix(f.RuleID, "VC-RATE"):
		return models.ProtectionRateLimit, true
	case strings.HasPrefix(f.RuleID, "VC-MW"):
		return models.ProtectionMiddleware, true
	}
	switch f.Category {
	case models.CategoryAuth:
		return models.ProtectionAuth, true
	case models.CategoryValidation:
		return models.ProtectionValidation, true
	case models.CategoryMiddleware:
		return models.ProtectionMiddleware, true
	}
	return "", false
}

// RuleFamily strips the trailing numeric segment of a rule id
func RuleFamily(ruleID string) string {
	return familySuffix.ReplaceAllString(ruleID, "")
}

// protectionRegressions reports each new protection finding whose route had
// no baseline finding with the same fingerprint or rule.
func protectionRegressions(added, baseline []models.Finding) []models.ProtectionRegression {
	type seenKey struct{ route, value string }
	known := make(map[seenKey]bool, 2*len(baseline))
	for _, f := range baseline {
		key := RouteKey(f)
		known[seenKey{key, "fp:" + f.Fingerprint}] = true
		known[seenKey{key, "rule:" + f.RuleID}] = true
	}

	out := []models.ProtectionRegression{}
	for _, f := range added {
		pt, ok := ProtectionOf(f)
		if !ok {
			continue
		}
		key := RouteKey(f)
		if known[seenKey{key, "fp:" + f.Fingerprint}] || known[seenKey{key, "rule:" + f.RuleID}] {
			continue
		}
		out = append(out, models.ProtectionRegression{
			RouteID:        key,
			ProtectionType: pt,
			RuleID:         f.RuleID,
			Fingerprint:    f.Fingerprint,
			Title:          f.Title,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.ProtectionType != b.ProtectionType {
			return a.ProtectionType < b.ProtectionType
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

// coverageDecreases reports when the set of routes with any finding grew
// past the tolerance. The regression carries the findings on routes the
// baseline had no finding for.
func coverageDecreases(current, baseline []models.Finding) []models.SemanticRegression {
	baseRoutes := make(map[string]bool)
	for _, f := range baseline {
		baseRoutes[RouteKey(f)] = true
	}
	curRoutes := make(map[string]bool)
	for _, f := range current {
		curRoutes[RouteKey(f)] = true
	}

	before, after := len(baseRoutes), len(curRoutes)
	if before == 0 || float64(after) <= CoverageTolerance*float64(before) {
		return nil
	}

	sev := models.SeverityInfo
	var fps []string
	for _, f := range current {
		if baseRoutes[RouteKey(f)] {
			continue
		}
		sev = models.MaxSeverity(sev, f.Severity)
		fps = append(fps, f.Fingerprint)
	}
	sort.Strings(fps)
	return []models.SemanticRegression{{
		Type:         models.SemanticCoverageDecreased,
		Severity:     sev,
		Description:  fmt.Sprintf("routes with findings grew from %d to %d", before, after),
		Fingerprints: fps,
	}}
}

// severityGroupIncreases reports rule families whose worst severity rose
// to high or critical
func severityGroupIncreases(current, baseline []models.Finding) []models.SemanticRegression {
	maxBy := func(findings []models.Finding) map[string]models.Severity {
		m := make(map[string]models.Severity)
		for _, f := range findings {
			fam := RuleFamily(f.RuleID)
			m[fam] = models.MaxSeverity(m[fam], f.Severity)
		}
		return m
	}
	curMax := maxBy(current)
	baseMax := maxBy(baseline)

	var out []models.SemanticRegression
	for fam, sev := range curMax {
		prev := baseMax[fam]
		if models.GetSeverityPriority(sev) <= models.GetSeverityPriority(prev) || !sev.AtLeast(models.SeverityHigh) {
			continue
		}
		var fps []string
		for _, f := range current {
			if RuleFamily(f.RuleID) == fam && f.Severity == sev {
				fps = append(fps, f.Fingerprint)
			}
		}
		sort.Strings(fps)
		from := string(prev)
		if from == "" {
			from = "none"
		}
		out = append(out, models.SemanticRegression{
			Type:         models.SemanticSeverityGroupIncrease,
			Severity:     sev,
			Description:  fmt.Sprintf("%s findings rose from %s to %s", fam, from, sev),
			RuleFamily:   fam,
			Fingerprints: fps,
		})
	}
	return out
}

func sortRefs(refs []models.FindingRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Fingerprint != refs[j].Fingerprint {
			return refs[i].Fingerprint < refs[j].Fingerprint
		}
		return refs[i].ID < refs[j].ID
	})
}

func sortSemantic(s []models.SemanticRegression) {
	first := func(r models.SemanticRegression) string {
		if len(r.Fingerprints) == 0 {
			return ""
		}
		return r.Fingerprints[0]
	}
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.RuleFamily != b.RuleFamily {
			return a.RuleFamily < b.RuleFamily
		}
		return first(a) < first(b)
	})
}

// CountSemantic counts semantic regressions other than protection removals
func CountSemantic(s models.RegressionSummary) int {
	n := 0
	for _, r := range s.SemanticRegressions {
		if r.Type != models.SemanticProtectionRemoved {
			n++
		}
	}
	return n
}
