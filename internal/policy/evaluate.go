package policy

import (
	"fmt"
	"time"

	"github.com/quantracode/VibeCheck-sub002/internal/pathmatch"
	"github.com/quantracode/VibeCheck-sub002/internal/regression"
	"github.com/quantracode/VibeCheck-sub002/internal/waiver"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// Options carries evaluation inputs that are not part of the policy itself
type Options struct {
	Waivers []models.Waiver
	Now     time.Time
}

// Evaluate classifies the artifact's findings against cfg and, when a
// baseline is given, against the regression policy. A failing policy is a
// status, not an error; errors are reserved for unusable input.
func Evaluate(artifact, baseline *models.ScanArtifact, cfg models.PolicyConfig, opts Options) (*models.PolicyReport, error) {
	if artifact == nil {
		return nil, ErrNilArtifact
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	split := waiver.Apply(artifact.Findings, opts.Waivers, now)

	active := make([]models.ActiveFinding, 0, len(split.Active))
	for _, f := range split.Active {
		active = append(active, classify(f, cfg.Overrides))
	}

	summary := summarize(len(artifact.Findings), active, len(split.Waived))
	thresholdStatus, reasons := evaluateThresholds(active, summary, cfg.Thresholds)

	report := &models.PolicyReport{
		PolicyVersion:    models.PolicyVersion,
		Profile:          cfg.Profile,
		Thresholds:       cfg.Thresholds,
		Overrides:        cfg.Overrides,
		RegressionPolicy: cfg.Regression,
		Summary:          summary,
		WaivedFindings:   split.Waived,
		ActiveFindings:   active,
	}
	if report.Overrides == nil {
		report.Overrides = []models.Override{}
	}

	status := thresholdStatus
	if baseline != nil {
		diff := regression.Compute(artifact.Findings, baseline.Findings)
		regStatus, regReasons := evaluateRegression(diff, active, cfg.Regression)
		report.Regression = &diff
		reasons = append(reasons, regReasons...)
		status = models.WorstStatus(status, regStatus)
	}

	report.Status = status
	report.Reasons = reasons
	if status == models.StatusFail {
		report.ExitCode = 1
	}
	return report, nil
}

// classify applies the first matching override to f
func classify(f models.Finding, overrides []models.Override) models.ActiveFinding {
	af := models.ActiveFinding{Finding: f, EffectiveSeverity: f.Severity}
	o, ok := firstOverride(f, overrides)
	if !ok {
		return af
	}
	af.OverrideAction = o.Action
	switch o.Action {
	case models.OverrideIgnore:
		af.Ignored = true
	case models.OverrideDowngrade:
		if o.Severity == "" {
			af.EffectiveSeverity = f.Severity.Shift(-1)
		} else if models.GetSeverityPriority(o.Severity) < models.GetSeverityPriority(f.Severity) {
			af.EffectiveSeverity = o.Severity
		}
	case models.OverrideUpgrade:
		if o.Severity == "" {
			af.EffectiveSeverity = f.Severity.Shift(1)
		} else {
			af.EffectiveSeverity = models.MaxSeverity(f.Severity, o.Severity)
		}
	}
	return af
}

func firstOverride(f models.Finding, overrides []models.Override) (models.Override, bool) {
	for _, o := range overrides {
		if OverrideMatches(o, f) {
			return o, true
		}
	}
	return models.Override{}, false
}

// OverrideMatches matches by rule id pattern, else by category, and narrows
// by path pattern when one is set
func OverrideMatches(o models.Override, f models.Finding) bool {
	switch {
	case o.RuleID != "":
		if !pathmatch.MatchRule(o.RuleID, f.RuleID) {
			return false
		}
	case o.Category != "":
		if o.Category != f.Category {
			return false
		}
	case o.PathPattern == "":
		return false
	}
	if o.PathPattern != "" && !pathmatch.MatchAnyPath(o.PathPattern, f.Files()) {
		return false
	}
	return true
}

func summarize(total int, active []models.ActiveFinding, waived int) models.PolicySummary {
	s := models.PolicySummary{
		Total:      total,
		Waived:     waived,
		BySeverity: make(map[models.Severity]int),
		ByCategory: make(map[models.Category]int),
	}
	for _, sev := range models.AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, af := range active {
		if af.Ignored {
			s.Ignored++
			continue
		}
		s.Active++
		s.BySeverity[af.EffectiveSeverity]++
		s.ByCategory[af.Finding.Category]++
	}
	return s
}

// reasonSet accumulates finding ids per reason code in first-seen order
type reasonSet struct {
	codes []string
	ids   map[string][]string
}

func (r *reasonSet) add(code, id string) {
	if r.ids == nil {
		r.ids = make(map[string][]string)
	}
	if _, ok := r.ids[code]; !ok {
		r.codes = append(r.codes, code)
	}
	r.ids[code] = append(r.ids[code], id)
}

func (r *reasonSet) get(code string) []string { return r.ids[code] }

func evaluateThresholds(active []models.ActiveFinding, summary models.PolicySummary, t models.Thresholds) (models.Status, []models.PolicyReason) {
	var fails, warns reasonSet
	var all, critical, high []string

	for _, af := range active {
		if af.Ignored {
			continue
		}
		id := af.Finding.ID
		all = append(all, id)
		switch af.EffectiveSeverity {
		case models.SeverityCritical:
			critical = append(critical, id)
		case models.SeverityHigh:
			high = append(high, id)
		}

		switch af.OverrideAction {
		case models.OverrideFail:
			fails.add(models.ReasonOverrideFail, id)
			continue
		case models.OverrideWarn:
			warns.add(models.ReasonOverrideWarn, id)
			continue
		}
		switch {
		case FailsThreshold(af, t):
			fails.add(models.ReasonSeverityThreshold, id)
		case warnsThreshold(af, t):
			warns.add(models.ReasonSeverityWarning, id)
		}
	}

	var reasons []models.PolicyReason
	if ids := fails.get(models.ReasonOverrideFail); len(ids) > 0 {
		reasons = append(reasons, reason(models.StatusFail, models.ReasonOverrideFail,
			fmt.Sprintf("%s marked as failing by policy override", plural(len(ids))), ids))
	}
	if ids := fails.get(models.ReasonSeverityThreshold); len(ids) > 0 {
		reasons = append(reasons, reason(models.StatusFail, models.ReasonSeverityThreshold,
			fmt.Sprintf("%s at or above %s with sufficient confidence", plural(len(ids)), t.FailOnSeverity), ids))
	}
	reasons = appendCap(reasons, models.ReasonMaxFindings, "findings", summary.Active, t.MaxFindings, all)
	reasons = appendCap(reasons, models.ReasonMaxCritical, "critical findings", summary.BySeverity[models.SeverityCritical], t.MaxCritical, critical)
	reasons = appendCap(reasons, models.ReasonMaxHigh, "high findings", summary.BySeverity[models.SeverityHigh], t.MaxHigh, high)
	if ids := warns.get(models.ReasonOverrideWarn); len(ids) > 0 {
		reasons = append(reasons, reason(models.StatusWarn, models.ReasonOverrideWarn,
			fmt.Sprintf("%s marked as warn-only by policy override", plural(len(ids))), ids))
	}
	if ids := warns.get(models.ReasonSeverityWarning); len(ids) > 0 {
		reasons = append(reasons, reason(models.StatusWarn, models.ReasonSeverityWarning,
			fmt.Sprintf("%s at or above %s", plural(len(ids)), t.WarnOnSeverity), ids))
	}

	if len(reasons) == 0 {
		return models.StatusPass, []models.PolicyReason{{
			Status:  models.StatusPass,
			Code:    models.ReasonNoIssues,
			Message: "no active findings meet the fail or warn criteria",
		}}
	}
	return worstOf(reasons), reasons
}

// FailsThreshold reports whether a finding without a fail/warn override
// meets the severity and confidence fail criteria
func FailsThreshold(af models.ActiveFinding, t models.Thresholds) bool {
	if !af.EffectiveSeverity.AtLeast(t.FailOnSeverity) {
		return false
	}
	minConf := t.MinConfidenceForFail
	if af.EffectiveSeverity == models.SeverityCritical {
		minConf = t.MinConfidenceCritical
	}
	return af.Finding.Confidence >= minConf
}

func warnsThreshold(af models.ActiveFinding, t models.Thresholds) bool {
	if t.WarnOnSeverity == "" || !af.EffectiveSeverity.AtLeast(t.WarnOnSeverity) {
		return false
	}
	return af.Finding.Confidence >= t.MinConfidenceForWarn
}

func appendCap(reasons []models.PolicyReason, code, noun string, count int, limit *int, ids []string) []models.PolicyReason {
	if limit == nil || count <= *limit {
		return reasons
	}
	return append(reasons, reason(models.StatusFail, code,
		fmt.Sprintf("%d %s exceeds the limit of %d", count, noun, *limit), ids))
}

func evaluateRegression(diff models.RegressionSummary, active []models.ActiveFinding, p models.RegressionPolicy) (models.Status, []models.PolicyReason) {
	live := make(map[string]models.ActiveFinding, len(active))
	for _, af := range active {
		if !af.Ignored {
			live[af.Finding.Fingerprint] = af
		}
	}

	var reasons []models.PolicyReason

	if p.FailOnNewHighCritical {
		var ids []string
		for _, ref := range diff.NewFindings {
			if af, ok := live[ref.Fingerprint]; ok && af.EffectiveSeverity.AtLeast(models.SeverityHigh) {
				ids = append(ids, ref.ID)
			}
		}
		if len(ids) > 0 {
			reasons = append(reasons, reason(models.StatusFail, models.ReasonNewHighCritical,
				fmt.Sprintf("%s new at high or critical severity", plural(len(ids))), ids))
		}
	}
	if p.FailOnSeverityRegression && len(diff.SeverityRegressions) > 0 {
		ids := make([]string, 0, len(diff.SeverityRegressions))
		for _, r := range diff.SeverityRegressions {
			ids = append(ids, idFor(live, r.Fingerprint))
		}
		reasons = append(reasons, reason(models.StatusFail, models.ReasonSeverityRegression,
			fmt.Sprintf("%s increased in severity since the baseline", plural(len(ids))), ids))
	}
	if p.FailOnNetIncrease && diff.NetChange > 0 {
		reasons = append(reasons, reason(models.StatusFail, models.ReasonNetIncrease,
			fmt.Sprintf("finding count increased by %d since the baseline", diff.NetChange), nil))
	}
	if n := len(diff.ProtectionRegressions); n > 0 && (p.FailOnProtectionRemoved || p.WarnOnProtectionRemoved) {
		ids := make([]string, 0, n)
		for _, r := range diff.ProtectionRegressions {
			ids = append(ids, idFor(live, r.Fingerprint))
		}
		status := models.StatusWarn
		if p.FailOnProtectionRemoved {
			status = models.StatusFail
		}
		reasons = append(reasons, reason(status, models.ReasonProtectionRegressed,
			fmt.Sprintf("%d route protection(s) missing that the baseline had", n), ids))
	}
	if n := regression.CountSemantic(diff); p.FailOnSemanticRegression && n > 0 {
		reasons = append(reasons, reason(models.StatusFail, models.ReasonSemanticRegression,
			fmt.Sprintf("%d semantic regression(s) detected", n), nil))
	}
	if p.WarnOnNewFindings && len(diff.NewFindings) > 0 {
		ids := make([]string, 0, len(diff.NewFindings))
		for _, ref := range diff.NewFindings {
			ids = append(ids, ref.ID)
		}
		reasons = append(reasons, reason(models.StatusWarn, models.ReasonNewFindings,
			fmt.Sprintf("%s new since the baseline", plural(len(ids))), ids))
	}

	if len(reasons) == 0 {
		return models.StatusPass, []models.PolicyReason{{
			Status:  models.StatusPass,
			Code:    models.ReasonNoRegressions,
			Message: "no regressions against the baseline",
		}}
	}
	return worstOf(reasons), reasons
}

// idFor resolves a fingerprint to the finding id, falling back to the fingerprint
func idFor(live map[string]models.ActiveFinding, fingerprint string) string {
	if af, ok := live[fingerprint]; ok && af.Finding.ID != "" {
		return af.Finding.ID
	}
	return fingerprint
}

func reason(status models.Status, code, msg string, ids []string) models.PolicyReason {
	return models.PolicyReason{Status: status, Code: code, Message: msg, FindingIDs: ids}
}

func worstOf(reasons []models.PolicyReason) models.Status {
	status := models.StatusPass
	for _, r := range reasons {
		status = models.WorstStatus(status, r.Status)
	}
	return status
}

func plural(n int) string {
	if n == 1 {
		return "1 finding"
	}
	return fmt.Sprintf("%d findings", n)
}
