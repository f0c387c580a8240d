package models

// PolicyVersion is the schema version of PolicyReport documents
const PolicyVersion = "1.0"

// Status is a policy outcome
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// statusRank orders statuses so that fail dominates warn dominates pass
func statusRank(s Status) int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// WorstStatus merges statuses: fail dominates warn dominates pass
func WorstStatus(statuses ...Status) Status {
	worst := StatusPass
	for _, s := range statuses {
		if statusRank(s) > statusRank(worst) {
			worst = s
		}
	}
	return worst
}

// Thresholds controls which findings fail or warn a policy evaluation.
// Nil count caps mean "no cap".
type Thresholds struct {
	FailOnSeverity        Severity `json:"failOnSeverity" yaml:"fail_on_severity"`
	WarnOnSeverity        Severity `json:"warnOnSeverity" yaml:"warn_on_severity"`
	MinConfidenceForFail  float64  `json:"minConfidenceForFail" yaml:"min_confidence_for_fail"`
	MinConfidenceForWarn  float64  `json:"minConfidenceForWarn" yaml:"min_confidence_for_warn"`
	MinConfidenceCritical float64  `json:"minConfidenceCritical" yaml:"min_confidence_critical"`
	MaxFindings           *int     `json:"maxFindings,omitempty" yaml:"max_findings"`
	MaxCritical           *int     `json:"maxCritical,omitempty" yaml:"max_critical"`
	MaxHigh               *int     `json:"maxHigh,omitempty" yaml:"max_high"`
}

// OverrideAction is what an override does to a matching finding
type OverrideAction string

const (
	OverrideIgnore    OverrideAction = "ignore"
	OverrideDowngrade OverrideAction = "downgrade"
	OverrideUpgrade   OverrideAction = "upgrade"
	OverrideWarn      OverrideAction = "warn"
	OverrideFail      OverrideAction = "fail"
)

// Valid reports whether a is a known override action
func (a OverrideAction) Valid() bool {
	switch a {
	case OverrideIgnore, OverrideDowngrade, OverrideUpgrade, OverrideWarn, OverrideFail:
		return true
	}
	return false
}

// Override changes how matching findings are classified. It matches by rule
// id pattern, else by category, optionally narrowed by an evidence path glob.
type Override struct {
	RuleID      string         `json:"ruleId,omitempty" yaml:"rule_id"`
	Category    Category       `json:"category,omitempty" yaml:"category"`
	PathPattern string         `json:"pathPattern,omitempty" yaml:"path_pattern"`
	Action      OverrideAction `json:"action" yaml:"action"`
	Severity    Severity       `json:"severity,omitempty" yaml:"severity"`
	Comment     string         `json:"comment,omitempty" yaml:"comment"`
}

// RegressionPolicy selects which baseline regressions fail or warn
type RegressionPolicy struct {
	FailOnNewHighCritical    bool `json:"failOnNewHighCritical" yaml:"fail_on_new_high_critical"`
	FailOnSeverityRegression bool `json:"failOnSeverityRegression" yaml:"fail_on_severity_regression"`
	FailOnNetIncrease        bool `json:"failOnNetIncrease" yaml:"fail_on_net_increase"`
	WarnOnNewFindings        bool `json:"warnOnNewFindings" yaml:"warn_on_new_findings"`
	FailOnProtectionRemoved  bool `json:"failOnProtectionRemoved" yaml:"fail_on_protection_removed"`
	WarnOnProtectionRemoved  bool `json:"warnOnProtectionRemoved" yaml:"warn_on_protection_removed"`
	FailOnSemanticRegression bool `json:"failOnSemanticRegression" yaml:"fail_on_semantic_regression"`
}

// PolicyConfig is a fully resolved policy
type PolicyConfig struct {
	Profile    string           `json:"profile"`
	Thresholds Thresholds       `json:"thresholds"`
	Overrides  []Override       `json:"overrides"`
	Regression RegressionPolicy `json:"regressionPolicy"`
}

// Reason codes emitted by policy evaluation
const (
	ReasonNoIssues            = "no_issues"
	ReasonSeverityThreshold   = "severity_threshold"
	ReasonSeverityWarning     = "severity_warning"
	ReasonOverrideFail        = "override_fail"
	ReasonOverrideWarn        = "override_warn"
	ReasonMaxFindings         = "max_findings_exceeded"
	ReasonMaxCritical         = "max_critical_exceeded"
	ReasonMaxHigh             = "max_high_exceeded"
	ReasonNoRegressions       = "no_regressions"
	ReasonNewHighCritical     = "new_high_critical"
	ReasonSeverityRegression  = "severity_regression"
	ReasonNetIncrease         = "net_increase"
	ReasonProtectionRegressed = "protection_regression"
	ReasonSemanticRegression  = "semantic_regression"
	ReasonNewFindings         = "new_findings"
)

// PolicyReason explains one contribution to the policy status
type PolicyReason struct {
	Status     Status   `json:"status"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	FindingIDs []string `json:"findingIds,omitempty"`
}

// PolicySummary counts findings after waivers and overrides
type PolicySummary struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Waived     int              `json:"waived"`
	Ignored    int              `json:"ignored"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByCategory map[Category]int `json:"byCategory"`
}

// ActiveFinding is a non-waived finding with its effective classification
type ActiveFinding struct {
	Finding           Finding        `json:"finding"`
	EffectiveSeverity Severity       `json:"effectiveSeverity"`
	OverrideAction    OverrideAction `json:"overrideAction,omitempty"`
	Ignored           bool           `json:"ignored,omitempty"`
}

// WaivedFinding is a finding suppressed by a waiver
type WaivedFinding struct {
	Finding Finding `json:"finding"`
	Waiver  Waiver  `json:"waiver"`
}

// PolicyReport is the final evaluation output
type PolicyReport struct {
	PolicyVersion    string             `json:"policyVersion"`
	Profile          string             `json:"profile"`
	Status           Status             `json:"status"`
	Thresholds       Thresholds         `json:"thresholds"`
	Overrides        []Override         `json:"overrides"`
	RegressionPolicy RegressionPolicy   `json:"regressionPolicy"`
	Summary          PolicySummary      `json:"summary"`
	Reasons          []PolicyReason     `json:"reasons"`
	Regression       *RegressionSummary `json:"regression,omitempty"`
	WaivedFindings   []WaivedFinding    `json:"waivedFindings"`
	ActiveFindings   []ActiveFinding    `json:"activeFindings"`
	ExitCode         int                `json:"exitCode"`
}
