package models

// ProtectionType names the kind of control a protection regression concerns
type ProtectionType string

const (
	ProtectionAuth       ProtectionType = "auth"
	ProtectionValidation ProtectionType = "validation"
	ProtectionRateLimit  ProtectionType = "rate_limit"
	ProtectionMiddleware ProtectionType = "middleware"
)

// SemanticRegressionType classifies semantic regressions
type SemanticRegressionType string

const (
	SemanticProtectionRemoved     SemanticRegressionType = "protection_removed"
	SemanticCoverageDecreased     SemanticRegressionType = "coverage_decreased"
	SemanticSeverityGroupIncrease SemanticRegressionType = "severity_group_increase"
)

// FindingRef is a compact reference to a finding in a regression summary
type FindingRef struct {
	ID          string   `json:"id"`
	Fingerprint string   `json:"fingerprint"`
	RuleID      string   `json:"ruleId"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
}

// SeverityRegression is a persisting finding whose severity increased
type SeverityRegression struct {
	Fingerprint      string   `json:"fingerprint"`
	RuleID           string   `json:"ruleId"`
	Title            string   `json:"title"`
	PreviousSeverity Severity `json:"previousSeverity"`
	CurrentSeverity  Severity `json:"currentSeverity"`
}

// ProtectionRegression is a protection-related problem new to a route
type ProtectionRegression struct {
	RouteID        string         `json:"routeId"`
	ProtectionType ProtectionType `json:"protectionType"`
	RuleID         string         `json:"ruleId"`
	Fingerprint    string         `json:"fingerprint"`
	Title          string         `json:"title"`
}

// SemanticRegression is a typed regression detected above the raw diff
type SemanticRegression struct {
	Type         SemanticRegressionType `json:"type"`
	Severity     Severity               `json:"severity"`
	Description  string                 `json:"description"`
	RouteID      string                 `json:"routeId,omitempty"`
	RuleFamily   string                 `json:"ruleFamily,omitempty"`
	Fingerprints []string               `json:"fingerprints,omitempty"`
}

// RegressionSummary is the diff between a current and a baseline scan
type RegressionSummary struct {
	NewFindings           []FindingRef           `json:"newFindings"`
	ResolvedFindings      []FindingRef           `json:"resolvedFindings"`
	SeverityRegressions   []SeverityRegression   `json:"severityRegressions"`
	PersistingCount       int                    `json:"persistingCount"`
	NetChange             int                    `json:"netChange"`
	ProtectionRegressions []ProtectionRegression `json:"protectionRegressions"`
	SemanticRegressions   []SemanticRegression   `json:"semanticRegressions"`
}
