package models

import "strings"

// Finding represents one detected issue. Findings are immutable once a scan
// has produced them; downstream stages only change how they are classified.
type Finding struct {
	ID              string           `json:"id"`
	Fingerprint     string           `json:"fingerprint"`
	RuleID          string           `json:"ruleId"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Severity        Severity         `json:"severity"`
	Confidence      float64          `json:"confidence"`
	Category        Category         `json:"category"`
	Symbol          string           `json:"symbol,omitempty"` // Stable subject key (handler, function, package)
	Evidence        []Evidence       `json:"evidence"`
	Remediation     Remediation      `json:"remediation"`
	CorrelationData *CorrelationData `json:"correlationData,omitempty"`
}

// Evidence is a single source location backing a finding
type Evidence struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
	Label     string `json:"label"`
}

// Remediation holds human fix text and an optional machine patch
type Remediation struct {
	RecommendedFix string `json:"recommendedFix"`
	Patch          string `json:"patch,omitempty"`
}

// CorrelationData links findings that together form a compound pattern
type CorrelationData struct {
	RelatedFindingIDs   []string `json:"relatedFindingIds,omitempty"`
	RelatedFingerprints []string `json:"relatedFingerprints,omitempty"`
	Pattern             string   `json:"pattern,omitempty"`
	Explanation         string   `json:"explanation,omitempty"`
}

// PrimaryFile returns the file of the first evidence item
func (f *Finding) PrimaryFile() string {
	if len(f.Evidence) == 0 {
		return ""
	}
	return f.Evidence[0].File
}

// PrimaryLine returns the start line of the first evidence item
func (f *Finding) PrimaryLine() int {
	if len(f.Evidence) == 0 {
		return 0
	}
	return f.Evidence[0].StartLine
}

// Files returns every distinct evidence file in evidence order
func (f *Finding) Files() []string {
	files := make([]string, 0, len(f.Evidence))
	seen := make(map[string]bool, len(f.Evidence))
	for _, ev := range f.Evidence {
		if ev.File == "" || seen[ev.File] {
			continue
		}
		seen[ev.File] = true
		files = append(files, ev.File)
	}
	return files
}

// Severity represents the severity level of a finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities lists severities from most to least severe
var AllSeverities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// GetSeverityPriority returns numeric priority for severity (higher = more severe)
func GetSeverityPriority(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity converts a case-insensitive name into a Severity
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

// Valid reports whether s is one of the five known levels
func (s Severity) Valid() bool {
	return GetSeverityPriority(s) > 0
}

// AtLeast reports whether s is as severe as other or more
func (s Severity) AtLeast(other Severity) bool {
	return GetSeverityPriority(s) >= GetSeverityPriority(other)
}

// Shift moves the severity by delta levels, clamped to [info, critical]
func (s Severity) Shift(delta int) Severity {
	p := GetSeverityPriority(s) + delta
	if p < 1 {
		p = 1
	}
	if p > 5 {
		p = 5
	}
	return AllSeverities[5-p]
}

// MaxSeverity returns the more severe of a and b
func MaxSeverity(a, b Severity) Severity {
	if GetSeverityPriority(b) > GetSeverityPriority(a) {
		return b
	}
	return a
}

// Category classifies what kind of control a finding concerns
type Category string

const (
	CategoryAuth           Category = "auth"
	CategoryValidation     Category = "validation"
	CategoryMiddleware     Category = "middleware"
	CategoryAuthorization  Category = "authorization"
	CategoryLifecycle      Category = "lifecycle"
	CategorySupplyChain    Category = "supply-chain"
	CategorySecrets        Category = "secrets"
	CategoryInjection      Category = "injection"
	CategoryPrivacy        Category = "privacy"
	CategoryConfig         Category = "config"
	CategoryNetwork        Category = "network"
	CategoryCrypto         Category = "crypto"
	CategoryUploads        Category = "uploads"
	CategoryHallucinations Category = "hallucinations"
	CategoryAbuse          Category = "abuse"
	CategoryCorrelation    Category = "correlation"
	CategoryOther          Category = "other"
)

var knownCategories = map[Category]bool{
	CategoryAuth: true, CategoryValidation: true, CategoryMiddleware: true,
	CategoryAuthorization: true, CategoryLifecycle: true, CategorySupplyChain: true,
	CategorySecrets: true, CategoryInjection: true, CategoryPrivacy: true,
	CategoryConfig: true, CategoryNetwork: true, CategoryCrypto: true,
	CategoryUploads: true, CategoryHallucinations: true, CategoryAbuse: true,
	CategoryCorrelation: true, CategoryOther: true,
}

// Valid reports whether c belongs to the closed category set
func (c Category) Valid() bool {
	return knownCategories[c]
}
