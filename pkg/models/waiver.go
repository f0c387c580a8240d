package models

// Waiver is a time-boxed suppression rule
type Waiver struct {
	ID        string      `json:"id" yaml:"id"`
	Match     WaiverMatch `json:"match" yaml:"match"`
	Reason    string      `json:"reason" yaml:"reason"`
	CreatedBy string      `json:"createdBy,omitempty" yaml:"created_by"`
	CreatedAt string      `json:"createdAt,omitempty" yaml:"created_at"`
	ExpiresAt string      `json:"expiresAt,omitempty" yaml:"expires_at"` // RFC3339 or YYYY-MM-DD
}

// WaiverMatch holds the criteria of a waiver; every non-empty field must match
type WaiverMatch struct {
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint"`
	RuleID      string `json:"ruleId,omitempty" yaml:"rule_id"`
	PathPattern string `json:"pathPattern,omitempty" yaml:"path_pattern"`
}

// Empty reports whether no criterion is set
func (m WaiverMatch) Empty() bool {
	return m.Fingerprint == "" && m.RuleID == "" && m.PathPattern == ""
}
