// Package policy turns a scan artifact into a pass/warn/fail release decision.
package policy

import (
	"fmt"
	"sort"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// DefaultProfile is used when neither a policy file nor a flag names one
const DefaultProfile = "startup"

func intPtr(n int) *int { return &n }

// builtin profiles. Callers only ever receive copies.
var profiles = map[string]models.PolicyConfig{
	"startup": {
		Profile: "startup",
		Thresholds: models.Thresholds{
			FailOnSeverity:        models.SeverityCritical,
			WarnOnSeverity:        models.SeverityHigh,
			MinConfidenceForFail:  0.7,
			MinConfidenceForWarn:  0.5,
			MinConfidenceCritical: 0.5,
		},
		Regression: models.RegressionPolicy{
			FailOnNewHighCritical:   true,
			WarnOnNewFindings:       true,
			WarnOnProtectionRemoved: true,
		},
	},
	"strict": {
		Profile: "strict",
		Thresholds: models.Thresholds{
			FailOnSeverity:        models.SeverityHigh,
			WarnOnSeverity:        models.SeverityMedium,
			MinConfidenceForFail:  0.5,
			MinConfidenceForWarn:  0.3,
			MinConfidenceCritical: 0.3,
			MaxCritical:           intPtr(0),
		},
		Regression: models.RegressionPolicy{
			FailOnNewHighCritical:    true,
			FailOnSeverityRegression: true,
			FailOnNetIncrease:        true,
			WarnOnNewFindings:        true,
			FailOnProtectionRemoved:  true,
			FailOnSemanticRegression: true,
		},
	},
	"compliance-lite": {
		Profile: "compliance-lite",
		Thresholds: models.Thresholds{
			FailOnSeverity:        models.SeverityHigh,
			WarnOnSeverity:        models.SeverityMedium,
			MinConfidenceForFail:  0.7,
			MinConfidenceForWarn:  0.5,
			MinConfidenceCritical: 0.5,
			MaxCritical:           intPtr(0),
		},
		Regression: models.RegressionPolicy{
			FailOnNewHighCritical:    true,
			FailOnSeverityRegression: true,
			WarnOnNewFindings:        true,
			FailOnProtectionRemoved:  true,
		},
	},
}

// Profile returns a copy of the named builtin profile
func Profile(name string) (models.PolicyConfig, error) {
	p, ok := profiles[name]
	if !ok {
		return models.PolicyConfig{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownProfile, name, ProfileNames())
	}
	return clone(p), nil
}

// ProfileNames lists the builtin profiles in name order
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clone(p models.PolicyConfig) models.PolicyConfig {
	out := p
	out.Thresholds.MaxFindings = copyInt(p.Thresholds.MaxFindings)
	out.Thresholds.MaxCritical = copyInt(p.Thresholds.MaxCritical)
	out.Thresholds.MaxHigh = copyInt(p.Thresholds.MaxHigh)
	out.Overrides = append([]models.Override{}, p.Overrides...)
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}
