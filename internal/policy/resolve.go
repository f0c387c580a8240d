package policy

import (
	"errors"
	"fmt"

	"github.com/quantracode/VibeCheck-sub002/internal/config"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

var (
	ErrUnknownProfile   = errors.New("unknown policy profile")
	ErrInvalidThreshold = errors.New("invalid policy threshold")
	ErrInvalidOverride  = errors.New("invalid policy override")
	ErrNilArtifact      = errors.New("artifact is required")
)

// FlagOverrides carries command-line settings. Unset fields are nil or empty.
type FlagOverrides struct {
	Profile              string
	FailOnSeverity       string
	WarnOnSeverity       string
	MinConfidenceForFail *float64
	MaxFindings          *int
	MaxCritical          *int
	MaxHigh              *int
}

// Resolve merges profile defaults, then the policy file, then flags, and
// validates the result. The profile is taken from flags first, then the
// file, then the given default.
func Resolve(profile string, file *config.PolicyFile, flags FlagOverrides) (models.PolicyConfig, error) {
	if file == nil {
		file = &config.PolicyFile{}
	}
	name := profile
	if file.Profile != "" {
		name = file.Profile
	}
	if flags.Profile != "" {
		name = flags.Profile
	}
	if name == "" {
		name = DefaultProfile
	}

	cfg, err := Profile(name)
	if err != nil {
		return models.PolicyConfig{}, err
	}

	t := &cfg.Thresholds
	ft := file.Thresholds
	if ft.FailOnSeverity != nil {
		t.FailOnSeverity = models.Severity(*ft.FailOnSeverity)
	}
	warnSet := ft.WarnOnSeverity != nil
	if warnSet {
		t.WarnOnSeverity = models.Severity(*ft.WarnOnSeverity)
	}
	setFloat(&t.MinConfidenceForFail, ft.MinConfidenceForFail)
	setFloat(&t.MinConfidenceForWarn, ft.MinConfidenceForWarn)
	setFloat(&t.MinConfidenceCritical, ft.MinConfidenceCritical)
	setCap(&t.MaxFindings, ft.MaxFindings)
	setCap(&t.MaxCritical, ft.MaxCritical)
	setCap(&t.MaxHigh, ft.MaxHigh)

	cfg.Overrides = append(cfg.Overrides, file.Overrides...)

	r := &cfg.Regression
	fr := file.Regression
	setBool(&r.FailOnNewHighCritical, fr.FailOnNewHighCritical)
	setBool(&r.FailOnSeverityRegression, fr.FailOnSeverityRegression)
	setBool(&r.FailOnNetIncrease, fr.FailOnNetIncrease)
	setBool(&r.WarnOnNewFindings, fr.WarnOnNewFindings)
	setBool(&r.FailOnProtectionRemoved, fr.FailOnProtectionRemoved)
	setBool(&r.WarnOnProtectionRemoved, fr.WarnOnProtectionRemoved)
	setBool(&r.FailOnSemanticRegression, fr.FailOnSemanticRegression)

	if flags.FailOnSeverity != "" {
		t.FailOnSeverity = models.Severity(flags.FailOnSeverity)
	}
	if flags.WarnOnSeverity != "" {
		t.WarnOnSeverity = models.Severity(flags.WarnOnSeverity)
		warnSet = true
	}
	setFloat(&t.MinConfidenceForFail, flags.MinConfidenceForFail)
	setCap(&t.MaxFindings, flags.MaxFindings)
	setCap(&t.MaxCritical, flags.MaxCritical)
	setCap(&t.MaxHigh, flags.MaxHigh)

	// An inherited warn threshold follows a lowered fail threshold down
	if !warnSet && t.FailOnSeverity.Valid() && t.WarnOnSeverity.Valid() &&
		models.GetSeverityPriority(t.WarnOnSeverity) > models.GetSeverityPriority(t.FailOnSeverity) {
		t.WarnOnSeverity = t.FailOnSeverity
	}

	if err := Validate(cfg); err != nil {
		return models.PolicyConfig{}, err
	}
	return cfg, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setCap(dst **int, v *int) {
	if v != nil {
		n := *v
		*dst = &n
	}
}

// Validate rejects configurations evaluation cannot honor
func Validate(cfg models.PolicyConfig) error {
	if _, ok := profiles[cfg.Profile]; !ok && cfg.Profile != "" {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, cfg.Profile)
	}

	t := cfg.Thresholds
	if !t.FailOnSeverity.Valid() {
		return fmt.Errorf("%w: failOnSeverity %q", ErrInvalidThreshold, t.FailOnSeverity)
	}
	if t.WarnOnSeverity != "" {
		if !t.WarnOnSeverity.Valid() {
			return fmt.Errorf("%w: warnOnSeverity %q", ErrInvalidThreshold, t.WarnOnSeverity)
		}
		if models.GetSeverityPriority(t.WarnOnSeverity) > models.GetSeverityPriority(t.FailOnSeverity) {
			return fmt.Errorf("%w: warnOnSeverity %s is above failOnSeverity %s", ErrInvalidThreshold, t.WarnOnSeverity, t.FailOnSeverity)
		}
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"minConfidenceForFail", t.MinConfidenceForFail},
		{"minConfidenceForWarn", t.MinConfidenceForWarn},
		{"minConfidenceCritical", t.MinConfidenceCritical},
	} {
		if c.v < 0 || c.v > 1 {
			return fmt.Errorf("%w: %s %v outside [0, 1]", ErrInvalidThreshold, c.name, c.v)
		}
	}
	for _, c := range []struct {
		name string
		v    *int
	}{
		{"maxFindings", t.MaxFindings},
		{"maxCritical", t.MaxCritical},
		{"maxHigh", t.MaxHigh},
	} {
		if c.v != nil && *c.v < 0 {
			return fmt.Errorf("%w: %s %d is negative", ErrInvalidThreshold, c.name, *c.v)
		}
	}

	for i, o := range cfg.Overrides {
		if err := validateOverride(o); err != nil {
			return fmt.Errorf("%w: override #%d: %v", ErrInvalidOverride, i+1, err)
		}
	}
	return nil
}

func validateOverride(o models.Override) error {
	if !o.Action.Valid() {
		return fmt.Errorf("unknown action %q", o.Action)
	}
	if o.RuleID == "" && o.Category == "" && o.PathPattern == "" {
		return errors.New("needs a rule id, category or path pattern")
	}
	if o.Category != "" && !o.Category.Valid() {
		return fmt.Errorf("unknown category %q", o.Category)
	}
	if o.Severity != "" {
		if !o.Severity.Valid() {
			return fmt.Errorf("unknown severity %q", o.Severity)
		}
		if o.Action != models.OverrideDowngrade && o.Action != models.OverrideUpgrade {
			return fmt.Errorf("severity only applies to downgrade and upgrade")
		}
	}
	return nil
}
