package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk policy document. Pointer fields distinguish
// "unset" from zero values so that a file only overrides what it names.
type PolicyFile struct {
	Profile    string            `yaml:"profile"`
	Thresholds ThresholdsFile    `yaml:"thresholds"`
	Overrides  []models.Override `yaml:"overrides"`
	Regression RegressionFile    `yaml:"regression"`
}

// ThresholdsFile holds optional threshold overrides
type ThresholdsFile struct {
	FailOnSeverity        *string  `yaml:"fail_on_severity"`
	WarnOnSeverity        *string  `yaml:"warn_on_severity"`
	MinConfidenceForFail  *float64 `yaml:"min_confidence_for_fail"`
	MinConfidenceForWarn  *float64 `yaml:"min_confidence_for_warn"`
	MinConfidenceCritical *float64 `yaml:"min_confidence_critical"`
	MaxFindings           *int     `yaml:"max_findings"`
	MaxCritical           *int     `yaml:"max_critical"`
	MaxHigh               *int     `yaml:"max_high"`
}

// RegressionFile holds optional regression policy overrides
type RegressionFile struct {
	FailOnNewHighCritical    *bool `yaml:"fail_on_new_high_critical"`
	FailOnSeverityRegression *bool `yaml:"fail_on_severity_regression"`
	FailOnNetIncrease        *bool `yaml:"fail_on_net_increase"`
	WarnOnNewFindings        *bool `yaml:"warn_on_new_findings"`
	FailOnProtectionRemoved  *bool `yaml:"fail_on_protection_removed"`
	WarnOnProtectionRemoved  *bool `yaml:"warn_on_protection_removed"`
	FailOnSemanticRegression *bool `yaml:"fail_on_semantic_regression"`
}

// LoadPolicyFile reads a YAML policy document. An empty path yields an empty policy.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	if path == "" {
		return &PolicyFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return ParsePolicyFile(data)
}

// ParsePolicyFile parses a YAML policy document
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	pf := &PolicyFile{}
	if err := yaml.Unmarshal(stripBOM(data), pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return pf, nil
}

type waiverFile struct {
	Waivers []models.Waiver `yaml:"waivers" json:"waivers"`
}

// LoadWaivers reads waivers from a YAML or JSON file. An empty path yields no waivers.
func LoadWaivers(path string) ([]models.Waiver, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read waivers file %s: %w", path, err)
	}
	data = stripBOM(data)

	var wf waiverFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse waivers file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse waivers file %s: %w", path, err)
	}

	for i, w := range wf.Waivers {
		if w.ID == "" {
			return nil, fmt.Errorf("waiver #%d: missing id", i+1)
		}
		if w.Match.Empty() {
			return nil, fmt.Errorf("waiver %s: match needs a fingerprint, rule_id or path_pattern", w.ID)
		}
	}
	return wf.Waivers, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
