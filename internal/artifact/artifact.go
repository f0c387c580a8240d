// Package artifact reads and writes scan artifacts.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

var (
	ErrMalformedArtifact  = errors.New("malformed artifact")
	ErrMissingField       = errors.New("artifact is missing a required field")
	ErrUnsupportedVersion = errors.New("unsupported artifact version")
)

// Load reads and decodes the artifact at path
func Load(path string) (*models.ScanArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	a, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decode parses and validates an artifact. No partial artifact is returned
// on error.
func Decode(data []byte) (*models.ScanArtifact, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	for _, field := range []string{"artifactVersion", "findings"} {
		if raw, ok := probe[field]; !ok || string(raw) == "null" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	var a models.ScanArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	if !slices.Contains(models.SupportedArtifactVersions, a.ArtifactVersion) {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedVersion, a.ArtifactVersion, models.SupportedArtifactVersions)
	}
	if err := validateFindings(a.Findings); err != nil {
		return nil, err
	}
	return &a, nil
}

func validateFindings(findings []models.Finding) error {
	for i, f := range findings {
		switch {
		case f.RuleID == "":
			return fmt.Errorf("%w: findings[%d].ruleId", ErrMissingField, i)
		case f.Fingerprint == "":
			return fmt.Errorf("%w: findings[%d].fingerprint", ErrMissingField, i)
		case !f.Severity.Valid():
			return fmt.Errorf("%w: findings[%d] has severity %q", ErrMalformedArtifact, i, f.Severity)
		case f.Confidence < 0 || f.Confidence > 1:
			return fmt.Errorf("%w: findings[%d] has confidence %v", ErrMalformedArtifact, i, f.Confidence)
		}
	}
	return nil
}

// Encode renders an artifact as indented JSON with a trailing newline
func Encode(a *models.ScanArtifact) ([]byte, error) {
	out := *a
	if out.Findings == nil {
		out.Findings = []models.Finding{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write encodes a to path
func Write(path string, a *models.ScanArtifact) error {
	data, err := Encode(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}
