package report

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
	Help             sarifMessage `json:"help,omitempty"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"` // error, warning, note
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine,omitempty"`
}

// renderSARIF emits one result per visible active finding, leveled by its
// effective severity, so code-scanning UIs show what the policy saw
func renderSARIF(rep *models.PolicyReport, art *models.ScanArtifact) ([]byte, error) {
	name, version := "vibecheck", ""
	if art != nil {
		if art.Tool.Name != "" {
			name = art.Tool.Name
		}
		version = art.Tool.Version
	}

	visible := visibleFindings(rep)
	results := make([]sarifResult, 0, len(visible))
	rules := make(map[string]sarifRule)
	for _, af := range visible {
		f := af.Finding
		if _, ok := rules[f.RuleID]; !ok {
			rules[f.RuleID] = sarifRule{
				ID:               f.RuleID,
				ShortDescription: sarifMessage{Text: f.Title},
				Help:             sarifMessage{Text: f.Remediation.RecommendedFix},
			}
		}

		uri := toURI(f.PrimaryFile())
		if uri == "" {
			uri = "UNKNOWN"
		}
		start := f.PrimaryLine()
		if start <= 0 {
			start = 1
		}
		end := 0
		if len(f.Evidence) > 0 && f.Evidence[0].EndLine >= start {
			end = f.Evidence[0].EndLine
		}

		results = append(results, sarifResult{
			RuleID:  f.RuleID,
			Level:   sevToLevel(af.EffectiveSeverity),
			Message: sarifMessage{Text: strings.TrimSpace(f.Title)},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: uri},
					Region:           sarifRegion{StartLine: start, EndLine: end},
				},
			}},
			PartialFingerprints: map[string]string{"vibecheck/v1": f.Fingerprint},
		})
	}

	ruleList := make([]sarifRule, 0, len(rules))
	for _, r := range rules {
		ruleList = append(ruleList, r)
	}
	sort.Slice(ruleList, func(i, j int) bool { return ruleList[i].ID < ruleList[j].ID })

	log := sarifLog{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: name, Version: version, Rules: ruleList}},
			Results: results,
		}},
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func sevToLevel(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return "error"
	case models.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

func toURI(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	return strings.TrimPrefix(p, "./")
}
