package regression

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finding(fp, rule, title, file string, sev models.Severity) models.Finding {
	return models.Finding{
		ID:          "id-" + fp,
		Fingerprint: fp,
		RuleID:      rule,
		Title:       title,
		Severity:    sev,
		Confidence:  0.9,
		Category:    models.CategoryOther,
		Evidence:    []models.Evidence{{File: file, StartLine: 1, Label: "x"}},
	}
}

func TestCompute_Diff(t *testing.T) {
	baseline := []models.Finding{
		finding("a", "VC-X-001", "A", "a.ts", models.SeverityLow),
		finding("b", "VC-X-002", "B", "b.ts", models.SeverityMedium),
	}
	current := []models.Finding{
		finding("a", "VC-X-001", "A", "a.ts", models.SeverityHigh),
		finding("c", "VC-X-003", "C", "c.ts", models.SeverityLow),
		finding("d", "VC-X-004", "D", "d.ts", models.SeverityInfo),
	}

	s := Compute(current, baseline)

	require.Len(t, s.NewFindings, 2)
	assert.Equal(t, "c", s.NewFindings[0].Fingerprint)
	assert.Equal(t, "d", s.NewFindings[1].Fingerprint)
	require.Len(t, s.ResolvedFindings, 1)
	assert.Equal(t, "b", s.ResolvedFindings[0].Fingerprint)
	assert.Equal(t, 1, s.PersistingCount)
	assert.Equal(t, 1, s.NetChange)
	require.Len(t, s.SeverityRegressions, 1)
	assert.Equal(t, models.SeverityLow, s.SeverityRegressions[0].PreviousSeverity)
	assert.Equal(t, models.SeverityHigh, s.SeverityRegressions[0].CurrentSeverity)
}

func TestCompute_SeverityDecreaseIsNotRegression(t *testing.T) {
	baseline := []models.Finding{finding("a", "VC-X-001", "A", "a.ts", models.SeverityHigh)}
	current := []models.Finding{finding("a", "VC-X-001", "A", "a.ts", models.SeverityLow)}

	s := Compute(current, baseline)
	assert.Empty(t, s.SeverityRegressions)
	assert.Equal(t, 1, s.PersistingCount)
	assert.Equal(t, 0, s.NetChange)
}

func TestCompute_EmptyListsAreNonNil(t *testing.T) {
	s := Compute(nil, nil)
	assert.NotNil(t, s.NewFindings)
	assert.NotNil(t, s.ResolvedFindings)
	assert.NotNil(t, s.SeverityRegressions)
	assert.NotNil(t, s.ProtectionRegressions)
	assert.NotNil(t, s.SemanticRegressions)
}

func TestRouteKey(t *testing.T) {
	f := finding("a", "VC-AUTH-001", "POST handler lacks authentication", "app/api/users/route.ts", models.SeverityHigh)
	assert.Equal(t, "app/api/users/route.ts:POST", RouteKey(f))

	f.Title = "Handler lacks authentication"
	assert.Equal(t, "app/api/users/route.ts:*", RouteKey(f))

	// lower-case words are not methods
	f.Title = "get rid of unused export"
	assert.Equal(t, "app/api/users/route.ts:*", RouteKey(f))
}

func TestProtectionOf(t *testing.T) {
	cases := []struct {
		rule     string
		category models.Category
		want     models.ProtectionType
		ok       bool
	}{
		{"VC-AUTH-001", models.CategoryOther, models.ProtectionAuth, true},
		{"VC-VAL-001", models.CategoryOther, models.ProtectionValidation, true},
		{"VC-RATE-001", models.CategoryOther, models.ProtectionRateLimit, true},
		{"VC-MW-001", models.CategoryOther, models.ProtectionMiddleware, true},
		{"CUSTOM-1", models.CategoryAuth, models.ProtectionAuth, true},
		{"CUSTOM-1", models.CategoryValidation, models.ProtectionValidation, true},
		{"CUSTOM-1", models.CategoryMiddleware, models.ProtectionMiddleware, true},
		{"CUSTOM-1", models.CategorySecrets, "", false},
	}
	for _, tc := range cases {
		f := finding("x", tc.rule, "t", "f.ts", models.SeverityLow)
		f.Category = tc.category
		got, ok := ProtectionOf(f)
		assert.Equal(t, tc.ok, ok, tc.rule)
		assert.Equal(t, tc.want, got, tc.rule)
	}
}

func TestRuleFamily(t *testing.T) {
	assert.Equal(t, "VC-AUTH", RuleFamily("VC-AUTH-001"))
	assert.Equal(t, "VC-AUTH-X", RuleFamily("VC-AUTH-X"))
	assert.Equal(t, "SEC", RuleFamily("SEC-12"))
}

func TestCompute_ProtectionRemoved(t *testing.T) {
	current := []models.Finding{
		finding("n1", "VC-AUTH-001", "POST handler lacks authentication", "app/api/users/route.ts", models.SeverityHigh),
	}

	s := Compute(current, nil)

	require.Len(t, s.ProtectionRegressions, 1)
	p := s.ProtectionRegressions[0]
	assert.Equal(t, "app/api/users/route.ts:POST", p.RouteID)
	assert.Equal(t, models.ProtectionAuth, p.ProtectionType)

	var removed []models.SemanticRegression
	for _, r := range s.SemanticRegressions {
		if r.Type == models.SemanticProtectionRemoved {
			removed = append(removed, r)
		}
	}
	require.Len(t, removed, 1)
	assert.Equal(t, models.SeverityHigh, removed[0].Severity)
	assert.Equal(t, []string{"n1"}, removed[0].Fingerprints)
}

func TestCompute_ProtectionKnownOnRoute(t *testing.T) {
	// Same rule on the same route already in the baseline: a new fingerprint
	// alone is not a protection regression.
	baseline := []models.Finding{
		finding("old", "VC-AUTH-001", "POST handler lacks authentication", "app/api/users/route.ts", models.SeverityHigh),
	}
	current := []models.Finding{
		finding("new", "VC-AUTH-001", "POST handler lacks authentication", "app/api/users/route.ts", models.SeverityHigh),
	}

	s := Compute(current, baseline)
	assert.Empty(t, s.ProtectionRegressions)
	assert.Len(t, s.NewFindings, 1)
}

func TestCompute_CoverageDecreased(t *testing.T) {
	var baseline, current []models.Finding
	for i := 0; i < 2; i++ {
		file := fmt.Sprintf("app/api/r%d/route.ts", i)
		baseline = append(baseline, finding(fmt.Sprintf("b%d", i), "VC-VAL-001", "POST body not validated", file, models.SeverityMedium))
	}
	for i := 0; i < 3; i++ {
		file := fmt.Sprintf("app/api/r%d/route.ts", i)
		current = append(current, finding(fmt.Sprintf("b%d", i), "VC-VAL-001", "POST body not validated", file, models.SeverityMedium))
	}

	s := Compute(current, baseline)

	var coverage []models.SemanticRegression
	for _, r := range s.SemanticRegressions {
		if r.Type == models.SemanticCoverageDecreased {
			coverage = append(coverage, r)
		}
	}
	require.Len(t, coverage, 1)
	assert.Equal(t, models.SeverityMedium, coverage[0].Severity)
	assert.Equal(t, []string{"b2"}, coverage[0].Fingerprints)
}

func TestCompute_CoverageDecreasedAcrossRules(t *testing.T) {
	// Growth comes from rules with no protection type
	var baseline, current []models.Finding
	for i := 0; i < 10; i++ {
		file := fmt.Sprintf("app/api/r%d/route.ts", i)
		f := finding(fmt.Sprintf("a%d", i), "VC-AUTH-001", "POST handler lacks authentication", file, models.SeverityHigh)
		baseline = append(baseline, f)
		current = append(current, f)
	}
	for i := 10; i < 13; i++ {
		file := fmt.Sprintf("lib/secrets%d.ts", i)
		current = append(current, finding(fmt.Sprintf("s%d", i), "SEC-SECRET-001", "Hardcoded secret", file, models.SeverityMedium))
	}

	s := Compute(current, baseline)

	var coverage []models.SemanticRegression
	for _, r := range s.SemanticRegressions {
		if r.Type == models.SemanticCoverageDecreased {
			coverage = append(coverage, r)
		}
	}
	require.Len(t, coverage, 1)
	assert.Equal(t, models.SeverityMedium, coverage[0].Severity)
	assert.Equal(t, []string{"s10", "s11", "s12"}, coverage[0].Fingerprints)
	assert.Contains(t, coverage[0].Description, "from 10 to 13")
	assert.Equal(t, 1, CountSemantic(s))
}

func TestCompute_CoverageNeedsBaselineRoutes(t *testing.T) {
	current := []models.Finding{finding("a", "SEC-001", "A", "a.ts", models.SeverityLow)}
	s := Compute(current, nil)
	assert.Empty(t, s.SemanticRegressions)
}

func TestCompute_CoverageWithinTolerance(t *testing.T) {
	var baseline, current []models.Finding
	for i := 0; i < 10; i++ {
		file := fmt.Sprintf("app/api/r%d/route.ts", i)
		f := finding(fmt.Sprintf("b%d", i), "VC-VAL-001", "POST body not validated", file, models.SeverityMedium)
		baseline = append(baseline, f)
		current = append(current, f)
	}
	current = append(current, finding("b10", "VC-VAL-001", "POST body not validated", "app/api/r10/route.ts", models.SeverityMedium))

	s := Compute(current, baseline)
	for _, r := range s.SemanticRegressions {
		assert.NotEqual(t, models.SemanticCoverageDecreased, r.Type)
	}
}

func TestCompute_SeverityGroupIncrease(t *testing.T) {
	baseline := []models.Finding{finding("a", "SEC-001", "A", "a.ts", models.SeverityMedium)}
	current := []models.Finding{
		finding("a", "SEC-001", "A", "a.ts", models.SeverityMedium),
		finding("b", "SEC-002", "B", "a.ts", models.SeverityCritical),
	}

	s := Compute(current, baseline)

	require.Len(t, s.SemanticRegressions, 1)
	r := s.SemanticRegressions[0]
	assert.Equal(t, models.SemanticSeverityGroupIncrease, r.Type)
	assert.Equal(t, "SEC", r.RuleFamily)
	assert.Equal(t, models.SeverityCritical, r.Severity)
	assert.Equal(t, []string{"b"}, r.Fingerprints)
}

func TestCompute_SeverityGroupBelowHighIgnored(t *testing.T) {
	baseline := []models.Finding{finding("a", "SEC-001", "A", "a.ts", models.SeverityLow)}
	current := []models.Finding{finding("b", "SEC-002", "B", "b.ts", models.SeverityMedium)}

	s := Compute(current, baseline)
	assert.Empty(t, s.SemanticRegressions)
}

func TestCountSemantic(t *testing.T) {
	s := models.RegressionSummary{SemanticRegressions: []models.SemanticRegression{
		{Type: models.SemanticProtectionRemoved},
		{Type: models.SemanticCoverageDecreased},
		{Type: models.SemanticSeverityGroupIncrease},
	}}
	assert.Equal(t, 2, CountSemantic(s))
}

type findingSet []models.Finding

// Generate builds findings with a small fingerprint alphabet so collisions occur.
func (findingSet) Generate(r *rand.Rand, size int) reflect.Value {
	rules := []string{"VC-AUTH-001", "VC-VAL-001", "SEC-001", "SEC-002"}
	titles := []string{"POST handler", "GET handler", "handler"}
	n := r.Intn(size + 1)
	out := make(findingSet, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, finding(
			fmt.Sprintf("fp%d", r.Intn(8)),
			rules[r.Intn(len(rules))],
			titles[r.Intn(len(titles))],
			fmt.Sprintf("f%d.ts", r.Intn(3)),
			models.AllSeverities[r.Intn(len(models.AllSeverities))],
		))
	}
	return reflect.ValueOf(out)
}

func TestCompute_SelfComparisonIsEmpty(t *testing.T) {
	prop := func(fs findingSet) bool {
		s := Compute(fs, fs)
		return len(s.NewFindings) == 0 &&
			len(s.ResolvedFindings) == 0 &&
			len(s.ProtectionRegressions) == 0 &&
			s.NetChange == 0
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestCompute_Antisymmetric(t *testing.T) {
	prop := func(a, b findingSet) bool {
		ab := Compute(a, b)
		ba := Compute(b, a)
		return ab.NetChange == -ba.NetChange &&
			len(ab.NewFindings) == len(fingerprintsNotIn(a, b)) &&
			len(ba.ResolvedFindings) == len(fingerprintsNotIn(a, b))
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

// fingerprintsNotIn returns the findings of a whose fingerprint is absent from b
func fingerprintsNotIn(a, b findingSet) []models.Finding {
	seen := make(map[string]bool, len(b))
	for _, f := range b {
		seen[f.Fingerprint] = true
	}
	var out []models.Finding
	for _, f := range a {
		if !seen[f.Fingerprint] {
			out = append(out, f)
		}
	}
	return out
}
