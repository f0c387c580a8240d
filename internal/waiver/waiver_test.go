package waiver

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func finding(id, rule, file string) models.Finding {
	return models.Finding{
		ID:          id,
		Fingerprint: "sha256:" + id,
		RuleID:      rule,
		Severity:    models.SeverityHigh,
		Evidence:    []models.Evidence{{File: file, StartLine: 1}},
	}
}

func TestApply(t *testing.T) {
	findings := []models.Finding{
		finding("1", "VC-AUTH-001", "app/api/internal/route.ts"),
		finding("2", "VC-AUTH-001", "app/api/public/route.ts"),
		finding("3", "VC-VAL-001", "app/api/internal/route.ts"),
		finding("4", "VC-RATE-001", "app/api/login/route.ts"),
	}
	waivers := []models.Waiver{
		{ID: "w-internal", Match: models.WaiverMatch{RuleID: "VC-AUTH-*", PathPattern: "app/api/internal/**"}},
		{ID: "w-fp", Match: models.WaiverMatch{Fingerprint: "sha256:4"}},
		{ID: "w-all-internal", Match: models.WaiverMatch{PathPattern: "app/api/internal/**"}},
	}

	res := Apply(findings, waivers, now)

	require.Len(t, res.Active, 1)
	assert.Equal(t, "2", res.Active[0].ID)

	require.Len(t, res.Waived, 3)
	assert.Equal(t, "1", res.Waived[0].Finding.ID)
	assert.Equal(t, "w-internal", res.Waived[0].Waiver.ID)
	assert.Equal(t, "3", res.Waived[1].Finding.ID)
	assert.Equal(t, "w-all-internal", res.Waived[1].Waiver.ID)
	assert.Equal(t, "4", res.Waived[2].Finding.ID)
	assert.Equal(t, "w-fp", res.Waived[2].Waiver.ID)
}

func TestApply_Expiry(t *testing.T) {
	f := []models.Finding{finding("1", "VC-AUTH-001", "a.ts")}
	match := models.WaiverMatch{RuleID: "VC-AUTH-001"}

	tests := []struct {
		name      string
		expiresAt string
		waived    bool
	}{
		{"no expiry", "", true},
		{"future date", "2026-03-16", true},
		{"same day lasts until midnight UTC", "2026-03-15", true},
		{"past date", "2026-03-14", false},
		{"past timestamp", "2026-03-15T11:59:59Z", false},
		{"future timestamp", "2026-03-15T12:00:01Z", true},
		{"exact instant", "2026-03-15T12:00:00Z", false},
		{"unparsable", "next tuesday", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Apply(f, []models.Waiver{{ID: "w", Match: match, ExpiresAt: tt.expiresAt}}, now)
			assert.Equal(t, tt.waived, len(res.Waived) == 1)
		})
	}
}

func TestMatches(t *testing.T) {
	f := models.Finding{
		Fingerprint: "sha256:abc",
		RuleID:      "VC-VAL-001",
		Evidence: []models.Evidence{
			{File: "app/api/users/route.ts"},
			{File: "lib/schemas/user.ts"},
		},
	}

	tests := []struct {
		name  string
		match models.WaiverMatch
		want  bool
	}{
		{"empty never matches", models.WaiverMatch{}, false},
		{"fingerprint", models.WaiverMatch{Fingerprint: "sha256:abc"}, true},
		{"other fingerprint", models.WaiverMatch{Fingerprint: "sha256:def"}, false},
		{"exact rule", models.WaiverMatch{RuleID: "VC-VAL-001"}, true},
		{"rule pattern", models.WaiverMatch{RuleID: "VC-*"}, true},
		{"rule mismatch", models.WaiverMatch{RuleID: "VC-AUTH-*"}, false},
		{"any evidence file", models.WaiverMatch{PathPattern: "lib/**"}, true},
		{"no evidence file", models.WaiverMatch{PathPattern: "pages/**"}, false},
		{"all criteria hold", models.WaiverMatch{Fingerprint: "sha256:abc", RuleID: "VC-VAL-*", PathPattern: "app/**"}, true},
		{"one criterion fails", models.WaiverMatch{Fingerprint: "sha256:abc", RuleID: "VC-AUTH-*"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(models.Waiver{Match: tt.match}, f))
		})
	}
}

// partitionInput generates random findings and waivers over a small
// vocabulary so that matches actually occur.
type partitionInput struct {
	Findings []models.Finding
	Waivers  []models.Waiver
}

func (partitionInput) Generate(r *rand.Rand, size int) reflect.Value {
	rules := []string{"VC-AUTH-001", "VC-VAL-001", "VC-RATE-001", "VC-MW-001"}
	rulePatterns := []string{"", "VC-AUTH-*", "VC-*", "VC-VAL-001", "X-*"}
	files := []string{"app/a.ts", "app/api/b.ts", "lib/c.ts"}
	paths := []string{"", "app/**", "lib/*", "nope/**"}
	expiries := []string{"", "2020-01-01", "2099-01-01"}

	var in partitionInput
	nFindings, nWaivers := r.Intn(size+1), r.Intn(4)
	for i := 0; i < nFindings; i++ {
		in.Findings = append(in.Findings, models.Finding{
			ID:          fmt.Sprint(i),
			Fingerprint: fmt.Sprintf("sha256:%d", r.Intn(5)),
			RuleID:      rules[r.Intn(len(rules))],
			Evidence:    []models.Evidence{{File: files[r.Intn(len(files))]}},
		})
	}
	for i := 0; i < nWaivers; i++ {
		fp := ""
		if r.Intn(3) == 0 {
			fp = fmt.Sprintf("sha256:%d", r.Intn(5))
		}
		in.Waivers = append(in.Waivers, models.Waiver{
			ID:        fmt.Sprint("w", i),
			Match:     models.WaiverMatch{Fingerprint: fp, RuleID: rulePatterns[r.Intn(len(rulePatterns))], PathPattern: paths[r.Intn(len(paths))]},
			ExpiresAt: expiries[r.Intn(len(expiries))],
		})
	}
	return reflect.ValueOf(in)
}

func TestApply_PartitionTotal(t *testing.T) {
	property := func(in partitionInput) bool {
		res := Apply(in.Findings, in.Waivers, now)
		if len(res.Active)+len(res.Waived) != len(in.Findings) {
			return false
		}
		seen := make(map[string]int)
		for _, f := range res.Active {
			seen[f.ID]++
		}
		for _, w := range res.Waived {
			seen[w.Finding.ID]++
			if Expired(w.Waiver, now) || !Matches(w.Waiver, w.Finding) {
				return false
			}
		}
		for _, f := range in.Findings {
			if seen[f.ID] != 1 {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 300}))
}
