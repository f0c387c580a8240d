// Package waiver splits findings into active and waived sets.
package waiver

import (
	"time"

	"github.com/quantracode/VibeCheck-sub002/internal/pathmatch"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

const dateLayout = "2006-01-02"

// Result is the partition produced by Apply. Every input finding lands in
// exactly one of the two lists, in input order.
type Result struct {
	Active []models.Finding
	Waived []models.WaivedFinding
}

// Apply waives each finding matched by a live waiver. The first matching
// waiver in list order is recorded.
func Apply(findings []models.Finding, waivers []models.Waiver, now time.Time) Result {
	live := make([]models.Waiver, 0, len(waivers))
	for _, w := range waivers {
		if !Expired(w, now) {
			live = append(live, w)
		}
	}

	res := Result{
		Active: make([]models.Finding, 0, len(findings)),
		Waived: make([]models.WaivedFinding, 0),
	}
	for _, f := range findings {
		if w, ok := firstMatch(f, live); ok {
			res.Waived = append(res.Waived, models.WaivedFinding{Finding: f, Waiver: w})
			continue
		}
		res.Active = append(res.Active, f)
	}
	return res
}

func firstMatch(f models.Finding, waivers []models.Waiver) (models.Waiver, bool) {
	for _, w := range waivers {
		if Matches(w, f) {
			return w, true
		}
	}
	return models.Waiver{}, false
}

// Matches reports whether every criterion of w holds for f. A waiver
// without criteria matches nothing. Expiry is not considered.
func Matches(w models.Waiver, f models.Finding) bool {
	m := w.Match
	if m.Empty() {
		return false
	}
	if m.Fingerprint != "" && m.Fingerprint != f.Fingerprint {
		return false
	}
	if m.RuleID != "" && !pathmatch.MatchRule(m.RuleID, f.RuleID) {
		return false
	}
	if m.PathPattern != "" && !pathmatch.MatchAnyPath(m.PathPattern, f.Files()) {
		return false
	}
	return true
}

// Expired reports whether w is past its expiry at now. A date without a
// time expires at the end of that day in UTC. An expiry that cannot be
// parsed counts as expired.
func Expired(w models.Waiver, now time.Time) bool {
	if w.ExpiresAt == "" {
		return false
	}
	deadline, ok := ParseExpiry(w.ExpiresAt)
	if !ok {
		return true
	}
	return !now.Before(deadline)
}

// ParseExpiry returns the first instant at which an expiry has passed
func ParseExpiry(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d.AddDate(0, 0, 1), true
	}
	return time.Time{}, false
}
