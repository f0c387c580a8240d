// Package identity derives stable identifiers for findings and routes and
// defines the canonical ordering of finding lists.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// FingerprintPrefix marks the hash algorithm of a fingerprint
const FingerprintPrefix = "sha256:"

// namespace scopes every name-based UUID this tool issues
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://vibecheck.dev/identity"))

// NormalizePath converts a repo path to forward slashes without ./ prefixes
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	if p == "." {
		return ""
	}
	return p
}

// Fingerprint hashes the identity tuple of a finding. The tuple excludes
// anything that drifts between runs, so equal tuples give equal output on
// any machine.
func Fingerprint(ruleID, file, symbol string, startLine int) string {
	parts := []string{ruleID, NormalizePath(file), symbol}
	if startLine > 0 {
		parts = append(parts, strconv.Itoa(startLine))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

// FingerprintFinding computes the fingerprint of f from its identity fields
func FingerprintFinding(f *models.Finding) string {
	return Fingerprint(f.RuleID, f.PrimaryFile(), f.Symbol, f.PrimaryLine())
}

// RouteID returns a deterministic identifier for a route
func RouteID(method, routePath, file string) string {
	name := strings.ToUpper(method) + " " + routePath + " " + NormalizePath(file)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// Assign fills in missing fingerprints and ids. Ids are derived from the
// fingerprint and the occurrence count of that fingerprint so far, which
// keeps them unique and stable for a given input order.
func Assign(findings []models.Finding) {
	seen := make(map[string]int, len(findings))
	for i := range findings {
		f := &findings[i]
		if f.Fingerprint == "" {
			f.Fingerprint = FingerprintFinding(f)
		}
		n := seen[f.Fingerprint]
		seen[f.Fingerprint] = n + 1
		if f.ID == "" {
			f.ID = uuid.NewSHA1(namespace, []byte(f.Fingerprint+"#"+strconv.Itoa(n))).String()
		}
	}
}

// SortFindings orders findings by fingerprint, file, line, rule and id.
// The order is total for findings with distinct ids.
func SortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return Less(&findings[i], &findings[j])
	})
}

// Less is the canonical finding order
func Less(a, b *models.Finding) bool {
	if a.Fingerprint != b.Fingerprint {
		return a.Fingerprint < b.Fingerprint
	}
	if fa, fb := a.PrimaryFile(), b.PrimaryFile(); fa != fb {
		return fa < fb
	}
	if la, lb := a.PrimaryLine(), b.PrimaryLine(); la != lb {
		return la < lb
	}
	if a.RuleID != b.RuleID {
		return a.RuleID < b.RuleID
	}
	return a.ID < b.ID
}
