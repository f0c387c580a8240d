// Package pathmatch implements the wildcard syntax shared by waivers and
// policy overrides.
//
// Rule patterns match a whole rule id; '*' matches any run of characters
// and '?' a single one. Path patterns are globs over forward-slash repo
// paths: '**' spans directories, '*' and '?' stay within one segment.
package pathmatch

import (
	"strings"
	"sync"

	regexp "github.com/wasilibs/go-re2"
)

var cache sync.Map // "r:"/"p:" + pattern -> *regexp.Regexp (nil when invalid)

// MatchRule reports whether ruleID matches pattern
func MatchRule(pattern, ruleID string) bool {
	if pattern == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == ruleID
	}
	re := compile("r:", pattern, ruleRegex)
	return re != nil && re.MatchString(ruleID)
}

// MatchPath reports whether the repo path p matches the glob pattern
func MatchPath(pattern, p string) bool {
	if pattern == "" {
		return false
	}
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
	pattern = strings.TrimPrefix(pattern, "./")
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == p
	}
	re := compile("p:", pattern, globRegex)
	return re != nil && re.MatchString(p)
}

// MatchAnyPath reports whether any of paths matches the glob pattern
func MatchAnyPath(pattern string, paths []string) bool {
	for _, p := range paths {
		if MatchPath(pattern, p) {
			return true
		}
	}
	return false
}

func compile(prefix, pattern string, translate func(string) string) *regexp.Regexp {
	key := prefix + pattern
	if v, ok := cache.Load(key); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		re = nil
	}
	cache.Store(key, re)
	return re
}

func ruleRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func globRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
				atStart := i == 1 || pattern[i-2] == '/'
				if i+1 < len(pattern) && pattern[i+1] == '/' && atStart {
					// "**/" matches zero or more leading directories
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}
