package prooftrace

import (
	"strings"
	"sync"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	regexp "github.com/wasilibs/go-re2"
)

var matcherCache sync.Map // matcher -> *regexp.Regexp (nil when malformed)

// MatcherRegex converts a middleware matcher into a prefix regular
// expression that stops at a segment boundary. '*' matches anything;
// ':param' matches one segment, ':param*' zero or more, ':param+' one or
// more and ':param?' an optional one. Parenthesised groups are kept as
// written.
func MatcherRegex(matcher string) (*regexp.Regexp, error) {
	out := []byte("^")
	// optional emits pattern in place of a preceding slash, so that
	// "/api/:path*" also matches "/api"
	optional := func(pattern string) {
		if out[len(out)-1] == '/' {
			out = append(out[:len(out)-1], "(?:/"+pattern+")?"...)
			return
		}
		out = append(out, pattern...)
	}

	for i := 0; i < len(matcher); i++ {
		c := matcher[i]
		switch {
		case c == '*':
			out = append(out, ".*"...)
		case c == ':' && i+1 < len(matcher) && isNameByte(matcher[i+1]):
			j := i + 1
			for j < len(matcher) && isNameByte(matcher[j]) {
				j++
			}
			switch {
			case j < len(matcher) && matcher[j] == '*':
				optional(".*")
				j++
			case j < len(matcher) && matcher[j] == '+':
				out = append(out, ".+"...)
				j++
			case j < len(matcher) && matcher[j] == '?':
				optional("[^/]+")
				j++
			case j < len(matcher) && matcher[j] == '(':
				// custom parameter pattern, copied by the group case below
			default:
				out = append(out, "[^/]+"...)
			}
			i = j - 1
		case c == '(':
			end := closingParen(matcher, i)
			if end < 0 {
				out = append(out, matcher[i:]...)
				i = len(matcher)
				continue
			}
			out = append(out, matcher[i:end+1]...)
			i = end
		default:
			out = append(out, regexp.QuoteMeta(string(c))...)
		}
	}
	if out[len(out)-1] != '/' {
		out = append(out, "(?:/|$)"...)
	}
	return regexp.Compile(string(out))
}

func closingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// literalPrefix is the part of a matcher before its first special character
func literalPrefix(matcher string) string {
	if i := strings.IndexAny(matcher, ":*("); i >= 0 {
		return matcher[:i]
	}
	return matcher
}

// MatcherCovers reports whether routePath falls under matcher. A matcher
// that does not compile is compared as a literal prefix instead.
func MatcherCovers(matcher, routePath string) bool {
	var re *regexp.Regexp
	if v, ok := matcherCache.Load(matcher); ok {
		re = v.(*regexp.Regexp)
	} else {
		compiled, err := MatcherRegex(matcher)
		if err != nil {
			compiled = nil
		}
		matcherCache.Store(matcher, compiled)
		re = compiled
	}
	if re == nil {
		return strings.HasPrefix(routePath, literalPrefix(matcher))
	}
	return re.MatchString(routePath)
}

// MiddlewareCoverage returns the first middleware fact and matcher covering
// routePath. A middleware file without matchers runs for every path and
// is reported with an empty matcher.
func MiddlewareCoverage(routePath string, facts []models.MiddlewareFacts) (file, matcher string, ok bool) {
	for _, f := range facts {
		if len(f.Matchers) == 0 {
			return f.File, "", true
		}
		for _, m := range f.Matchers {
			if MatcherCovers(m, routePath) {
				return f.File, m, true
			}
		}
	}
	return "", "", false
}
