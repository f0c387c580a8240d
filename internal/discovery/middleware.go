package discovery

import regexp "github.com/wasilibs/go-re2"

var (
	middlewareFiles = map[string]bool{
		"middleware.ts": true, "middleware.js": true,
		"src/middleware.ts": true, "src/middleware.js": true,
	}
	matcherKeyRe = regexp.MustCompile(`\bmatcher\s*:\s*`)
	leadingStrRe = regexp.MustCompile("^(?:'([^'\\n]*)'|\"([^\"\\n]*)\"|`([^`$]*)`)")
	stringLitRe  = regexp.MustCompile("(?:([A-Za-z_$][\\w$]*)\\s*:\\s*)?(?:'([^'\\n]*)'|\"([^\"\\n]*)\"|`([^`$]*)`)")
)

// IsMiddlewareFile reports whether rel is a root or src/ middleware module
func IsMiddlewareFile(rel string) bool {
	return middlewareFiles[rel]
}

// ExtractMatchers reads config.matcher from comment-free middleware source.
// Both a single string and an array are accepted; array entries may be
// strings or objects with a source key. A file without a matcher yields an
// empty list, which means the middleware runs on every path.
func ExtractMatchers(code string) []string {
	out := []string{}
	loc := matcherKeyRe.FindStringIndex(code)
	if loc == nil {
		return out
	}
	rest := code[loc[1]:]
	if rest == "" {
		return out
	}

	if rest[0] != '[' {
		if m := leadingStrRe.FindStringSubmatch(rest); m != nil {
			out = append(out, m[1]+m[2]+m[3])
		}
		return out
	}

	end := closingBracket(rest)
	if end < 0 {
		return out
	}
	for _, m := range stringLitRe.FindAllStringSubmatch(rest[1:end], -1) {
		if m[1] != "" && m[1] != "source" {
			continue
		}
		out = append(out, m[2]+m[3]+m[4])
	}
	return out
}

// closingBracket returns the index of the bracket closing s[0], skipping
// string contents
func closingBracket(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
