package signatures

import (
	"strings"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	regexp "github.com/wasilibs/go-re2"
)

// Match is one control recognised in a run of source lines
type Match struct {
	PatternID string
	Kind      models.ControlKind
	Line      int      // absolute 1-based line
	Snippet   string   // trimmed matching line
	Names     []string // bindings that received a validated value
}

// FindAuth returns the first authentication call or guard in lines.
// lines are code lines with comments and literal contents blanked;
// firstLine is the number of lines[0].
func (t *Table) FindAuth(lines []string, firstLine int) (Match, bool) {
	return t.findSimple(models.ControlAuth, lines, firstLine)
}

// FindRateLimit returns the first rate-limiting call in lines
func (t *Table) FindRateLimit(lines []string, firstLine int) (Match, bool) {
	return t.findSimple(models.ControlRateLimit, lines, firstLine)
}

func (t *Table) findSimple(kind models.ControlKind, lines []string, firstLine int) (Match, bool) {
	patterns := t.Patterns(kind)
	for i, line := range lines {
		for _, p := range patterns {
			if p.CompiledRe.MatchString(line) {
				return Match{
					PatternID: p.ID,
					Kind:      kind,
					Line:      firstLine + i,
					Snippet:   strings.TrimSpace(line),
				}, true
			}
		}
	}
	return Match{}, false
}

// receivers whose parse methods do not validate input
var plainReceivers = map[string]bool{
	"JSON": true, "Date": true, "URL": true, "Number": true, "path": true,
	"qs": true, "querystring": true, "cookie": true, "url": true,
}

var (
	declRe     = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*|\{[^}]*\}|\[[^\]]*\])\s*(?::[^=]+)?=(?:[^=>]|$)`)
	reassignRe = regexp.MustCompile(`^\s*([A-Za-z_$][\w$]*)\s*=(?:[^=>]|$)`)
)

// FindValidation returns the first input validation in lines. A parse-like
// call only counts when its result is used: assigned to names that are
// referenced later, returned, or passed on. A discarded parse does not.
func (t *Table) FindValidation(lines []string, firstLine int) (Match, bool) {
	patterns := t.Patterns(models.ControlValidation)
	for i, line := range lines {
		for _, p := range patterns {
			loc := p.CompiledRe.FindStringIndex(line)
			if loc == nil {
				continue
			}
			if p.Shape != models.ShapeAssignedCall {
				return Match{
					PatternID: p.ID,
					Kind:      models.ControlValidation,
					Line:      firstLine + i,
					Snippet:   strings.TrimSpace(line),
				}, true
			}

			if plainReceivers[receiver(line, loc[0])] {
				continue
			}
			names, assigned := assignedNames(line, loc[0])
			if assigned {
				if !anyReferenced(names, lines[i+1:]) {
					continue
				}
			} else if discarded(line, loc[0]) {
				continue
			}
			return Match{
				PatternID: p.ID,
				Kind:      models.ControlValidation,
				Line:      firstLine + i,
				Snippet:   strings.TrimSpace(line),
				Names:     names,
			}, true
		}
	}
	return Match{}, false
}

// receiver returns the identifier a method call starting at the dot at pos
// is made on (schema in schema.parse).
func receiver(line string, pos int) string {
	if pos >= len(line) || line[pos] != '.' {
		return ""
	}
	start := pos
	for start > 0 && isIdent(line[start-1]) {
		start--
	}
	return line[start:pos]
}

// calleeStart returns the start of the whole callee chain ending at pos
func calleeStart(line string, pos int) int {
	start := pos
	for start > 0 {
		c := line[start-1]
		if isIdent(c) || c == '.' || c == '?' {
			start--
			continue
		}
		break
	}
	return start
}

// discarded reports whether the call at pos is a bare expression statement
func discarded(line string, pos int) bool {
	prefix := strings.TrimSpace(line[:calleeStart(line, pos)])
	prefix = strings.TrimSpace(strings.TrimSuffix(prefix, "await"))
	return prefix == "" || prefix == ";" || prefix == "{" || prefix == "}"
}

// assignedNames reports the names bound by an assignment whose right-hand
// side contains pos.
func assignedNames(line string, pos int) ([]string, bool) {
	if m := declRe.FindStringSubmatchIndex(line); m != nil && m[1] <= pos+1 {
		return bindingNames(line[m[2]:m[3]]), true
	}
	if m := reassignRe.FindStringSubmatchIndex(line); m != nil && m[1] <= pos+1 {
		return []string{line[m[2]:m[3]]}, true
	}
	return nil, false
}

// bindingNames expands a binding target: a name, or an object or array
// pattern with renames, defaults and rest elements.
func bindingNames(target string) []string {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	if target[0] != '{' && target[0] != '[' {
		return []string{target}
	}

	var names []string
	for _, part := range strings.Split(target[1:len(target)-1], ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "...")
		if i := strings.IndexByte(part, '='); i >= 0 {
			part = part[:i]
		}
		if i := strings.IndexByte(part, ':'); i >= 0 {
			part = part[i+1:]
		}
		part = strings.TrimSpace(part)
		if part != "" && isIdentifier(part) {
			names = append(names, part)
		}
	}
	return names
}

func anyReferenced(names []string, lines []string) bool {
	for _, name := range names {
		for _, line := range lines {
			if references(line, name) {
				return true
			}
		}
	}
	return false
}

// references reports whether line uses name as a value, not as a property
func references(line, name string) bool {
	for from := 0; ; {
		i := strings.Index(line[from:], name)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(name)
		before := byte(' ')
		if i > 0 {
			before = line[i-1]
		}
		after := byte(' ')
		if end < len(line) {
			after = line[end]
		}
		if !isIdent(before) && before != '.' && !isIdent(after) && !objectKey(line, i, end) {
			return true
		}
		// spread
		if before == '.' && i >= 3 && line[i-3:i] == "..." {
			return true
		}
		from = end
	}
}

// objectKey reports whether line[i:end] is a key in an object literal
func objectKey(line string, i, end int) bool {
	j := end
	for j < len(line) && line[j] == ' ' {
		j++
	}
	if j >= len(line) || line[j] != ':' {
		return false
	}
	k := i - 1
	for k >= 0 && line[k] == ' ' {
		k--
	}
	return k >= 0 && (line[k] == '{' || line[k] == ',')
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdentifier(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdent(s[i]) {
			return false
		}
	}
	return true
}
