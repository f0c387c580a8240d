package parser

import "sort"

type lexState int

const (
	stCode lexState = iota
	stLineComment
	stBlockComment
	stSingle
	stDouble
	stTemplate
	stRegex
)

// lexed holds two views of a source file that keep every byte offset of the
// original. code has comments blanked; masked additionally blanks string,
// template and regex contents so that only structural characters remain.
type lexed struct {
	code      []byte
	masked    []byte
	braces    map[int]int // open brace offset -> close brace offset
	lineStart []int
	lineDepth []int  // brace depth at the start of each line
	lineCode  []bool // line starts outside comments and literals
}

// lex scans src once. Newlines are never blanked so line numbers survive.
// Single and double quoted strings and regex literals end at a newline.
func lex(src []byte) (*lexed, error) {
	n := len(src)
	l := &lexed{
		code:      append([]byte(nil), src...),
		masked:    append([]byte(nil), src...),
		braces:    make(map[int]int),
		lineStart: []int{0},
		lineDepth: []int{0},
		lineCode:  []bool{true},
	}
	blankBoth := func(i int) {
		if src[i] != '\n' {
			l.code[i] = ' '
			l.masked[i] = ' '
		}
	}
	blankMasked := func(i int) {
		if src[i] != '\n' {
			l.masked[i] = ' '
		}
	}

	var open []int // offsets of unclosed braces
	var tmpl []int // len(open) when each template substitution started
	state := stCode
	inClass := false

	for i := 0; i < n; i++ {
		c := src[i]
		if c == 0 {
			return nil, ErrUnparsable
		}
		if c == '\n' {
			switch state {
			case stLineComment, stSingle, stDouble, stRegex:
				state = stCode
			}
			l.lineStart = append(l.lineStart, i+1)
			l.lineDepth = append(l.lineDepth, len(open))
			l.lineCode = append(l.lineCode, state == stCode)
			continue
		}

		switch state {
		case stCode:
			switch c {
			case '/':
				if i+1 < n && src[i+1] == '/' {
					state = stLineComment
					blankBoth(i)
				} else if i+1 < n && src[i+1] == '*' {
					state = stBlockComment
					blankBoth(i)
					blankBoth(i + 1)
					i++
				} else if regexAllowed(l.masked, i) {
					state = stRegex
					inClass = false
				}
			case '\'':
				state = stSingle
			case '"':
				state = stDouble
			case '`':
				state = stTemplate
			case '{':
				open = append(open, i)
			case '}':
				if len(tmpl) > 0 && tmpl[len(tmpl)-1] == len(open) {
					tmpl = tmpl[:len(tmpl)-1]
					l.masked[i] = ' '
					state = stTemplate
					continue
				}
				if len(open) == 0 {
					return nil, ErrUnparsable
				}
				l.braces[open[len(open)-1]] = i
				open = open[:len(open)-1]
			}

		case stLineComment:
			blankBoth(i)

		case stBlockComment:
			blankBoth(i)
			if c == '*' && i+1 < n && src[i+1] == '/' {
				blankBoth(i + 1)
				i++
				state = stCode
			}

		case stSingle, stDouble:
			if c == '\\' {
				blankMasked(i)
				if i+1 < n && src[i+1] != '\n' {
					i++
					blankMasked(i)
				}
				continue
			}
			if (c == '\'' && state == stSingle) || (c == '"' && state == stDouble) {
				state = stCode
				continue
			}
			blankMasked(i)

		case stTemplate:
			if c == '\\' {
				blankMasked(i)
				if i+1 < n && src[i+1] != '\n' {
					i++
					blankMasked(i)
				}
				continue
			}
			if c == '`' {
				state = stCode
				continue
			}
			if c == '$' && i+1 < n && src[i+1] == '{' {
				l.masked[i] = ' '
				l.masked[i+1] = ' '
				i++
				tmpl = append(tmpl, len(open))
				state = stCode
				continue
			}
			blankMasked(i)

		case stRegex:
			if c == '\\' {
				blankMasked(i)
				if i+1 < n && src[i+1] != '\n' {
					i++
					blankMasked(i)
				}
				continue
			}
			switch {
			case c == '[':
				inClass = true
			case c == ']':
				inClass = false
			case c == '/' && !inClass:
				state = stCode
				continue
			}
			blankMasked(i)
		}
	}

	if state == stBlockComment || state == stTemplate || len(open) > 0 || len(tmpl) > 0 {
		return nil, ErrUnparsable
	}
	return l, nil
}

var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "in": true, "of": true, "new": true,
	"delete": true, "void": true, "throw": true, "else": true, "do": true, "yield": true, "await": true,
}

// regexAllowed decides whether the slash at i starts a regex literal
// rather than a division, from the previous significant character.
func regexAllowed(masked []byte, i int) bool {
	j := i - 1
	for j >= 0 && (masked[j] == ' ' || masked[j] == '\t' || masked[j] == '\n' || masked[j] == '\r') {
		j--
	}
	if j < 0 {
		return true
	}
	p := masked[j]
	switch p {
	case '(', ',', '=', ':', '[', '!', '&', '|', '?', '{', '}', ';', '+', '-', '*', '%', '~', '^':
		return true
	}
	if isIdentByte(p) {
		k := j
		for k >= 0 && isIdentByte(masked[k]) {
			k--
		}
		return regexKeywords[string(masked[k+1:j+1])]
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// lineOf returns the 1-based line containing offset
func (l *lexed) lineOf(offset int) int {
	return sort.Search(len(l.lineStart), func(i int) bool { return l.lineStart[i] > offset })
}

// matchParen returns the offset of the paren closing the one at open, or -1
func (l *lexed) matchParen(open int) int {
	depth := 0
	for i := open; i < len(l.masked); i++ {
		switch l.masked[i] {
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

// statementEnd returns the offset just past the statement that starts at
// start: a semicolon or a line break with every bracket closed and no
// pending operator.
func (l *lexed) statementEnd(start int) int {
	m := l.masked
	depth := 0
	last := byte(0)
	for i := start; i < len(m); i++ {
		c := m[i]
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ';':
			if depth <= 0 {
				return i + 1
			}
		case '\n':
			if depth <= 0 && last != 0 && !continues(last) && !nextContinues(m, i+1) {
				return i
			}
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			last = c
		}
	}
	return len(m)
}

func continues(c byte) bool {
	switch c {
	case '=', '>', '(', '[', '{', ',', '?', ':', '|', '&', '+', '-', '*', '/', '.':
		return true
	}
	return false
}

func nextContinues(m []byte, i int) bool {
	for ; i < len(m); i++ {
		switch m[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '.', '?', ':', ')', ']', '}', '=', '|', '&':
			return true
		}
		return false
	}
	return false
}
