// Package parser provides a lexical view of JavaScript and TypeScript
// modules: their imports and their top-level functions. It is not a full
// grammar; it only needs to find the code a request handler runs.
package parser

import (
	"bytes"
	"errors"
	"sort"
	"strings"

	regexp "github.com/wasilibs/go-re2"
)

// ErrUnparsable is returned for sources whose structure cannot be recovered
var ErrUnparsable = errors.New("unparsable source")

// DefaultExportName names the function exported as default
const DefaultExportName = "default"

// Line is one source line. Code is Text with comments blanked; Masked also
// blanks the contents of string, template and regex literals.
type Line struct {
	No     int
	Text   string
	Code   string
	Masked string
}

// Import is one module dependency edge
type Import struct {
	Specifier string
	Names     []string // local bindings, empty for side-effect imports
	TypeOnly  bool
	Line      int
}

// Function is a top-level function, arrow function or wrapped handler
type Function struct {
	Name      string
	Exported  bool
	Default   bool
	StartLine int
	EndLine   int
	Lines     []Line
}

// Code returns the comment-free body lines
func (f *Function) Code() []string {
	out := make([]string, len(f.Lines))
	for i, l := range f.Lines {
		out[i] = l.Code
	}
	return out
}

// Masked returns the body lines with comments and literal contents blanked.
// Control patterns run over these so that text inside strings never counts.
func (f *Function) Masked() []string {
	out := make([]string, len(f.Lines))
	for i, l := range f.Lines {
		out[i] = l.Masked
	}
	return out
}

type alias struct {
	target string
	line   Line
}

// ParsedSource is the parsed view of one module
type ParsedSource struct {
	Path      string
	Lines     []string
	Code      string // full text with comments blanked
	Imports   []Import
	Functions []*Function

	byName  map[string]*Function
	aliases map[string]alias // exported name -> local function
	masked  []string
}

// Function returns the function bound to name, following export aliases.
// Aliases that wrap a function (export default withAuth(handler)) carry the
// export line along with the body so that wrappers are visible.
func (p *ParsedSource) Function(name string) *Function {
	if f, ok := p.byName[name]; ok {
		return f
	}
	a, ok := p.aliases[name]
	if !ok {
		return nil
	}
	target, ok := p.byName[a.target]
	if !ok {
		return nil
	}
	f := *target
	f.Name = name
	f.Exported = true
	f.Default = name == DefaultExportName
	f.Lines = append(append([]Line(nil), target.Lines...), a.line)
	return &f
}

// DefaultExport returns the default-exported function, if any
func (p *ParsedSource) DefaultExport() *Function {
	return p.Function(DefaultExportName)
}

// ExportedNames returns every exported function name in source order
func (p *ParsedSource) ExportedNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, f := range p.Functions {
		if f.Exported && !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	aliasNames := make([]string, 0, len(p.aliases))
	for name := range p.aliases {
		if !seen[name] {
			aliasNames = append(aliasNames, name)
		}
	}
	sort.Slice(aliasNames, func(i, j int) bool {
		return p.aliases[aliasNames[i]].line.No < p.aliases[aliasNames[j]].line.No
	})
	return append(names, aliasNames...)
}

var (
	funcDeclRe    = regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(?:async\s+)?function\b\s*\*?\s*([A-Za-z_$][\w$]*)?\s*(?:<[^>(]*>)?\s*\(`)
	varDeclRe     = regexp.MustCompile(`^\s*(export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=(?:[^=>]|$)`)
	defaultExprRe = regexp.MustCompile(`^\s*export\s+default\s+`)
	exportListRe  = regexp.MustCompile(`^\s*export\s*\{([^}]*)\}\s*;?\s*$`)
	functionWord  = regexp.MustCompile(`\bfunction\b|=>`)
	aliasExprRe   = regexp.MustCompile(`^\s*(?:[\w$.]+\s*\(\s*)?([A-Za-z_$][\w$]*)\s*\)?\s*;?\s*$`)

	importRe     = regexp.MustCompile(`(?m)^[ \t]*import\s+(type\s+)?(?:([A-Za-z_$][\w$]*)\s*,?\s*)?(?:\*\s*as\s+([A-Za-z_$][\w$]*)|\{([^}]*)\})?\s*(?:from\s*)?['"]([^'"\n]+)['"]`)
	exportFromRe = regexp.MustCompile(`(?m)^[ \t]*export\s+(type\s+)?(?:\*(?:\s+as\s+[\w$]+)?|\{([^}]*)\})\s*from\s*['"]([^'"\n]+)['"]`)
	requireRe    = regexp.MustCompile(`\brequire\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
	dynImportRe  = regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
)

// Parse builds the lexical view of one module. It fails with ErrUnparsable
// when braces do not balance, a comment or template is left open, or the
// content contains NUL bytes.
func Parse(path string, content []byte) (*ParsedSource, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	lx, err := lex(content)
	if err != nil {
		return nil, err
	}

	p := &ParsedSource{
		Path:    path,
		Lines:   splitLines(string(content)),
		Code:    string(lx.code),
		byName:  make(map[string]*Function),
		aliases: make(map[string]alias),
	}
	codeLines := splitLines(p.Code)
	maskedLines := splitLines(string(lx.masked))
	p.masked = maskedLines

	p.Imports = parseImports(p.Code, lx)
	p.parseDeclarations(lx, maskedLines, codeLines)
	return p, nil
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func (p *ParsedSource) line(no int, codeLines []string) Line {
	return Line{No: no, Text: p.Lines[no-1], Code: codeLines[no-1], Masked: p.masked[no-1]}
}

func (p *ParsedSource) span(start, end int, codeLines []string) []Line {
	lines := make([]Line, 0, end-start+1)
	for no := start; no <= end; no++ {
		lines = append(lines, p.line(no, codeLines))
	}
	return lines
}

func (p *ParsedSource) addFunction(f *Function) {
	p.Functions = append(p.Functions, f)
	if _, exists := p.byName[f.Name]; !exists {
		p.byName[f.Name] = f
	}
}

func (p *ParsedSource) parseDeclarations(lx *lexed, masked, codeLines []string) {
	type pendingAlias struct {
		name, target string
		line         int
	}
	var pending []pendingAlias

	for i := 0; i < len(masked); i++ {
		if lx.lineDepth[i] != 0 || !lx.lineCode[i] {
			continue
		}
		text := masked[i]
		lineNo := i + 1
		base := lx.lineStart[i]

		if m := funcDeclRe.FindStringSubmatchIndex(text); m != nil {
			name := ""
			if m[6] >= 0 {
				name = text[m[6]:m[7]]
			}
			isDefault := m[4] >= 0
			if isDefault && name == "" {
				name = DefaultExportName
			}
			if name == "" {
				continue
			}
			end := lx.functionEnd(base + m[1] - 1)
			if end < 0 {
				continue
			}
			endLine := lx.lineOf(end)
			f := &Function{
				Name:      name,
				Exported:  m[2] >= 0,
				StartLine: lineNo,
				EndLine:   endLine,
				Lines:     p.span(lineNo, endLine, codeLines),
			}
			if isDefault {
				f.Default = true
				f.Exported = true
			}
			p.addFunction(f)
			if isDefault && name != DefaultExportName {
				if _, exists := p.byName[DefaultExportName]; !exists {
					p.byName[DefaultExportName] = f
				}
			}
			i = endLine - 1
			continue
		}

		if m := varDeclRe.FindStringSubmatchIndex(text); m != nil {
			name := text[m[4]:m[5]]
			exported := m[2] >= 0
			rhs := base + strings.IndexByte(text[m[4]:], '=') + m[4] + 1
			end := lx.statementEnd(rhs)
			endLine := lx.lineOf(max(end-1, rhs))
			stmt := string(lx.masked[rhs:end])
			if functionWord.MatchString(stmt) {
				p.addFunction(&Function{
					Name:      name,
					Exported:  exported,
					StartLine: lineNo,
					EndLine:   endLine,
					Lines:     p.span(lineNo, endLine, codeLines),
				})
			} else if exported {
				if am := aliasExprRe.FindStringSubmatch(string(lx.code[rhs:end])); am != nil {
					pending = append(pending, pendingAlias{name: name, target: am[1], line: lineNo})
				}
			}
			i = endLine - 1
			continue
		}

		if m := defaultExprRe.FindStringIndex(text); m != nil {
			start := base + m[1]
			end := lx.statementEnd(start)
			endLine := lx.lineOf(max(end-1, start))
			stmt := string(lx.masked[start:end])
			if functionWord.MatchString(stmt) {
				p.addFunction(&Function{
					Name:      DefaultExportName,
					Exported:  true,
					Default:   true,
					StartLine: lineNo,
					EndLine:   endLine,
					Lines:     p.span(lineNo, endLine, codeLines),
				})
			} else if am := aliasExprRe.FindStringSubmatch(string(lx.code[start:end])); am != nil {
				pending = append(pending, pendingAlias{name: DefaultExportName, target: am[1], line: lineNo})
			}
			i = endLine - 1
			continue
		}

		if m := exportListRe.FindStringSubmatch(text); m != nil {
			for _, entry := range strings.Split(m[1], ",") {
				local, exported := splitAlias(entry)
				if local == "" {
					continue
				}
				pending = append(pending, pendingAlias{name: exported, target: local, line: lineNo})
			}
		}
	}

	for _, a := range pending {
		if f, ok := p.byName[a.target]; ok && a.name == a.target {
			f.Exported = true
			continue
		}
		if _, ok := p.byName[a.target]; !ok {
			continue
		}
		if _, taken := p.aliases[a.name]; !taken {
			p.aliases[a.name] = alias{target: a.target, line: p.line(a.line, codeLines)}
		}
	}
}

// functionEnd returns the offset of the brace closing the body of the
// function whose parameter list opens at paren, or -1.
func (l *lexed) functionEnd(paren int) int {
	closeParen := l.matchParen(paren)
	if closeParen < 0 {
		return -1
	}
	for i := closeParen + 1; i < len(l.masked); i++ {
		if l.masked[i] == '{' {
			if end, ok := l.braces[i]; ok {
				return end
			}
			return -1
		}
	}
	return -1
}

func splitAlias(entry string) (local, exported string) {
	fields := strings.Fields(strings.TrimSpace(entry))
	if len(fields) > 0 && fields[0] == "type" {
		fields = fields[1:]
	}
	switch {
	case len(fields) == 1:
		return fields[0], fields[0]
	case len(fields) == 3 && fields[1] == "as":
		return fields[0], fields[2]
	}
	return "", ""
}

func parseImports(code string, lx *lexed) []Import {
	type located struct {
		offset int
		imp    Import
	}
	var found []located
	add := func(offset int, imp Import) {
		imp.Line = lx.lineOf(offset)
		found = append(found, located{offset: offset, imp: imp})
	}

	for _, m := range importRe.FindAllStringSubmatchIndex(code, -1) {
		imp := Import{Specifier: code[m[10]:m[11]], TypeOnly: m[2] >= 0}
		if m[4] >= 0 {
			imp.Names = append(imp.Names, code[m[4]:m[5]])
		}
		if m[6] >= 0 {
			imp.Names = append(imp.Names, code[m[6]:m[7]])
		}
		if m[8] >= 0 {
			imp.Names = append(imp.Names, bindingNames(code[m[8]:m[9]])...)
		}
		add(m[0], imp)
	}
	for _, m := range exportFromRe.FindAllStringSubmatchIndex(code, -1) {
		imp := Import{Specifier: code[m[6]:m[7]], TypeOnly: m[2] >= 0}
		if m[4] >= 0 {
			imp.Names = bindingNames(code[m[4]:m[5]])
		}
		add(m[0], imp)
	}
	for _, re := range []*regexp.Regexp{requireRe, dynImportRe} {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			if lx.masked[m[2]-1] == ' ' {
				// specifier quote was blanked: the call sits inside a literal
				continue
			}
			add(m[0], Import{Specifier: code[m[2]:m[3]]})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].offset < found[j].offset })
	imports := make([]Import, len(found))
	for i, f := range found {
		imports[i] = f.imp
	}
	return imports
}

func bindingNames(list string) []string {
	var names []string
	for _, entry := range strings.Split(list, ",") {
		_, local := splitAlias(entry)
		if local != "" {
			names = append(names, local)
		}
	}
	return names
}
