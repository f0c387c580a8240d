package prooftrace

import (
	"path"
	"strings"
)

var (
	resolveExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
	indexFiles        = []string{"/index.ts", "/index.tsx", "/index.js", "/index.jsx"}
	// "@/" and "~/" point at the repo root or at src/
	aliasRoots = []string{"", "src/"}
)

// ResolveImport maps an import specifier found in the module at from to a
// repo-relative file. Only relative and root-alias specifiers resolve;
// packages and paths leaving the repository do not.
func ResolveImport(exists func(string) bool, from, specifier string) (string, bool) {
	var bases []string
	switch {
	case specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		bases = []string{path.Join(path.Dir(from), specifier)}
	case strings.HasPrefix(specifier, "@/") || strings.HasPrefix(specifier, "~/"):
		for _, root := range aliasRoots {
			bases = append(bases, path.Join(root, specifier[2:]))
		}
	default:
		return "", false
	}

	for _, base := range bases {
		if base == ".." || strings.HasPrefix(base, "../") {
			continue
		}
		if path.Ext(base) != "" && exists(base) {
			return base, true
		}
		for _, ext := range resolveExtensions {
			if exists(base + ext) {
				return base + ext, true
			}
		}
		for _, index := range indexFiles {
			candidate := strings.TrimPrefix(base+index, "./")
			if exists(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}
