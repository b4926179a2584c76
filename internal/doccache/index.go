package doccache

import (
	"regexp"
	"strings"

	"github.com/pike-lsp/pikels/internal/protocol"
)

// isWordChar reports whether b can appear inside a Pike identifier.
func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') || b == '_'
}

// declarationLines maps a declared symbol name to the set of lines it (or
// any of its flattened children) is declared on, so reference-occurrence
// scanning can exclude declaration sites.
func declarationLines(symbols []protocol.Symbol) map[string]map[int]struct{} {
	out := make(map[string]map[int]struct{})

	var walk func(s protocol.Symbol)
	walk = func(s protocol.Symbol) {
		if s.HasPos {
			if out[s.Name] == nil {
				out[s.Name] = make(map[int]struct{})
			}

			out[s.Name][s.Line] = struct{}{}
		}

		for _, child := range s.Children {
			walk(child)
		}
	}

	for _, s := range symbols {
		walk(s)
	}

	return out
}

// BuildSymbolPositions constructs the reference-occurrence position index
// from a token stream, per the word-boundary and definition-exclusion
// rules: a token counts as a reference occurrence only if it matches a
// declared symbol name, is not flanked by word characters, and does not
// fall on one of that symbol's own declaration lines.
func BuildSymbolPositions(tokens []protocol.Token, symbols []protocol.Symbol) map[string][]protocol.Position {
	names := SymbolNameSet(symbols)
	declLines := declarationLines(symbols)

	positions := make(map[string][]protocol.Position)

	for _, tok := range tokens {
		if _, known := names[tok.Text]; !known {
			continue
		}

		if tok.Character < 0 {
			continue
		}

		if lines, ok := declLines[tok.Text]; ok {
			if _, onDeclLine := lines[tok.Line]; onDeclLine {
				continue
			}
		}

		positions[tok.Text] = append(positions[tok.Text], protocol.Position{
			Line:      tok.Line,
			Character: tok.Character,
		})
	}

	return positions
}

var (
	identifierRe  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	commentSpanRe = regexp.MustCompile(`(?s)//[^\n]*|/\*.*?\*/`)
)

// BuildSymbolPositionsFallback replicates BuildSymbolPositions' word-boundary
// and definition-exclusion rules via a regex scan over the raw text, for
// use when no token stream is available. It additionally skips matches
// inside line comments and block comments: comment text is blanked out in
// place before scanning, so line numbers and character offsets still refer
// to the original text. An unterminated block comment is not recognized.
func BuildSymbolPositionsFallback(text string, symbols []protocol.Symbol) map[string][]protocol.Position {
	names := SymbolNameSet(symbols)
	declLines := declarationLines(symbols)

	positions := make(map[string][]protocol.Position)

	text = commentSpanRe.ReplaceAllStringFunc(text, func(comment string) string {
		blank := []byte(comment)
		for i := range blank {
			if blank[i] != '\n' {
				blank[i] = ' '
			}
		}

		return string(blank)
	})

	lines := strings.Split(text, "\n")

	for lineNo, line := range lines {
		for _, loc := range identifierRe.FindAllStringIndex(line, -1) {
			start, end := loc[0], loc[1]
			word := line[start:end]

			if _, known := names[word]; !known {
				continue
			}

			if start > 0 && isWordChar(line[start-1]) {
				continue
			}

			if end < len(line) && isWordChar(line[end]) {
				continue
			}

			if declSet, ok := declLines[word]; ok {
				if _, onDeclLine := declSet[lineNo]; onDeclLine {
					continue
				}
			}

			positions[word] = append(positions[word], protocol.Position{Line: lineNo, Character: start})
		}
	}

	return positions
}

// SymbolNameSet returns the set of all declared symbol names, flattening
// nested children so cross-file lookups can match by bare name.
func SymbolNameSet(symbols []protocol.Symbol) map[string]struct{} {
	out := make(map[string]struct{})

	var walk func(s protocol.Symbol)
	walk = func(s protocol.Symbol) {
		out[s.Name] = struct{}{}

		for _, child := range s.Children {
			walk(child)
		}
	}

	for _, s := range symbols {
		walk(s)
	}

	return out
}

// WordAt returns the identifier at line/character in text, or "" if the
// position falls outside any word. Used by hover and go-to-definition to
// resolve the symbol under the editor's cursor.
func WordAt(text string, line, character int) string {
	lines := strings.Split(text, "\n")
	if line < 0 || line >= len(lines) {
		return ""
	}

	lineText := lines[line]
	if character < 0 {
		return ""
	}

	if character > len(lineText) {
		character = len(lineText)
	}

	start := character
	for start > 0 && isWordChar(lineText[start-1]) {
		start--
	}

	end := character
	for end < len(lineText) && isWordChar(lineText[end]) {
		end++
	}

	return lineText[start:end]
}

// FindDeclaration returns the first symbol (searching nested children too)
// whose name matches, along with whether one was found.
func FindDeclaration(symbols []protocol.Symbol, name string) (protocol.Symbol, bool) {
	for _, s := range symbols {
		if s.Name == name && s.HasPos {
			return s, true
		}

		if child, ok := FindDeclaration(s.Children, name); ok {
			return child, true
		}
	}

	return protocol.Symbol{}, false
}

// Flatten returns every symbol (including nested class members) as a
// single top-level list, for cross-file lookup by bare name. The original
// hierarchical tree is left untouched for outline views; this is a
// read-only projection of it.
func Flatten(symbols []protocol.Symbol) []protocol.Symbol {
	var out []protocol.Symbol

	var walk func(s protocol.Symbol)
	walk = func(s protocol.Symbol) {
		flat := s
		flat.Children = nil
		out = append(out, flat)

		for _, child := range s.Children {
			walk(child)
		}
	}

	for _, s := range symbols {
		walk(s)
	}

	return out
}
