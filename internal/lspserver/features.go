package lspserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/tliron/glsp"
	glspproto "github.com/tliron/glsp/protocol_3_16"

	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/protocol"
)

// snapshot returns the current cache entry and raw text for uri, or false
// if the document has never been successfully analyzed. Per the external
// interface contract, a missing entry means "not yet analyzed — degrade
// gracefully", never an error.
func (s *Server) snapshot(uri string) (*doccache.Entry, string, bool) {
	entry, ok := s.docs.Get(uri)
	if !ok {
		return nil, "", false
	}

	text, _ := s.getText(uri)

	return entry, text, true
}

func (s *Server) hover(_ *glsp.Context, params *glspproto.HoverParams) (*glspproto.Hover, error) {
	uri := string(params.TextDocument.URI)

	entry, text, ok := s.snapshot(uri)
	if !ok {
		return nil, nil
	}

	word := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))
	if word == "" {
		return nil, nil
	}

	sym, found := doccache.FindDeclaration(entry.Symbols, word)
	if !found {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`", sym.Name, sym.Kind)

	if sym.Type != "" {
		fmt.Fprintf(&b, ": `%s`", sym.Type)
	}

	if len(sym.Modifiers) > 0 {
		fmt.Fprintf(&b, "\n\nmodifiers: %s", strings.Join(sym.Modifiers, ", "))
	}

	if sym.Deprecated {
		b.WriteString("\n\n_deprecated_")
	}

	return &glspproto.Hover{
		Contents: glspproto.MarkupContent{Kind: glspproto.MarkupKindMarkdown, Value: b.String()},
	}, nil
}

func (s *Server) completion(_ *glsp.Context, params *glspproto.CompletionParams) (any, error) {
	uri := string(params.TextDocument.URI)

	entry, text, ok := s.snapshot(uri)
	if !ok {
		return glspproto.CompletionList{IsIncomplete: false, Items: nil}, nil
	}

	prefix := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))

	seen := make(map[string]struct{})
	items := make([]glspproto.CompletionItem, 0, len(entry.SymbolNames))

	for _, sym := range doccache.Flatten(entry.Symbols) {
		if prefix != "" && !strings.HasPrefix(sym.Name, prefix) {
			continue
		}

		if _, dup := seen[sym.Name]; dup {
			continue
		}

		seen[sym.Name] = struct{}{}
		items = append(items, completionItemFor(sym))
	}

	if s.ws != nil {
		for _, fi := range s.ws.Files() {
			for name := range fi.Symbols {
				if prefix != "" && !strings.HasPrefix(name, prefix) {
					continue
				}

				if _, dup := seen[name]; dup {
					continue
				}

				seen[name] = struct{}{}
				items = append(items, completionItemFor(protocol.Symbol{Name: name, Kind: protocol.SymbolKindUnknown}))
			}
		}
	}

	return glspproto.CompletionList{IsIncomplete: false, Items: items}, nil
}

func completionItemFor(sym protocol.Symbol) glspproto.CompletionItem {
	kind := completionKindFor(sym.Kind)
	detail := string(sym.Kind)

	return glspproto.CompletionItem{
		Label:  sym.Name,
		Kind:   &kind,
		Detail: &detail,
	}
}

func completionKindFor(kind protocol.SymbolKind) glspproto.CompletionItemKind {
	switch kind {
	case protocol.SymbolKindFunction:
		return glspproto.CompletionItemKindFunction
	case protocol.SymbolKindVariable:
		return glspproto.CompletionItemKindVariable
	case protocol.SymbolKindClass:
		return glspproto.CompletionItemKindClass
	case protocol.SymbolKindConstant:
		return glspproto.CompletionItemKindConstant
	case protocol.SymbolKindModule:
		return glspproto.CompletionItemKindModule
	case protocol.SymbolKindInherit:
		return glspproto.CompletionItemKindInterface
	default:
		return glspproto.CompletionItemKindText
	}
}

func (s *Server) definition(_ *glsp.Context, params *glspproto.DefinitionParams) (any, error) {
	uri := string(params.TextDocument.URI)

	entry, text, ok := s.snapshot(uri)
	if !ok {
		return nil, nil
	}

	word := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))
	if word == "" {
		return nil, nil
	}

	if sym, found := doccache.FindDeclaration(entry.Symbols, word); found {
		return locationFor(uri, sym), nil
	}

	if s.ws == nil {
		return nil, nil
	}

	for _, candidate := range s.ws.SearchSymbol(word) {
		if candidate == uri {
			continue
		}

		other, hasOther := s.docs.Get(candidate)
		if !hasOther {
			// Not yet analyzed: degrade gracefully, skip rather than block.
			continue
		}

		if sym, found := doccache.FindDeclaration(other.Symbols, word); found {
			return locationFor(candidate, sym), nil
		}
	}

	return nil, nil
}

func locationFor(uri string, sym protocol.Symbol) glspproto.Location {
	pos := glspproto.Position{Line: uint32(sym.Line), Character: uint32(sym.Character)}

	return glspproto.Location{
		URI:   uri,
		Range: glspproto.Range{Start: pos, End: pos},
	}
}

func (s *Server) references(_ *glsp.Context, params *glspproto.ReferenceParams) ([]glspproto.Location, error) {
	uri := string(params.TextDocument.URI)

	entry, text, ok := s.snapshot(uri)
	if !ok {
		return nil, nil
	}

	word := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))
	if word == "" {
		return nil, nil
	}

	var out []glspproto.Location

	if params.Context.IncludeDeclaration {
		if sym, found := doccache.FindDeclaration(entry.Symbols, word); found {
			out = append(out, locationFor(uri, sym))
		}
	}

	for _, pos := range entry.SymbolPositions[word] {
		out = append(out, glspproto.Location{
			URI:   uri,
			Range: glspproto.Range{Start: toGLSPPosition(pos), End: toGLSPPosition(pos)},
		})
	}

	if s.ws != nil {
		for _, candidate := range s.ws.SearchSymbol(word) {
			if candidate == uri {
				continue
			}

			other, hasOther := s.docs.Get(candidate)
			if !hasOther {
				continue
			}

			for _, pos := range other.SymbolPositions[word] {
				out = append(out, glspproto.Location{
					URI:   candidate,
					Range: glspproto.Range{Start: toGLSPPosition(pos), End: toGLSPPosition(pos)},
				})
			}
		}
	}

	return out, nil
}

func (s *Server) prepareRename(_ *glsp.Context, params *glspproto.PrepareRenameParams) (any, error) {
	uri := string(params.TextDocument.URI)

	_, text, ok := s.snapshot(uri)
	if !ok {
		return nil, nil
	}

	word := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))
	if word == "" {
		return nil, nil
	}

	if s.bridge != nil {
		if _, err := s.bridge.PrepareRename(context.Background(), text, int(params.Position.Line), int(params.Position.Character)); err != nil {
			s.logger.Debug("prepareRename: analyzer rejected position", "uri", uri, "err", err)

			return nil, nil
		}
	}

	pos := glspproto.Position{Line: params.Position.Line, Character: params.Position.Character}

	return glspproto.Range{Start: pos, End: pos}, nil
}

func (s *Server) rename(_ *glsp.Context, params *glspproto.RenameParams) (*glspproto.WorkspaceEdit, error) {
	uri := string(params.TextDocument.URI)

	entry, text, ok := s.snapshot(uri)
	if !ok {
		return nil, nil
	}

	word := doccache.WordAt(text, int(params.Position.Line), int(params.Position.Character))
	if word == "" {
		return nil, nil
	}

	positions := append([]protocol.Position{}, entry.SymbolPositions[word]...)

	if sym, found := doccache.FindDeclaration(entry.Symbols, word); found {
		positions = append(positions, protocol.Position{Line: sym.Line, Character: sym.Character})
	}

	if len(positions) == 0 {
		return nil, nil
	}

	edits := make([]glspproto.TextEdit, 0, len(positions))
	for _, p := range positions {
		start := toGLSPPosition(p)
		end := glspproto.Position{Line: start.Line, Character: start.Character + uint32(len(word))}
		edits = append(edits, glspproto.TextEdit{Range: glspproto.Range{Start: start, End: end}, NewText: params.NewName})
	}

	return &glspproto.WorkspaceEdit{
		Changes: map[string][]glspproto.TextEdit{uri: edits},
	}, nil
}
