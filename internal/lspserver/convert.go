package lspserver

import (
	glspproto "github.com/tliron/glsp/protocol_3_16"

	"github.com/pike-lsp/pikels/internal/protocol"
)

// toGLSPPosition converts a wire Position to its glsp equivalent.
func toGLSPPosition(p protocol.Position) glspproto.Position {
	return glspproto.Position{Line: uint32(p.Line), Character: uint32(p.Character)}
}

// toGLSPSeverity maps the analyzer's integer severity (1=error..4=hint,
// matching LSP's own numbering) to glsp's typed constant.
func toGLSPSeverity(sev int) *glspproto.DiagnosticSeverity {
	var s glspproto.DiagnosticSeverity

	switch sev {
	case 1:
		s = glspproto.DiagnosticSeverityError
	case 2:
		s = glspproto.DiagnosticSeverityWarning
	case 3:
		s = glspproto.DiagnosticSeverityInformation
	case 4:
		s = glspproto.DiagnosticSeverityHint
	default:
		s = glspproto.DiagnosticSeverityError
	}

	return &s
}

// toGLSPDiagnostic converts a single editor-facing diagnostic.
func toGLSPDiagnostic(d protocol.Diagnostic) glspproto.Diagnostic {
	out := glspproto.Diagnostic{
		Range: glspproto.Range{
			Start: glspproto.Position{Line: uint32(d.Line), Character: uint32(d.Character)},
			End:   glspproto.Position{Line: uint32(d.EndLine), Character: uint32(d.EndCharacter)},
		},
		Severity: toGLSPSeverity(d.Severity),
		Message:  d.Message,
	}

	if d.Source != "" {
		source := d.Source
		out.Source = &source
	}

	if d.Code != "" {
		out.Code = &glspproto.IntegerOrString{Value: d.Code}
	}

	if d.Deprecated {
		out.Tags = []glspproto.DiagnosticTag{glspproto.DiagnosticTagDeprecated}
	}

	return out
}

// toGLSPDiagnostics converts a full diagnostics slice, never returning nil
// (an empty-but-non-nil slice clears previously published diagnostics).
func toGLSPDiagnostics(in []protocol.Diagnostic) []glspproto.Diagnostic {
	out := make([]glspproto.Diagnostic, 0, len(in))
	for _, d := range in {
		out = append(out, toGLSPDiagnostic(d))
	}

	return out
}

func symbolKindToGLSP(kind protocol.SymbolKind) glspproto.SymbolKind {
	switch kind {
	case protocol.SymbolKindFunction:
		return glspproto.SymbolKindFunction
	case protocol.SymbolKindVariable:
		return glspproto.SymbolKindVariable
	case protocol.SymbolKindClass:
		return glspproto.SymbolKindClass
	case protocol.SymbolKindConstant:
		return glspproto.SymbolKindConstant
	case protocol.SymbolKindModule:
		return glspproto.SymbolKindModule
	case protocol.SymbolKindInherit:
		return glspproto.SymbolKindInterface
	default:
		return glspproto.SymbolKindNull
	}
}
