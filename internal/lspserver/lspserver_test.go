package lspserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glspproto "github.com/tliron/glsp/protocol_3_16"

	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/protocol"
	"github.com/pike-lsp/pikels/internal/workspace"
)

func sampleSymbols() []protocol.Symbol {
	return []protocol.Symbol{
		{
			Name: "Account", Kind: protocol.SymbolKindClass, Line: 0, Character: 6, HasPos: true,
			Children: []protocol.Symbol{
				{Name: "balance", Kind: protocol.SymbolKindVariable, Type: "int", Line: 1, Character: 6, HasPos: true},
			},
		},
		{Name: "transfer", Kind: protocol.SymbolKindFunction, Line: 5, Character: 4, HasPos: true, Deprecated: true},
	}
}

func newTestServer() (*Server, *doccache.Cache) {
	docs := doccache.New()
	srv := New(docs, nil, nil, nil)

	return srv, docs
}

func TestToGLSPDiagnosticMapsSeverityAndDeprecatedTag(t *testing.T) {
	d := protocol.Diagnostic{
		Message: "x is deprecated", Severity: 2, Line: 1, Character: 0, EndLine: 1, EndCharacter: 5, Deprecated: true,
	}

	out := toGLSPDiagnostic(d)

	assert.Equal(t, glspproto.DiagnosticSeverityWarning, *out.Severity)
	assert.Equal(t, "x is deprecated", out.Message)
	require.Len(t, out.Tags, 1)
	assert.Equal(t, glspproto.DiagnosticTagDeprecated, out.Tags[0])
}

func TestToGLSPDiagnosticsNeverReturnsNil(t *testing.T) {
	out := toGLSPDiagnostics(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestHoverReturnsNilForUnanalyzedDocument(t *testing.T) {
	srv, _ := newTestServer()

	h, err := srv.hover(nil, &glspproto.HoverParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: "file:///a.pike"},
			Position:     glspproto.Position{Line: 0, Character: 0},
		},
	})

	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestHoverDescribesKnownSymbol(t *testing.T) {
	srv, docs := newTestServer()

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{Version: 1, Symbols: sampleSymbols()})
	srv.setText(uri, "class Account {\n  int balance;\n}\n")

	h, err := srv.hover(nil, &glspproto.HoverParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 8},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Contains(t, h.Contents.(glspproto.MarkupContent).Value, "Account")
}

func TestCompletionFiltersByPrefix(t *testing.T) {
	srv, docs := newTestServer()

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{Version: 1, Symbols: sampleSymbols(), SymbolNames: doccache.SymbolNameSet(sampleSymbols())})
	srv.setText(uri, "tr\n")

	res, err := srv.completion(nil, &glspproto.CompletionParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 2},
		},
	})

	require.NoError(t, err)
	list, ok := res.(glspproto.CompletionList)
	require.True(t, ok)

	var labels []string
	for _, item := range list.Items {
		labels = append(labels, item.Label)
	}

	assert.Contains(t, labels, "transfer")
	assert.NotContains(t, labels, "balance")
}

func TestDefinitionFindsLocalSymbol(t *testing.T) {
	srv, docs := newTestServer()

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{Version: 1, Symbols: sampleSymbols()})
	srv.setText(uri, "class Account {\n  int balance;\n}\n")

	res, err := srv.definition(nil, &glspproto.DefinitionParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 8},
		},
	})

	require.NoError(t, err)
	loc, ok := res.(glspproto.Location)
	require.True(t, ok)
	assert.Equal(t, uri, string(loc.URI))
	assert.Equal(t, uint32(0), loc.Range.Start.Line)
}

func TestReferencesReturnsPositionsExcludingDeclarationsByDefault(t *testing.T) {
	srv, docs := newTestServer()

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{
		Version: 1,
		Symbols: sampleSymbols(),
		SymbolPositions: map[string][]protocol.Position{
			"transfer": {{Line: 10, Character: 2}},
		},
	})
	srv.setText(uri, "transfer(a, b);\n")

	res, err := srv.references(nil, &glspproto.ReferenceParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 2},
		},
		Context: glspproto.ReferenceContext{IncludeDeclaration: false},
	})

	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint32(10), res[0].Range.Start.Line)
}

func TestRenameProducesEditsForEveryOccurrence(t *testing.T) {
	srv, docs := newTestServer()

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{
		Version: 1,
		Symbols: sampleSymbols(),
		SymbolPositions: map[string][]protocol.Position{
			"transfer": {{Line: 10, Character: 2}},
		},
	})
	srv.setText(uri, "transfer(a, b);\n")

	edit, err := srv.rename(nil, &glspproto.RenameParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 2},
		},
		NewName: "move",
	})

	require.NoError(t, err)
	require.NotNil(t, edit)
	changes := edit.Changes[uri]
	// One edit for the declaration (from Symbols) plus one for the
	// reference occurrence recorded in SymbolPositions.
	assert.Len(t, changes, 2)

	for _, c := range changes {
		assert.Equal(t, "move", c.NewText)
	}
}

func TestCompletionIncludesWorkspaceWideNames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.pike"), []byte("int Helper;\n"), 0o644))

	ws := workspace.New(workspace.Options{}, nil)
	ws.Initialize([]string{root})

	otherURI := ws.Files()[0].URI
	ws.SetSymbols(otherURI, map[string]struct{}{"Helper": {}})

	docs := doccache.New()
	srv := New(docs, nil, ws, nil)

	uri := "file:///a.pike"
	docs.Set(uri, &doccache.Entry{Version: 1})
	srv.setText(uri, "He\n")

	res, err := srv.completion(nil, &glspproto.CompletionParams{
		TextDocumentPositionParams: glspproto.TextDocumentPositionParams{
			TextDocument: glspproto.TextDocumentIdentifier{URI: glspproto.DocumentUri(uri)},
			Position:     glspproto.Position{Line: 0, Character: 2},
		},
	})

	require.NoError(t, err)
	list, ok := res.(glspproto.CompletionList)
	require.True(t, ok)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Helper", list.Items[0].Label)
}
