// Package lspserver wires the mediator's core components (AnalyzeOrchestrator,
// DocumentCache, Bridge, WorkspaceScanner) to a glsp-based Language Server
// Protocol front end, and implements the read-only feature handlers (hover,
// completion, definition, references, rename) that consult the cache.
package lspserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tliron/glsp"
	glspproto "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/pike-lsp/pikels/internal/bridge"
	"github.com/pike-lsp/pikels/internal/classifier"
	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/orchestrator"
	"github.com/pike-lsp/pikels/internal/protocol"
	"github.com/pike-lsp/pikels/internal/workspace"
)

const serverName = "pikels"

// Server is the editor-facing LSP front end. It owns no analysis state of
// its own: every read goes through the DocumentCache, every mutation goes
// through the Orchestrator. Server also implements orchestrator.Publisher,
// so it can be wired in as the orchestrator's diagnostics sink before the
// orchestrator itself exists (see SetOrchestrator).
type Server struct {
	docs   *doccache.Cache
	bridge *bridge.Bridge
	ws     *workspace.Scanner
	logger *slog.Logger

	mu      sync.RWMutex
	orch    *orchestrator.Orchestrator
	glspCtx *glsp.Context
	texts   map[string]string // URI -> last-known full text, for position lookups

	handler glspproto.Handler
}

// New constructs a Server. ws may be nil if workspace-wide features
// (references, workspace symbol) are not needed. The orchestrator is wired
// in afterward via SetOrchestrator, since Server itself is its Publisher.
func New(docs *doccache.Cache, br *bridge.Bridge, ws *workspace.Scanner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		docs:   docs,
		bridge: br,
		ws:     ws,
		logger: logger,
		texts:  make(map[string]string),
	}

	srv.handler = glspproto.Handler{
		Initialize:                         srv.initialize,
		Initialized:                        srv.initialized,
		Shutdown:                           srv.shutdown,
		SetTrace:                           srv.setTrace,
		TextDocumentDidOpen:                srv.didOpen,
		TextDocumentDidChange:              srv.didChange,
		TextDocumentDidSave:                srv.didSave,
		TextDocumentDidClose:               srv.didClose,
		WorkspaceDidChangeWorkspaceFolders: srv.didChangeWorkspaceFolders,
		WorkspaceDidChangeConfiguration:    srv.didChangeConfiguration,
		TextDocumentHover:                  srv.hover,
		TextDocumentCompletion:             srv.completion,
		TextDocumentDefinition:             srv.definition,
		TextDocumentReferences:             srv.references,
		TextDocumentPrepareRename:          srv.prepareRename,
		TextDocumentRename:                 srv.rename,
	}

	return srv
}

// SetOrchestrator wires the orchestrator in after construction, breaking
// the cycle where the orchestrator's Publisher (this Server) must exist
// before the orchestrator does.
func (s *Server) SetOrchestrator(orch *orchestrator.Orchestrator) {
	s.mu.Lock()
	s.orch = orch
	s.mu.Unlock()

	if s.ws != nil {
		orch.OnAnalyzed(func(uri string, entry *doccache.Entry) {
			s.ws.SetSymbols(uri, entry.SymbolNames)
		})
	}
}

func (s *Server) orchestrator() *orchestrator.Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.orch
}

// Run starts the server on stdio, blocking until the connection closes.
func (s *Server) Run() error {
	srv := glspserver.NewServer(&s.handler, serverName, false)

	return srv.RunStdio()
}

// PublishDiagnostics implements orchestrator.Publisher by notifying the
// editor over whichever glsp connection last handled a request. Called
// asynchronously, well after the request that triggered analysis returned.
func (s *Server) PublishDiagnostics(uri string, diagnostics []protocol.Diagnostic) {
	s.mu.RLock()
	ctx := s.glspCtx
	s.mu.RUnlock()

	if ctx == nil {
		return
	}

	ctx.Notify("textDocument/publishDiagnostics", &glspproto.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toGLSPDiagnostics(diagnostics),
	})
}

func (s *Server) rememberContext(ctx *glsp.Context) {
	s.mu.Lock()
	s.glspCtx = ctx
	s.mu.Unlock()
}

func (s *Server) initialize(ctx *glsp.Context, params *glspproto.InitializeParams) (any, error) {
	s.rememberContext(ctx)

	var roots []string

	for _, folder := range params.WorkspaceFolders {
		if path := uriToPath(folder.URI); path != "" {
			roots = append(roots, path)
		}
	}

	if len(roots) == 0 && params.RootURI != nil {
		if path := uriToPath(*params.RootURI); path != "" {
			roots = append(roots, path)
		}
	}

	if s.ws != nil && len(roots) > 0 {
		go s.ws.Initialize(roots)
	}

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = glspproto.TextDocumentSyncKindFull

	version := "0.1.0"

	return glspproto.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &glspproto.InitializeResultServerInfo{
			Name:    serverName,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, _ *glspproto.InitializedParams) error {
	s.rememberContext(ctx)

	return nil
}

func (s *Server) shutdown(_ *glsp.Context) error {
	glspproto.SetTraceValue(glspproto.TraceValueOff)

	return nil
}

func (s *Server) setTrace(_ *glsp.Context, params *glspproto.SetTraceParams) error {
	glspproto.SetTraceValue(params.Value)

	return nil
}

func (s *Server) didChangeWorkspaceFolders(_ *glsp.Context, params *glspproto.DidChangeWorkspaceFoldersParams) error {
	if s.ws == nil {
		return nil
	}

	for _, added := range params.Event.Added {
		if path := uriToPath(added.URI); path != "" {
			go s.ws.AddFolder(path)
		}
	}

	for _, removed := range params.Event.Removed {
		if path := uriToPath(removed.URI); path != "" {
			s.ws.RemoveFolder(path)
		}
	}

	return nil
}

func (s *Server) didChangeConfiguration(_ *glsp.Context, _ *glspproto.DidChangeConfigurationParams) error {
	// The orchestrator's Config is fixed at construction; a live-reload
	// would replace it here. No configurable setting currently needs it.
	return nil
}

func (s *Server) setText(uri, text string) {
	s.mu.Lock()
	s.texts[uri] = text
	s.mu.Unlock()
}

func (s *Server) getText(uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.texts[uri]

	return t, ok
}

func (s *Server) dropText(uri string) {
	s.mu.Lock()
	delete(s.texts, uri)
	s.mu.Unlock()
}

func (s *Server) didOpen(ctx *glsp.Context, params *glspproto.DidOpenTextDocumentParams) error {
	s.rememberContext(ctx)

	uri := string(params.TextDocument.URI)
	text := params.TextDocument.Text
	version := int(params.TextDocument.Version)

	s.setText(uri, text)

	if orch := s.orchestrator(); orch != nil {
		orch.DidOpen(context.Background(), uri, version, text, params.TextDocument.LanguageID)
	}

	return nil
}

func (s *Server) didChange(ctx *glsp.Context, params *glspproto.DidChangeTextDocumentParams) error {
	s.rememberContext(ctx)

	uri := string(params.TextDocument.URI)
	version := int(params.TextDocument.Version)

	if len(params.ContentChanges) == 0 {
		return nil
	}

	// Full-sync mode (declared in our server capabilities): the last entry
	// in ContentChanges always carries the complete new text.
	change, ok := params.ContentChanges[len(params.ContentChanges)-1].(map[string]any)
	if !ok {
		return nil
	}

	text, ok := change["text"].(string)
	if !ok {
		return nil
	}

	s.setText(uri, text)

	var rng *classifier.Range
	if rawRange, hasRange := change["range"].(map[string]any); hasRange {
		rng = rangeFromRaw(rawRange)
	}

	if orch := s.orchestrator(); orch != nil {
		orch.DidChange(context.Background(), uri, version, text, rng)
	}

	return nil
}

func (s *Server) didSave(ctx *glsp.Context, params *glspproto.DidSaveTextDocumentParams) error {
	s.rememberContext(ctx)

	uri := string(params.TextDocument.URI)

	text, ok := s.getText(uri)
	if !ok && params.Text != nil {
		text = *params.Text
		ok = true
	}

	if !ok {
		return nil
	}

	version := 0
	if entry, hasEntry := s.docs.Get(uri); hasEntry {
		version = entry.Version
	}

	if orch := s.orchestrator(); orch != nil {
		orch.DidSave(context.Background(), uri, version, text)
	}

	return nil
}

func (s *Server) didClose(_ *glsp.Context, params *glspproto.DidCloseTextDocumentParams) error {
	uri := string(params.TextDocument.URI)

	s.dropText(uri)

	if orch := s.orchestrator(); orch != nil {
		orch.DidClose(uri)
	}

	return nil
}

func rangeFromRaw(raw map[string]any) *classifier.Range {
	start, ok := raw["start"].(map[string]any)
	if !ok {
		return nil
	}

	end, ok := raw["end"].(map[string]any)
	if !ok {
		return nil
	}

	startLine, ok := start["line"].(float64)
	if !ok {
		return nil
	}

	endLine, ok := end["line"].(float64)
	if !ok {
		return nil
	}

	return &classifier.Range{StartLine: int(startLine), EndLine: int(endLine)}
}

func uriToPath(uri string) string {
	const prefix = "file://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		return uri[len(prefix):]
	}

	return ""
}
