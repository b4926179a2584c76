// Package orchestrator translates editor document-lifecycle events into
// analyzer requests and document-cache mutations, respecting debouncing,
// version monotonicity, and supersession.
package orchestrator

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pike-lsp/pikels/internal/bridge"
	"github.com/pike-lsp/pikels/internal/classifier"
	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/protocol"
	"github.com/pike-lsp/pikels/internal/scheduler"
)

// Publisher is the editor-facing sink for diagnostics.
type Publisher interface {
	PublishDiagnostics(uri string, diagnostics []protocol.Diagnostic)
}

// Config bundles the orchestrator's tunables. It is fixed when the
// orchestrator is constructed (cmd/pikels fills it from the loaded config
// file); editor configuration changes do not update it.
type Config struct {
	DiagnosticDelay     time.Duration
	MaxNumberOfProblems int
}

// DefaultConfig matches the design's defaults.
func DefaultConfig() Config {
	return Config{
		DiagnosticDelay:     300 * time.Millisecond,
		MaxNumberOfProblems: 100,
	}
}

// moduleResolutionNoise filters introspection diagnostics that are pure
// module-resolution chatter rather than something the editor should show.
var moduleResolutionNoise = regexp.MustCompile(`(?i)module.*resolution|unresolved include path`)

type uriState struct {
	mu              sync.Mutex
	timer           *time.Timer
	expectedVersion int
}

// Orchestrator is the AnalyzeOrchestrator: one instance per workspace
// session, wired to a Bridge, a DocumentCache, and a RequestScheduler.
type Orchestrator struct {
	bridge *bridge.Bridge
	docs   *doccache.Cache
	sched  *scheduler.Scheduler
	pub    Publisher
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*uriState

	// onAnalyzed, if set, is called after each successful full validation,
	// after the cache entry is stored but before diagnostics are published.
	// The WorkspaceScanner uses this to keep its symbol index current
	// without the orchestrator needing to know it exists.
	onAnalyzed func(uri string, entry *doccache.Entry)
}

// New constructs an Orchestrator.
func New(b *bridge.Bridge, docs *doccache.Cache, sched *scheduler.Scheduler, pub Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		bridge: b,
		docs:   docs,
		sched:  sched,
		pub:    pub,
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*uriState),
	}
}

// OnAnalyzed registers a callback invoked after each successful full
// validation. Only one callback is supported; a later call replaces an
// earlier one.
func (o *Orchestrator) OnAnalyzed(fn func(uri string, entry *doccache.Entry)) {
	o.mu.Lock()
	o.onAnalyzed = fn
	o.mu.Unlock()
}

func (o *Orchestrator) stateFor(uri string) *uriState {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.states[uri]
	if !ok {
		s = &uriState{}
		o.states[uri] = s
	}

	return s
}

// DidOpen runs validation immediately, with no debounce.
func (o *Orchestrator) DidOpen(ctx context.Context, uri string, version int, text, languageID string) {
	o.stopTimer(uri)
	o.validateScheduled(ctx, uri, version, text, scheduler.Interactive)
}

// DidSave runs validation immediately, with no debounce.
func (o *Orchestrator) DidSave(ctx context.Context, uri string, version int, text string) {
	o.stopTimer(uri)
	o.validateScheduled(ctx, uri, version, text, scheduler.Interactive)
}

// DidChange schedules a debounced validation at the configured delay.
// rng, if non-nil, is the line range the editor reported as touched; it is
// threaded through to the ChangeClassifier when the timer fires.
func (o *Orchestrator) DidChange(ctx context.Context, uri string, version int, text string, rng *classifier.Range) {
	s := o.stateFor(uri)

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}

	s.expectedVersion = version

	s.timer = time.AfterFunc(o.cfg.DiagnosticDelay, func() {
		o.onDebounceFired(ctx, uri, version, text, rng)
	})
	s.mu.Unlock()
}

// DidClose clears the document's cache entry, type information, and any
// pending timer, and emits an empty diagnostics notification.
func (o *Orchestrator) DidClose(uri string) {
	o.stopTimer(uri)
	o.docs.Delete(uri)
	o.sched.CancelPendingByKey(uri)

	o.mu.Lock()
	delete(o.states, uri)
	o.mu.Unlock()

	o.pub.PublishDiagnostics(uri, []protocol.Diagnostic{})
}

func (o *Orchestrator) stopTimer(uri string) {
	o.mu.Lock()
	s, ok := o.states[uri]
	o.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// onDebounceFired is the timer callback. It enforces the version gate
// before doing anything else: if a newer change has since been recorded
// for this URI, this firing is stale and must be dropped entirely, never
// overwriting a fresher snapshot.
func (o *Orchestrator) onDebounceFired(ctx context.Context, uri string, version int, text string, rng *classifier.Range) {
	s := o.stateFor(uri)

	s.mu.Lock()
	stale := s.expectedVersion != version
	s.mu.Unlock()

	if stale {
		return
	}

	prior, hasPrior := o.docs.Get(uri)

	var snap *classifier.Snapshot
	if hasPrior {
		snap = &classifier.Snapshot{ContentHash: prior.ContentHash, LineHashes: prior.LineHashes}
	}

	decision := classifier.Classify(snap, text, rng)

	if decision.CanSkip {
		if hasPrior {
			updated := *prior
			updated.Version = version
			updated.ContentHash = decision.ContentHash
			updated.LineHashes = decision.LineHashes
			o.docs.Set(uri, &updated)
		}

		return
	}

	o.validateScheduled(ctx, uri, version, text, scheduler.Typing)
}

// validateScheduled runs full validation through the RequestScheduler, keyed
// by uri so a newer validation for the same document supersedes an older,
// not-yet-started one.
func (o *Orchestrator) validateScheduled(ctx context.Context, uri string, version int, text string, class scheduler.Class) {
	o.docs.SetPending(uri)

	o.sched.Schedule(ctx, class, uri, 0, func(innerCtx context.Context, checkpoint scheduler.Checkpoint) (any, error) {
		o.fullValidate(innerCtx, uri, version, text, checkpoint)

		return nil, nil
	})
}

// fullValidate is the full-validation procedure.
func (o *Orchestrator) fullValidate(ctx context.Context, uri string, version int, text string, checkpoint scheduler.Checkpoint) {
	if err := checkpoint(); err != nil {
		return
	}

	include := []string{protocol.IncludeParse, protocol.IncludeIntrospect, protocol.IncludeDiagnostics, protocol.IncludeTokenize}

	resp, err := o.bridge.Analyze(ctx, text, uri, include, version)
	if err != nil {
		o.logger.Warn("analyze failed", "uri", uri, "err", err)

		return
	}

	if err := checkpoint(); err != nil {
		return
	}

	entry := buildEntry(version, text, resp)
	o.docs.Set(uri, entry)

	o.mu.Lock()
	hook := o.onAnalyzed
	o.mu.Unlock()

	if hook != nil {
		hook(uri, entry)
	}

	diags := collectDiagnostics(entry, o.cfg.MaxNumberOfProblems)
	o.pub.PublishDiagnostics(uri, diags)
}

func buildEntry(version int, text string, resp protocol.AnalyzeResponse) *doccache.Entry {
	entry := &doccache.Entry{
		Version:     version,
		ContentHash: classifier.HashContent(text),
		LineHashes:  classifier.HashLines(text),
	}

	var parseSymbols, introspectSymbols []protocol.Symbol
	var tokens []protocol.Token

	if resp.Result.Parse != nil {
		parseSymbols = resp.Result.Parse.Symbols
		entry.Diagnostics = append(entry.Diagnostics, resp.Result.Parse.Diagnostics...)
	}

	if resp.Result.Introspect != nil {
		introspectSymbols = resp.Result.Introspect.Symbols
		entry.Introspection = resp.Result.Introspect
		entry.Inherits = resp.Result.Introspect.Inherits
	}

	if resp.Result.Diagnostics != nil {
		// The analyzer's combined "diagnostics" operation folds in
		// uninitialized-variable checks, so this single field covers what
		// the design calls out as a third, logically separate source.
		entry.Diagnostics = append(entry.Diagnostics, resp.Result.Diagnostics.Diagnostics...)
	}

	if resp.Result.Tokenize != nil {
		tokens = resp.Result.Tokenize.Tokens
	}

	entry.Symbols = mergeSymbols(parseSymbols, introspectSymbols)
	entry.SymbolNames = doccache.SymbolNameSet(entry.Symbols)

	if len(tokens) > 0 {
		entry.SymbolPositions = doccache.BuildSymbolPositions(tokens, entry.Symbols)
	} else {
		entry.SymbolPositions = doccache.BuildSymbolPositionsFallback(text, entry.Symbols)
	}

	return entry
}

// mergeSymbols merges parse symbols (which carry source positions) with
// introspection symbols (which carry types and modifiers), matched by
// name. Parse's position wins; introspection's type/modifiers win;
// introspection-only symbols are appended as-is.
func mergeSymbols(parseSymbols, introspectSymbols []protocol.Symbol) []protocol.Symbol {
	if len(parseSymbols) == 0 {
		return introspectSymbols
	}

	byName := make(map[string]int, len(parseSymbols))

	merged := make([]protocol.Symbol, len(parseSymbols))
	copy(merged, parseSymbols)

	for i, s := range merged {
		byName[s.Name] = i
	}

	for _, is := range introspectSymbols {
		if idx, ok := byName[is.Name]; ok {
			merged[idx].Type = is.Type
			merged[idx].Modifiers = is.Modifiers
			merged[idx].Deprecated = is.Deprecated

			continue
		}

		merged = append(merged, is)
	}

	return merged
}

// collectDiagnostics assembles parse, introspection, and
// uninitialized-variable diagnostics into the editor-facing list, filtering
// module-resolution noise and capping the total.
func collectDiagnostics(entry *doccache.Entry, maxProblems int) []protocol.Diagnostic {
	var out []protocol.Diagnostic

	out = append(out, entry.Diagnostics...)

	deprecated := make(map[string]struct{})

	if entry.Introspection != nil {
		for _, s := range entry.Introspection.Symbols {
			if s.Deprecated {
				deprecated[s.Name] = struct{}{}
			}
		}

		for _, d := range entry.Introspection.Diagnostics {
			if moduleResolutionNoise.MatchString(d.Message) {
				continue
			}

			out = append(out, d)
		}
	}

	for i := range out {
		for name := range deprecated {
			if name != "" && strings.Contains(out[i].Message, name) {
				out[i].Deprecated = true

				break
			}
		}
	}

	if maxProblems > 0 && len(out) > maxProblems {
		out = out[:maxProblems]
	}

	return out
}
