// Package bridge owns the analyzer subprocess lifecycle, deduplicates
// identical concurrent requests, and exposes a typed set of operations —
// the most important being Analyze — to the rest of the mediator.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pike-lsp/pikels/internal/protocol"
	"github.com/pike-lsp/pikels/internal/transport"
)

// State is the Bridge's subprocess lifecycle state.
type State int

// Bridge states, per the design notes' "model it as a state machine" guidance.
const (
	NotStarted State = iota
	Starting
	Running
	Crashed
	Restarting
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Crashed:
		return "Crashed"
	case Restarting:
		return "Restarting"
	default:
		return "Unknown"
	}
}

// Errors surfaced by Bridge operations.
var (
	ErrSubprocessExited = errors.New("bridge: subprocess exited")
	ErrTimeout          = errors.New("bridge: request timed out")
	ErrNotRunning       = errors.New("bridge: analyzer not running")
)

const (
	defaultRequestTimeout = 30 * time.Second
	stderrRingSize        = 20
)

// Spawner starts a fresh Transport connected to a real or fake analyzer.
// Production code supplies one that execs the pike binary; tests supply one
// that wires a transport.Runner to an in-process fake.
type Spawner func(ctx context.Context) (*transport.Transport, error)

// Status is the lightweight diagnostics snapshot exposed to operators.
type Status struct {
	StartedAt    time.Time
	Version      string
	LastStderr   []string
	State        State
	RestartCount int
}

// Bridge wraps a Transport with lifecycle management, request
// deduplication, and typed operation wrappers.
type Bridge struct {
	spawn  Spawner
	logger *slog.Logger
	timeout time.Duration

	mu           sync.Mutex
	state        State
	tr           *transport.Transport
	startedAt    time.Time
	version      string
	stderrRing   []string
	restartCount int

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	resp protocol.AnalyzeResponse
	err  error
}

// New constructs a Bridge. spawn is called whenever a fresh subprocess
// connection is needed (first start, or lazy restart after a crash).
func New(spawn Spawner, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		spawn:    spawn,
		logger:   logger,
		timeout:  defaultRequestTimeout,
		state:    NotStarted,
		inflight: make(map[string]*inflightCall),
	}
}

// SetTimeout overrides the per-request wall-clock timeout.
func (b *Bridge) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeout = d
}

// Start spawns the analyzer subprocess if it is not already running.
// Version information is fetched in the background and does not delay
// the caller.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()

	if b.state == Running || b.state == Starting {
		b.mu.Unlock()

		return nil
	}

	b.state = Starting
	b.mu.Unlock()

	tr, err := b.spawn(ctx)
	if err != nil {
		b.mu.Lock()
		b.state = Crashed
		b.mu.Unlock()

		return fmt.Errorf("spawn analyzer: %w", err)
	}

	b.mu.Lock()
	b.tr = tr
	b.state = Running
	b.startedAt = time.Now()
	b.mu.Unlock()

	go b.watchStderr(tr)
	go b.watchExit(tr)
	go b.fetchVersionInBackground(ctx)

	return nil
}

// Stop tears down the analyzer subprocess.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	tr := b.tr
	b.state = NotStarted
	b.tr = nil
	b.mu.Unlock()

	if tr == nil {
		return nil
	}

	return tr.Close()
}

func (b *Bridge) watchStderr(tr *transport.Transport) {
	for ev := range tr.Stderr() {
		b.mu.Lock()
		b.stderrRing = append(b.stderrRing, ev.Text)

		if len(b.stderrRing) > stderrRingSize {
			b.stderrRing = b.stderrRing[len(b.stderrRing)-stderrRingSize:]
		}

		b.mu.Unlock()
	}
}

func (b *Bridge) watchExit(tr *transport.Transport) {
	<-tr.Exit()

	b.mu.Lock()
	if b.tr == tr {
		b.state = Crashed
	}
	b.mu.Unlock()
}

func (b *Bridge) fetchVersionInBackground(ctx context.Context) {
	resp, err := b.send(ctx, protocol.MethodVersion, nil)
	if err != nil {
		return
	}

	var v protocol.VersionResult
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		return
	}

	b.mu.Lock()
	b.version = v.Version
	b.mu.Unlock()
}

// Status returns a snapshot of the Bridge's current lifecycle diagnostics.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := make([]string, len(b.stderrRing))
	copy(tail, b.stderrRing)

	return Status{
		State:        b.state,
		StartedAt:    b.startedAt,
		Version:      b.version,
		LastStderr:   tail,
		RestartCount: b.restartCount,
	}
}

// ensureRunning lazily restarts the subprocess if it has crashed or was
// never started, at most once per call.
func (b *Bridge) ensureRunning(ctx context.Context) error {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	if state == Running {
		return nil
	}

	b.mu.Lock()
	b.state = Restarting
	b.restartCount++
	restartCount := b.restartCount
	b.mu.Unlock()

	// Restart resets inflight state: stale futures from the dead subprocess
	// must never be handed a result computed against the new one.
	b.inflightMu.Lock()
	for k, c := range b.inflight {
		c.err = ErrSubprocessExited
		close(c.done)
		delete(b.inflight, k)
	}
	b.inflightMu.Unlock()

	if err := b.Start(ctx); err != nil {
		b.logger.Warn("analyzer restart failed", "restart_count", restartCount, "error", err)

		return err
	}

	return nil
}

// send issues one request to the analyzer and waits for the matching
// response or the configured timeout, restarting the subprocess lazily if
// it is not currently running.
func (b *Bridge) send(ctx context.Context, method string, params json.RawMessage) (protocol.Response, error) {
	if err := b.ensureRunning(ctx); err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}

	b.mu.Lock()
	tr := b.tr
	timeout := b.timeout
	b.mu.Unlock()

	if tr == nil {
		return protocol.Response{}, ErrNotRunning
	}

	ch, err := tr.Send(ctx, method, params)
	if err != nil {
		if errors.Is(err, transport.ErrSubprocessExited) {
			return protocol.Response{}, ErrSubprocessExited
		}

		return protocol.Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, transport.ErrSubprocessExited) {
				return protocol.Response{}, ErrSubprocessExited
			}

			return protocol.Response{}, res.Err
		}

		if res.Resp.Error != nil {
			return res.Resp, fmt.Errorf("analyzer error %d: %s", res.Resp.Error.Code, res.Resp.Error.Message)
		}

		return res.Resp, nil
	case <-timer.C:
		return protocol.Response{}, ErrTimeout
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// fingerprint canonicalizes method + params for in-flight deduplication,
// independent of RequestScheduler's key-based supersession.
func fingerprint(method string, params json.RawMessage) string {
	canonical := canonicalizeJSON(params)

	return method + "\x00" + canonical
}

func canonicalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	var sb sortedBuilder

	sb.write(v)

	return sb.String()
}

type sortedBuilder struct {
	buf []byte
}

func (s *sortedBuilder) String() string { return string(s.buf) }

func (s *sortedBuilder) write(v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		s.buf = append(s.buf, '{')

		for i, k := range keys {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}

			s.buf = append(s.buf, []byte(fmt.Sprintf("%q:", k))...)
			s.write(val[k])
		}

		s.buf = append(s.buf, '}')
	case []any:
		s.buf = append(s.buf, '[')

		for i, e := range val {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}

			s.write(e)
		}

		s.buf = append(s.buf, ']')
	default:
		encoded, _ := json.Marshal(val)
		s.buf = append(s.buf, encoded...)
	}
}

// analyzeDedup performs the unified request, deduplicating identical
// concurrent calls by fingerprint so that two callers issuing the same
// (method, canonicalized params) pair produce exactly one analyzer round
// trip and both receive the same resolved value.
func (b *Bridge) analyzeDedup(ctx context.Context, params protocol.AnalyzeParams) (protocol.AnalyzeResponse, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return protocol.AnalyzeResponse{}, fmt.Errorf("marshal analyze params: %w", err)
	}

	fp := fingerprint(protocol.MethodAnalyze, raw)

	b.inflightMu.Lock()

	if existing, ok := b.inflight[fp]; ok {
		b.inflightMu.Unlock()
		<-existing.done

		return existing.resp, existing.err
	}

	call := &inflightCall{done: make(chan struct{})}
	b.inflight[fp] = call
	b.inflightMu.Unlock()

	resp, err := b.send(ctx, protocol.MethodAnalyze, raw)

	var decoded protocol.AnalyzeResponse

	if err == nil {
		err = json.Unmarshal(resp.Result, &decoded)
	}

	b.inflightMu.Lock()
	// A restart may already have rejected and removed this call; only a
	// call still registered under fp is resolved here.
	if b.inflight[fp] == call {
		call.resp = decoded
		call.err = err
		close(call.done)
		delete(b.inflight, fp)
	}
	b.inflightMu.Unlock()

	return decoded, err
}

// Analyze is the unified workhorse: one round trip replaces what would
// historically be separate parse/introspect/diagnostics calls.
func (b *Bridge) Analyze(ctx context.Context, code, filename string, include []string, documentVersion int) (protocol.AnalyzeResponse, error) {
	return b.analyzeDedup(ctx, protocol.AnalyzeParams{
		Code:            code,
		Filename:        filename,
		Include:         include,
		DocumentVersion: documentVersion,
	})
}

// Parse is a thin wrapper over send for the standalone `parse` method.
func (b *Bridge) Parse(ctx context.Context, code, filename string) (protocol.ParseResult, error) {
	raw, _ := json.Marshal(map[string]string{"code": code, "filename": filename})

	resp, err := b.send(ctx, protocol.MethodParse, raw)
	if err != nil {
		return protocol.ParseResult{}, err
	}

	var out protocol.ParseResult

	return out, json.Unmarshal(resp.Result, &out)
}

// FindOccurrences is a thin wrapper over send.
func (b *Bridge) FindOccurrences(ctx context.Context, code string) ([]protocol.Token, error) {
	raw, _ := json.Marshal(map[string]string{"code": code})

	resp, err := b.send(ctx, protocol.MethodFindOccurrences, raw)
	if err != nil {
		return nil, err
	}

	var out struct {
		Occurrences []protocol.Token `json:"occurrences"`
	}

	return out.Occurrences, json.Unmarshal(resp.Result, &out)
}

// PrepareRename is a thin wrapper over send.
func (b *Bridge) PrepareRename(ctx context.Context, code string, line, character int) (json.RawMessage, error) {
	raw, _ := json.Marshal(map[string]any{"code": code, "line": line, "character": character})

	resp, err := b.send(ctx, protocol.MethodPrepareRename, raw)
	if err != nil {
		return nil, err
	}

	return resp.Result, nil
}

// FindRenamePositions is a thin wrapper over send.
func (b *Bridge) FindRenamePositions(ctx context.Context, code, symbolName string) ([]protocol.Position, error) {
	raw, _ := json.Marshal(map[string]string{"code": code, "symbolName": symbolName})

	resp, err := b.send(ctx, protocol.MethodFindRenamePositions, raw)
	if err != nil {
		return nil, err
	}

	var out struct {
		Positions []protocol.Position `json:"positions"`
	}

	return out.Positions, json.Unmarshal(resp.Result, &out)
}

// GetCompletionContext is a thin wrapper over send.
func (b *Bridge) GetCompletionContext(ctx context.Context, code string, line, character int) (protocol.CompletionContext, error) {
	raw, _ := json.Marshal(map[string]any{"code": code, "line": line, "character": character})

	resp, err := b.send(ctx, protocol.MethodGetCompletionContext, raw)
	if err != nil {
		return protocol.CompletionContext{}, err
	}

	var out protocol.CompletionContext

	return out, json.Unmarshal(resp.Result, &out)
}

// ResolveModule is a thin wrapper over send.
func (b *Bridge) ResolveModule(ctx context.Context, module, currentFile string) (protocol.ResolveResult, error) {
	raw, _ := json.Marshal(map[string]string{"module": module, "currentFile": currentFile})

	resp, err := b.send(ctx, protocol.MethodResolve, raw)
	if err != nil {
		return protocol.ResolveResult{}, err
	}

	var out protocol.ResolveResult

	return out, json.Unmarshal(resp.Result, &out)
}

// AnalyzeUninitialized is a thin wrapper over send.
func (b *Bridge) AnalyzeUninitialized(ctx context.Context, code, filename string) ([]protocol.Diagnostic, error) {
	raw, _ := json.Marshal(map[string]string{"code": code, "filename": filename})

	resp, err := b.send(ctx, protocol.MethodAnalyzeUninitialized, raw)
	if err != nil {
		return nil, err
	}

	var out protocol.DiagnosticsResult

	return out.Diagnostics, json.Unmarshal(resp.Result, &out)
}

// EvaluateConstant is a thin wrapper over send.
func (b *Bridge) EvaluateConstant(ctx context.Context, code, expr string) (json.RawMessage, error) {
	raw, _ := json.Marshal(map[string]string{"code": code, "expr": expr})

	resp, err := b.send(ctx, protocol.MethodEvaluateConstant, raw)
	if err != nil {
		return nil, err
	}

	return resp.Result, nil
}

// CacheStats is a thin wrapper over send.
func (b *Bridge) CacheStats(ctx context.Context) (protocol.CacheStats, error) {
	resp, err := b.send(ctx, protocol.MethodGetCacheStats, nil)
	if err != nil {
		return protocol.CacheStats{}, err
	}

	var out protocol.CacheStats

	return out, json.Unmarshal(resp.Result, &out)
}
