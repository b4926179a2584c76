package orchestrator_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pike-lsp/pikels/internal/bridge"
	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/orchestrator"
	"github.com/pike-lsp/pikels/internal/protocol"
	"github.com/pike-lsp/pikels/internal/scheduler"
	"github.com/pike-lsp/pikels/internal/transport"
)

// analyzerRunner is a minimal in-process transport.Runner standing in for
// the analyzer subprocess: it answers every request with a fixed analyze
// result over an in-memory pipe, exercising the real Transport/Bridge stack
// underneath the orchestrator rather than a hand-rolled double.
type analyzerRunner struct {
	stdinR  io.ReadCloser
	stdinW  io.WriteCloser
	stdoutR io.ReadCloser
	stdoutW io.WriteCloser
	stderrR io.ReadCloser
	stderrW io.WriteCloser
}

func newAnalyzerRunner() *analyzerRunner {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	return &analyzerRunner{stdinR: inR, stdinW: inW, stdoutR: outR, stdoutW: outW, stderrR: errR, stderrW: errW}
}

func (a *analyzerRunner) Start(_ context.Context, _ string, _ []string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	go a.serve()

	return a.stdinW, a.stdoutR, a.stderrR, nil
}

func (a *analyzerRunner) Wait() error { return nil }
func (a *analyzerRunner) Kill() error { return nil }

func (a *analyzerRunner) serve() {
	scanner := bufio.NewScanner(a.stdinR)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		var req protocol.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := protocol.Response{ID: req.ID}

		if req.Method == protocol.MethodVersion {
			r, _ := json.Marshal(protocol.VersionResult{Version: "fake-1.0"})
			resp.Result = r
		} else {
			result := protocol.AnalyzeResponse{
				Result: protocol.AnalyzeResultSet{
					Parse: &protocol.ParseResult{
						Symbols: []protocol.Symbol{{Name: "x", Kind: protocol.SymbolKindVariable, Line: 0, HasPos: true}},
					},
				},
			}
			r, _ := json.Marshal(result)
			resp.Result = r
		}

		line, _ := json.Marshal(resp)
		line = append(line, '\n')
		_, _ = a.stdoutW.Write(line)
	}
}

func fakeSpawner(_ *testing.T) bridge.Spawner {
	return func(ctx context.Context) (*transport.Transport, error) {
		runner := newAnalyzerRunner()
		tr := transport.New(runner, nil)

		return tr, tr.Connect(ctx, "fake-analyzer", nil)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	seen map[string][]protocol.Diagnostic
	ch   chan string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{seen: make(map[string][]protocol.Diagnostic), ch: make(chan string, 16)}
}

func (p *recordingPublisher) PublishDiagnostics(uri string, diagnostics []protocol.Diagnostic) {
	p.mu.Lock()
	p.seen[uri] = diagnostics
	p.mu.Unlock()

	select {
	case p.ch <- uri:
	default:
	}
}

func (p *recordingPublisher) awaitFirst(t *testing.T, uri string) []protocol.Diagnostic {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		select {
		case got := <-p.ch:
			if got == uri {
				return p.last(uri)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for diagnostics publish for %s", uri)

			return nil
		}
	}
}

func (p *recordingPublisher) last(uri string) []protocol.Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.seen[uri]
}

func TestOrchestratorFullValidatePublishesMergedDiagnostics(t *testing.T) {
	t.Parallel()

	b := bridge.New(fakeSpawner(t), nil)
	require.NoError(t, b.Start(context.Background()))

	docs := doccache.New()
	sched := scheduler.New(nil)
	defer sched.Close()

	pub := newRecordingPublisher()
	orch := orchestrator.New(b, docs, sched, pub, orchestrator.Config{
		DiagnosticDelay:     10 * time.Millisecond,
		MaxNumberOfProblems: 100,
	}, nil)

	orch.DidOpen(context.Background(), "file:///a.pike", 1, "int x;\n", "pike")

	diags := pub.awaitFirst(t, "file:///a.pike")
	assert.NotNil(t, diags)

	entry, ok := docs.Get("file:///a.pike")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Version)
}

func TestOnAnalyzedHookFiresAfterEntryIsStored(t *testing.T) {
	t.Parallel()

	b := bridge.New(fakeSpawner(t), nil)
	require.NoError(t, b.Start(context.Background()))

	docs := doccache.New()
	sched := scheduler.New(nil)
	defer sched.Close()

	pub := newRecordingPublisher()
	orch := orchestrator.New(b, docs, sched, pub, orchestrator.Config{
		DiagnosticDelay:     10 * time.Millisecond,
		MaxNumberOfProblems: 100,
	}, nil)

	hookCh := make(chan map[string]struct{}, 1)
	orch.OnAnalyzed(func(uri string, entry *doccache.Entry) {
		hookCh <- entry.SymbolNames
	})

	orch.DidOpen(context.Background(), "file:///a.pike", 1, "int x;\n", "pike")
	pub.awaitFirst(t, "file:///a.pike")

	select {
	case names := <-hookCh:
		assert.Contains(t, names, "x")
	case <-time.After(2 * time.Second):
		t.Fatal("onAnalyzed hook did not fire")
	}
}

func TestDidChangeDropsStaleDebounceFiring(t *testing.T) {
	t.Parallel()

	b := bridge.New(fakeSpawner(t), nil)
	require.NoError(t, b.Start(context.Background()))

	docs := doccache.New()
	sched := scheduler.New(nil)
	defer sched.Close()

	pub := newRecordingPublisher()
	orch := orchestrator.New(b, docs, sched, pub, orchestrator.Config{
		DiagnosticDelay:     20 * time.Millisecond,
		MaxNumberOfProblems: 100,
	}, nil)

	orch.DidChange(context.Background(), "file:///a.pike", 1, "int x;\n", nil)
	// A newer change supersedes the first before its timer fires.
	orch.DidChange(context.Background(), "file:///a.pike", 2, "int y;\n", nil)

	pub.awaitFirst(t, "file:///a.pike")

	entry, ok := docs.Get("file:///a.pike")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Version)
}

func TestDidCloseClearsEntryAndPublishesEmptyDiagnostics(t *testing.T) {
	t.Parallel()

	b := bridge.New(fakeSpawner(t), nil)
	require.NoError(t, b.Start(context.Background()))

	docs := doccache.New()
	sched := scheduler.New(nil)
	defer sched.Close()

	pub := newRecordingPublisher()
	orch := orchestrator.New(b, docs, sched, pub, orchestrator.DefaultConfig(), nil)

	orch.DidOpen(context.Background(), "file:///a.pike", 1, "int x;\n", "pike")
	pub.awaitFirst(t, "file:///a.pike")

	orch.DidClose("file:///a.pike")

	_, ok := docs.Get("file:///a.pike")
	assert.False(t, ok)

	diags := pub.last("file:///a.pike")
	assert.Empty(t, diags)
}
