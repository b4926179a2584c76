package mcpdiag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pike-lsp/pikels/internal/bridge"
	"github.com/pike-lsp/pikels/internal/compilecache"
	"github.com/pike-lsp/pikels/internal/observability"
	"github.com/pike-lsp/pikels/internal/scheduler"
)

const (
	serverName    = "pikels-diag"
	serverVersion = "1.0.0"

	toolCount = 3
)

// ServerDeps holds injectable dependencies for the diagnostics server.
// Zero-value fields use production defaults; a nil source function disables
// its corresponding tool's data (the tool still registers but reports zero
// values).
type ServerDeps struct {
	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer

	// CacheStats returns a compile cache stats snapshot.
	CacheStats func() compilecache.Stats

	// QueueDepths returns the scheduler's pending task count per class.
	QueueDepths func() map[scheduler.Class]int

	// BridgeStatus returns the analyzer bridge's current status.
	BridgeStatus func() bridge.Status
}

// Server wraps the MCP SDK server with pikels diagnostic tool registrations.
type Server struct {
	inner *mcpsdk.Server
	mu    sync.RWMutex
	tools []string

	metrics *observability.REDMetrics
	tracer  trace.Tracer
	deps    ServerDeps
}

// NewServer creates a new MCP diagnostics server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:   inner,
		tools:   make([]string, 0, toolCount),
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		deps:    deps,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the diagnostics server on stdio transport. It blocks until the
// context is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcpdiag server: %w", err)
	}

	return nil
}

// RunWithTransport starts the diagnostics server on the given transport. It
// blocks until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcpdiag server: %w", err)
	}

	return nil
}

func (s *Server) registerTools() {
	s.registerCacheStatsTool()
	s.registerSchedulerStatsTool()
	s.registerBridgeStatusTool()
}

func (s *Server) registerCacheStatsTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameCacheStats,
		Description: cacheStatsToolDescription,
	}, withMetrics(s.metrics, ToolNameCacheStats, withTracing(s.tracer, ToolNameCacheStats, s.handleCacheStats)))

	s.trackTool(ToolNameCacheStats)
}

func (s *Server) registerSchedulerStatsTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameSchedulerStats,
		Description: schedulerStatsToolDescription,
	}, withMetrics(s.metrics, ToolNameSchedulerStats, withTracing(s.tracer, ToolNameSchedulerStats, s.handleSchedulerStats)))

	s.trackTool(ToolNameSchedulerStats)
}

func (s *Server) registerBridgeStatusTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameBridgeStatus,
		Description: bridgeStatusToolDescription,
	}, withMetrics(s.metrics, ToolNameBridgeStatus, withTracing(s.tracer, ToolNameBridgeStatus, s.handleBridgeStatus)))

	s.trackTool(ToolNameBridgeStatus)
}

func (s *Server) handleCacheStats(
	_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.deps.CacheStats == nil {
		return jsonResult(compilecache.Stats{})
	}

	return jsonResult(s.deps.CacheStats())
}

// schedulerStatsOutput reports queue depth by class name rather than the
// internal integer Class value, since the tool output is consumed outside
// the module.
type schedulerStatsOutput struct {
	Typing      int `json:"typing"`
	Interactive int `json:"interactive"`
	Background  int `json:"background"`
}

func (s *Server) handleSchedulerStats(
	_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	out := schedulerStatsOutput{}

	if s.deps.QueueDepths != nil {
		depths := s.deps.QueueDepths()
		out.Typing = depths[scheduler.Typing]
		out.Interactive = depths[scheduler.Interactive]
		out.Background = depths[scheduler.Background]
	}

	return jsonResult(out)
}

func (s *Server) handleBridgeStatus(
	_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.deps.BridgeStatus == nil {
		return jsonResult(bridge.Status{})
	}

	return jsonResult(s.deps.BridgeStatus())
}

const mcpSpanPrefix = "mcpdiag."

const traceIDMetaKey = "trace_id"

// withTracing wraps a diagnostic tool handler to create an OTel span per
// invocation and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps a diagnostic tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}
