package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pike-lsp/pikels/internal/config"
	"github.com/pike-lsp/pikels/internal/mcpdiag"
	"github.com/pike-lsp/pikels/internal/observability"
	"github.com/pike-lsp/pikels/internal/scheduler"
	"github.com/pike-lsp/pikels/pkg/version"
)

// NewMCPCommand creates the MCP diagnostics server command. configPath is
// bound to the root command's persistent flag.
func NewMCPCommand(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run a read-only MCP diagnostics server on stdio",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport,
exposing read-only diagnostics over a standalone analyzer connection:
  - pike_cache_stats: compile cache occupancy (zero until a cache is wired in)
  - pike_scheduler_stats: pending request count by priority class
  - pike_bridge_status: analyzer subprocess lifecycle state`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runMCP(cobraCmd.Context(), *configPath, debug)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}

func runMCP(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := initMCPObservability(debug)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("build RED metrics: %w", err)
	}

	dispatchMetrics, err := observability.NewSchedulerDispatchMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("build scheduler metrics: %w", err)
	}

	sched := scheduler.New(dispatchMetrics)
	defer sched.Close()

	br := newBridge(cfg, providers.Logger)

	if startErr := br.Start(ctx); startErr != nil {
		providers.Logger.Warn("analyzer did not start cleanly; diagnostics will report degraded state", "error", startErr)
	}

	deps := mcpdiag.ServerDeps{
		Logger:       providers.Logger,
		Metrics:      red,
		Tracer:       providers.Tracer,
		QueueDepths:  sched.QueueDepths,
		BridgeStatus: br.Status,
	}

	srv := mcpdiag.NewServer(deps)

	return srv.Run(ctx)
}

func initMCPObservability(debug bool) (observability.Providers, error) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	cfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	cfg.Mode = observability.ModeMCP
	cfg.LogJSON = true

	if debug {
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	}

	return observability.Init(cfg)
}
