package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pike-lsp/pikels/internal/bridge"
	"github.com/pike-lsp/pikels/internal/config"
	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/lspserver"
	"github.com/pike-lsp/pikels/internal/observability"
	"github.com/pike-lsp/pikels/internal/orchestrator"
	"github.com/pike-lsp/pikels/internal/scheduler"
	"github.com/pike-lsp/pikels/internal/transport"
	"github.com/pike-lsp/pikels/internal/workspace"
	"github.com/pike-lsp/pikels/pkg/version"
)

// NewServeCommand creates the LSP server command. configPath and verbose are
// bound to the root command's persistent flags.
func NewServeCommand(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the LSP server on stdio",
		Long: `Run the pikels mediator as a Language Server Protocol front end on
stdio, spawning and supervising the Pike analyzer subprocess and serving
hover, completion, definition, references, and rename from an
incrementally-maintained document cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd.Context(), *configPath, *verbose)
		},
	}

	return cmd
}

func runServe(ctx context.Context, configPath string, verbose bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := initServeObservability(cfg, verbose)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	dispatchMetrics, err := observability.NewSchedulerDispatchMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("build scheduler metrics: %w", err)
	}

	br := newBridge(cfg, providers.Logger)

	restartErr := observability.NewAnalyzerRestartMetric(providers.Meter, func() int {
		return br.Status().RestartCount
	})
	if restartErr != nil {
		return fmt.Errorf("build analyzer restart metric: %w", restartErr)
	}

	docs := doccache.New()
	sched := scheduler.New(dispatchMetrics)

	ws := workspace.New(workspace.Options{
		MaxDepth:     cfg.Workspace.MaxDepth,
		Extensions:   cfg.Workspace.Extensions,
		ExcludeNames: cfg.Workspace.ExcludeNames,
	}, providers.Logger)

	srv := lspserver.New(docs, br, ws, providers.Logger)

	orch := orchestrator.New(br, docs, sched, srv, orchestrator.Config{
		DiagnosticDelay:     cfg.Orchestrator.DiagnosticDelay,
		MaxNumberOfProblems: cfg.Orchestrator.MaxNumberOfProblems,
	}, providers.Logger)

	srv.SetOrchestrator(orch)

	if startErr := br.Start(ctx); startErr != nil {
		providers.Logger.Warn("analyzer did not start cleanly; continuing in degraded mode", "error", startErr)
	}

	return srv.Run()
}

func newBridge(cfg *config.Config, logger *slog.Logger) *bridge.Bridge {
	runner := transport.NewExecRunner()

	spawn := func(ctx context.Context) (*transport.Transport, error) {
		tr := transport.New(runner, logger)

		err := tr.Connect(ctx, cfg.Analyzer.Command, cfg.Analyzer.Args)
		if err != nil {
			return nil, fmt.Errorf("connect analyzer: %w", err)
		}

		return tr, nil
	}

	br := bridge.New(spawn, logger)
	br.SetTimeout(cfg.Analyzer.RequestTimeout)

	return br
}

func initServeObservability(cfg *config.Config, verbose bool) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.ServiceName = cfg.Observability.ServiceName
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	obsCfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	obsCfg.Mode = observability.ModeServe

	if obsCfg.ServiceName == "" {
		obsCfg.ServiceName = config.DefaultObservabilityServiceName
	}

	if !cfg.Observability.Enabled {
		obsCfg.OTLPEndpoint = ""
	}

	if verbose {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	return observability.Init(obsCfg)
}
