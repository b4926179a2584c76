package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration for the pikels mediator.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Workspace     WorkspaceConfig     `mapstructure:"workspace"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AnalyzerConfig describes how to spawn and supervise the Pike analyzer
// subprocess (the Transport/Bridge components).
type AnalyzerConfig struct {
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRestarts    int           `mapstructure:"max_restarts"`
}

// SchedulerConfig tunes the RequestScheduler.
type SchedulerConfig struct {
	BackgroundGrace time.Duration `mapstructure:"background_grace"`
}

// CacheConfig tunes the CompilationCache.
type CacheConfig struct {
	MaxPaths int `mapstructure:"max_paths"`
}

// OrchestratorConfig tunes the AnalyzeOrchestrator.
type OrchestratorConfig struct {
	DiagnosticDelay     time.Duration `mapstructure:"diagnostic_delay"`
	MaxNumberOfProblems int           `mapstructure:"max_number_of_problems"`
}

// WorkspaceConfig tunes the WorkspaceScanner.
type WorkspaceConfig struct {
	MaxDepth     int      `mapstructure:"max_depth"`
	Extensions   []string `mapstructure:"extensions"`
	ExcludeNames []string `mapstructure:"exclude_names"`
}

// ObservabilityConfig tunes the OpenTelemetry bootstrap.
type ObservabilityConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Sentinel errors for configuration validation.
var (
	ErrInvalidRequestTimeout   = errors.New("analyzer.request_timeout must be positive")
	ErrInvalidMaxRestarts      = errors.New("analyzer.max_restarts must be non-negative")
	ErrInvalidMaxPaths         = errors.New("cache.max_paths must be positive")
	ErrInvalidDiagnosticDelay  = errors.New("orchestrator.diagnostic_delay must be non-negative")
	ErrInvalidMaxProblems      = errors.New("orchestrator.max_number_of_problems must be non-negative")
	ErrInvalidWorkspaceMaxDepth = errors.New("workspace.max_depth must be non-negative")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Analyzer.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	if c.Analyzer.MaxRestarts < 0 {
		return ErrInvalidMaxRestarts
	}

	if c.Cache.MaxPaths <= 0 {
		return ErrInvalidMaxPaths
	}

	if c.Orchestrator.DiagnosticDelay < 0 {
		return ErrInvalidDiagnosticDelay
	}

	if c.Orchestrator.MaxNumberOfProblems < 0 {
		return ErrInvalidMaxProblems
	}

	if c.Workspace.MaxDepth < 0 {
		return ErrInvalidWorkspaceMaxDepth
	}

	return nil
}
