// Package config provides YAML-based configuration for the pikels mediator.
package config

import "time"

// Analyzer defaults.
const (
	DefaultAnalyzerCommand        = "pike-analyzer"
	DefaultAnalyzerRequestTimeout = 30 * time.Second
	DefaultAnalyzerMaxRestarts    = 5
)

// Scheduler defaults.
const (
	DefaultSchedulerBackgroundGrace = 2 * time.Second
)

// Cache defaults.
const (
	DefaultCacheMaxPaths = 512
)

// Orchestrator defaults.
const (
	DefaultOrchestratorDiagnosticDelay     = 300 * time.Millisecond
	DefaultOrchestratorMaxNumberOfProblems = 100
)

// Workspace defaults.
const (
	DefaultWorkspaceMaxDepth = 0 // unlimited
)

// DefaultWorkspaceExtensions mirrors workspace.DefaultExtensions; kept as a
// separate literal here so config has no import-time dependency on the
// workspace package.
var DefaultWorkspaceExtensions = []string{".pike", ".pmod"}

// DefaultWorkspaceExcludeNames supplements the workspace scanner's built-in
// exclusions with config-driven additions; empty by default.
var DefaultWorkspaceExcludeNames = []string{}

// Observability defaults.
const (
	DefaultObservabilityEnabled     = false
	DefaultObservabilityServiceName = "pikels"
	DefaultObservabilityOTLPEndpoint = "localhost:4317"
)
