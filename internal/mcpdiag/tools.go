// Package mcpdiag implements a Model Context Protocol server exposing
// read-only diagnostics over the mediator's running state: compile cache
// occupancy, scheduler queue depth, and analyzer subprocess health.
package mcpdiag

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolNameCacheStats     = "pike_cache_stats"
	ToolNameSchedulerStats = "pike_scheduler_stats"
	ToolNameBridgeStatus   = "pike_bridge_status"
)

// EmptyInput is the input schema for diagnostic tools that take no parameters.
type EmptyInput struct{}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// Tool description constants.
const (
	cacheStatsToolDescription = "Report compile cache occupancy " +
		"(hits, misses, evictions, current size, max size)."

	schedulerStatsToolDescription = "Report pending task counts per priority " +
		"class (typing, interactive, background) in the request scheduler."

	bridgeStatusToolDescription = "Report analyzer subprocess health: " +
		"connection state, reported version, restart count, and recent stderr lines."
)
