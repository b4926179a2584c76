// Package main provides the entry point for the pikels mediator binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pike-lsp/pikels/cmd/pikels/commands"
	"github.com/pike-lsp/pikels/pkg/version"
)

var (
	verbose    bool
	configPath string
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "pikels",
		Short: "pikels - incremental analysis mediator for the Pike language server",
		Long: `pikels bridges an editor's Language Server Protocol traffic to a Pike
analyzer subprocess, scheduling requests, caching compiled results, and
publishing diagnostics incrementally as documents change.

Commands:
  serve   Run the LSP server on stdio
  mcp     Run a read-only MCP diagnostics server on stdio
  version Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to .pikels.yaml config file")

	rootCmd.AddCommand(commands.NewServeCommand(&configPath, &verbose))
	rootCmd.AddCommand(commands.NewMCPCommand(&configPath))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "pikels %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
