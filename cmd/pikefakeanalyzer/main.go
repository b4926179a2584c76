// Command pikefakeanalyzer runs the fake Pike analyzer on stdio, speaking the
// same newline-delimited JSON-RPC dialect as the real analyzer subprocess.
// It exists so the LSP server and its integration tests can exercise the
// full Bridge/Transport stack against a real subprocess without requiring a
// Pike toolchain.
package main

import (
	"fmt"
	"os"

	"github.com/pike-lsp/pikels/internal/fakeanalyzer"
)

func main() {
	a := fakeanalyzer.New()

	if err := a.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pikefakeanalyzer: %v\n", err)
		os.Exit(1)
	}
}
