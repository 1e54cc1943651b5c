// Command docengine is the ambient CLI entry point for the document search
// engine: it starts the HTTP server, or runs a one-off pipeline operation
// for local debugging, printing JSON results to stdout. The HTTP server
// remains the sole entry point API consumers are expected to use.
package main

import (
	"os"

	"github.com/localdocs/docengine/cmd/docengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
