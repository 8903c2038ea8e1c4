// Command documind is the DocuMind CLI: a local-first document knowledge
// base with hybrid retrieval and verifiable citations.
package main

import (
	"fmt"
	"os"

	"github.com/documind-hq/documind/cmd/documind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
