// Command airelay is the local reverse-proxy control plane: it serves both
// the Codex/Claude request dispatcher and its control API on one port.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
