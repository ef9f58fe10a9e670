package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "airelay",
	Short:   "Local reverse proxy fronting Codex- and Claude-compatible upstreams",
	Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configValidateCmd)
}
