package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/airelay/internal/config"
)

var configValidateFlags struct {
	service string
}

var configValidateCmd = &cobra.Command{
	Use:   "configvalidate [config-file]",
	Short: "Validate a service config file without starting the proxy",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVar(&configValidateFlags.service, "service", "codex", "upstream family the file configures: codex or claude")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	service := config.ServiceKind(configValidateFlags.service)
	if service != config.ServiceCodex && service != config.ServiceClaude {
		return fmt.Errorf("invalid --service %q: must be codex or claude", configValidateFlags.service)
	}

	cfg, err := config.LoadFromFile(args[0], service)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("%s is valid: %d configs, active manager %q\n", args[0], len(cfg.ActiveManager().Configs), service)
	return nil
}
