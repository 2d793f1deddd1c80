package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sensorsync/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a sensorsync configuration file without starting the server.

This command parses the YAML, expands environment variables, applies
defaults and validates all fields. It does not connect to the store.
It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  sensorsync validate -c config.yaml
  sensorsync validate --config /etc/sensorsync/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.HTTPPort())
	fmt.Printf("  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Channels:      %s\n", strings.Join(cfg.Channels, ", "))
	fmt.Printf("  Store:         %s\n", cfg.Store.Driver)
	fmt.Printf("  History:       %d default, %d max\n", cfg.History.DefaultLimit, cfg.History.MaxLimit)
	fmt.Printf("  Reset:         %t\n", cfg.ResetEnabled())

	return nil
}
