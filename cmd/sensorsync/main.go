// Package main is the entry point for the sensorsync CLI.
//
// sensorsync can be embedded as a library (SDK) or run as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	sensorsync serve -c config.yaml                  # Start polling and serving
//	sensorsync validate -c config.yaml               # Validate configuration
//	sensorsync migrate -c config.yaml                # Apply database migrations
//	sensorsync append -c config.yaml --channel gaze --value '{"x":0.4}'
//	sensorsync version                               # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "sensorsync",
	Short: "Live fanout of sensor readings from a database",
	Long: `sensorsync watches a reading store for new values and pushes them to
connected clients in real time.

Writers append timestamped readings per channel (emotion, gaze, stress...).
sensorsync polls the store, keeps the latest reading per channel, and
broadcasts every change over Server-Sent Events and WebSocket. History is
served over plain HTTP.

Quick start:
  1. Create a config file (sensorsync.yaml)
  2. Run: sensorsync serve -c sensorsync.yaml
  3. curl http://localhost:3000/api/latest

Example config:
  port: 3000
  poll_interval: 500ms
  channels: [emotion, gaze, stress]
  store:
    driver: postgres
    dsn: ${DATABASE_URL}
    migrate: true`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this sensorsync binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensorsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
