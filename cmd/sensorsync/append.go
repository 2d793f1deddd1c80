package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sensorsync"
	"github.com/jpalmerr/sensorsync/config"
)

// appendCmd writes one reading to the store, acting as a sensor writer.
var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a reading to the store",
	Long: `Append a single reading to the configured Postgres store.

This is the writer side of the system: a running sensorsync serve picks
the reading up on its next poll and pushes it to subscribers.

The value is stored as JSON. Anything that is not valid JSON is stored as
a JSON string. The timestamp defaults to now and accepts RFC 3339.

Example:
  sensorsync append -c config.yaml --channel stress --value 15
  sensorsync append -c config.yaml --channel gaze --value '{"x":0.4,"y":0.6}'
  sensorsync append -c config.yaml --channel emotion --value happy --source operator-1`,
	RunE: runAppend,
}

func init() {
	rootCmd.AddCommand(appendCmd)

	appendCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	appendCmd.Flags().String("channel", "", "channel name (required)")
	appendCmd.Flags().String("value", "", "reading value as JSON (required)")
	appendCmd.Flags().String("source", "", "identifier of the writer")
	appendCmd.Flags().String("timestamp", "", "RFC 3339 timestamp (defaults to now)")
	_ = appendCmd.MarkFlagRequired("config")
	_ = appendCmd.MarkFlagRequired("channel")
	_ = appendCmd.MarkFlagRequired("value")
}

func runAppend(cmd *cobra.Command, args []string) error {
	channel, _ := cmd.Flags().GetString("channel")
	value, _ := cmd.Flags().GetString("value")
	source, _ := cmd.Flags().GetString("source")
	timestamp, _ := cmd.Flags().GetString("timestamp")

	r, err := buildReading(channel, value, source, timestamp, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	// the memory store lives inside a serve process, so only postgres can be
	// written from outside
	st, err := config.OpenPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Append(ctx, r); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}

	fmt.Printf("Appended %s reading at %s\n", r.Channel, r.Timestamp.Format(time.RFC3339Nano))
	return nil
}

// buildReading assembles a reading from command-line input.
func buildReading(channel, value, source, timestamp string, now time.Time) (sensorsync.Reading, error) {
	if channel == "" {
		return sensorsync.Reading{}, errors.New("channel is required")
	}

	raw := json.RawMessage(value)
	if !json.Valid(raw) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return sensorsync.Reading{}, fmt.Errorf("encode value: %w", err)
		}
		raw = encoded
	}

	ts := now.UTC()
	if timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return sensorsync.Reading{}, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
		}
		ts = parsed
	}

	return sensorsync.Reading{
		Channel:   channel,
		Value:     raw,
		Timestamp: ts,
		SourceID:  source,
	}, nil
}
