// Standalone sensor writer for testing the CLI against Postgres.
//
// Usage:
//
//	DATABASE_URL=postgres://localhost:5432/sensors go run ./example/cmd/mockwriter
//
// Then in another terminal:
//
//	go run ./cmd/sensorsync serve -c example/config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/sensorsync/internal/store"
	"github.com/jpalmerr/sensorsync/internal/store/pgstore"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/sensors"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := pgstore.Open(ctx, pgstore.Options{DSN: dsn, MaxConns: 2})
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate store", "error", err)
		os.Exit(1)
	}

	fmt.Println("Mock sensor writer started")
	fmt.Println("Writing emotion, gaze and stress readings every 0.3-1.5s")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	channels := map[string][]string{
		"emotion": {"neutral", "happy", "sad", "angry", "surprise", "fear"},
		"gaze":    {"CENTER", "LEFT", "RIGHT", "Blinking"},
		"stress":  {"no stress", "low stress", "high stress"},
	}
	names := []string{"emotion", "gaze", "stress"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(300+rand.Intn(1201)) * time.Millisecond):
		}

		channel := names[rand.Intn(len(names))]
		values := channels[channel]
		value, _ := json.Marshal(values[rand.Intn(len(values))])

		r := store.Reading{
			Channel:   channel,
			Value:     value,
			Timestamp: time.Now().UTC(),
			SourceID:  "mock-writer",
		}
		if err := st.Append(ctx, r); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("write failed", "channel", channel, "error", err)
			continue
		}
		slog.Info("reading written", "channel", channel, "value", string(value))
	}
}
