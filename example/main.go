package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/sensorsync"
)

func main() {
	st := sensorsync.NewMemoryStore()

	eng, err := sensorsync.New(
		sensorsync.WithStore(st),
		sensorsync.WithPort(3000),
		sensorsync.WithChangeCallback(func(r sensorsync.Reading) {
			slog.Info("reading changed", "channel", r.Channel, "value", string(r.Value))
		}),
	)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   sensorsync Demo                                     ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Live:    curl -N http://localhost:3000/api/sse      ║")
	fmt.Println("  ║   Latest:  curl http://localhost:3000/api/latest      ║")
	fmt.Println("  ║   History: curl localhost:3000/api/history/gaze       ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Simulated sensors: emotion, gaze, stress            ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start before the writers so the startup reset cannot discard their readings
	if err := eng.Start(ctx); err != nil {
		slog.Error("sensorsync error", "error", err)
		os.Exit(1)
	}

	RunSensors(ctx, st, "demo-operator")

	<-ctx.Done()
	eng.Stop()
}
