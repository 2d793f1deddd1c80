package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jpalmerr/sensorsync"
)

// sensor simulates one writer that appends a reading to its channel every
// 300-1500ms. Values repeat often, as a camera-driven classifier's would.
type sensor struct {
	channel string
	values  []string
}

var sensors = []sensor{
	{channel: "emotion", values: []string{"neutral", "happy", "sad", "angry", "surprise", "fear"}},
	{channel: "gaze", values: []string{"CENTER", "LEFT", "RIGHT", "Blinking"}},
	{channel: "stress", values: []string{"no stress", "low stress", "high stress"}},
}

// appender is the write side of a store.
type appender interface {
	Append(ctx context.Context, r sensorsync.Reading) error
}

// RunSensors starts one writer goroutine per simulated sensor. Writers stop
// when ctx is cancelled.
func RunSensors(ctx context.Context, st appender, operator string) {
	for _, s := range sensors {
		go s.run(ctx, st, operator)
	}
}

func (s sensor) run(ctx context.Context, st appender, operator string) {
	for {
		// next reading in 300-1500ms
		wait := time.Duration(300+rand.Intn(1201)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		value, _ := json.Marshal(s.values[rand.Intn(len(s.values))])
		r := sensorsync.Reading{
			Channel:   s.channel,
			Value:     value,
			Timestamp: time.Now().UTC(),
			SourceID:  operator,
		}
		if err := st.Append(ctx, r); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("sensor write failed", "channel", s.channel, "error", err)
		}
	}
}
