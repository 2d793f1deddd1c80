package sensorsync

import (
	"errors"
	"log/slog"
	"time"
)

// engineConfig holds mutable state during Engine construction.
type engineConfig struct {
	channels         []string
	pollInterval     time.Duration
	port             int
	store            Store
	logger           *slog.Logger
	resetOnStart     bool
	queryTimeout     time.Duration
	historyDefault   int
	historyMax       int
	subscriberBuffer int
	changeCallbacks  []func(Reading)
}

// Option is a function that configures an [Engine] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*engineConfig) error

// WithChannels replaces the set of channels to poll.
//
// Defaults to "emotion", "gaze" and "stress". Channels are an open set: more
// can be added at runtime with [Engine.AddChannel].
//
// Returns an error if no channels are given or any name is empty.
func WithChannels(channels ...string) Option {
	return func(cfg *engineConfig) error {
		if len(channels) == 0 {
			return errors.New("at least one channel is required")
		}
		for _, ch := range channels {
			if ch == "" {
				return errors.New("channel name cannot be empty")
			}
		}
		cfg.channels = append([]string(nil), channels...)
		return nil
	}
}

// WithPollInterval sets how often the store is polled for new readings.
//
// The interval bounds how stale a subscriber's view can be. Defaults to
// 500ms if not specified.
//
// Example:
//
//	eng, err := sensorsync.New(
//	    sensorsync.WithPollInterval(250 * time.Millisecond),
//	)
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the API server. Port 0 picks a free port,
// reported by [Engine.Addr] once started. Defaults to 3000.
//
// Returns an error if the port is outside the range 0-65535.
func WithPort(port int) Option {
	return func(cfg *engineConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithStore sets the store to poll. If not specified an in-memory store is used.
//
// The engine takes ownership of the store and closes it on [Engine.Stop].
//
// Returns an error if the store is nil.
func WithStore(st Store) Option {
	return func(cfg *engineConfig) error {
		if st == nil {
			return errors.New("store cannot be nil")
		}
		cfg.store = st
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Engine instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithResetOnStart controls whether the store is emptied once before polling
// begins, so every run starts a fresh session. Defaults to true. A failed
// reset is logged and does not prevent startup.
func WithResetOnStart(reset bool) Option {
	return func(cfg *engineConfig) error {
		cfg.resetOnStart = reset
		return nil
	}
}

// WithQueryTimeout bounds each per-channel store query. A query that times
// out counts as a failure for that channel only. Zero disables the timeout,
// which is the default.
//
// Returns an error if the duration is negative.
func WithQueryTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("query timeout cannot be negative")
		}
		cfg.queryTimeout = d
		return nil
	}
}

// WithHistoryLimits sets the default and maximum number of readings returned
// by a history query. Defaults to 50 and 1000.
//
// Returns an error unless 0 < defaultLimit <= maxLimit.
func WithHistoryLimits(defaultLimit, maxLimit int) Option {
	return func(cfg *engineConfig) error {
		if defaultLimit <= 0 || maxLimit <= 0 {
			return errors.New("history limits must be positive")
		}
		if defaultLimit > maxLimit {
			return errors.New("default history limit cannot exceed the maximum")
		}
		cfg.historyDefault = defaultLimit
		cfg.historyMax = maxLimit
		return nil
	}
}

// WithSubscriberBuffer sets how many messages may queue for one subscriber
// before it is considered too slow and disconnected. Defaults to 64.
//
// Returns an error if n is zero or negative.
func WithSubscriberBuffer(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("subscriber buffer must be positive")
		}
		cfg.subscriberBuffer = n
		return nil
	}
}

// WithChangeCallback registers a function to be called for every change the
// poll loop detects, after the latest cache has been updated.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the poll loop
// goroutine, so a slow callback delays the next tick.
//
// Panics within callbacks are recovered and logged; they do not stop polling.
//
// Example:
//
//	eng, err := sensorsync.New(
//	    sensorsync.WithChangeCallback(func(r sensorsync.Reading) {
//	        if r.Channel == "stress" {
//	            alerts <- r
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithChangeCallback(cb func(Reading)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}
