package sensorsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/sensorsync/internal/broadcast"
	"github.com/jpalmerr/sensorsync/internal/cache"
	"github.com/jpalmerr/sensorsync/internal/history"
	"github.com/jpalmerr/sensorsync/internal/poller"
	"github.com/jpalmerr/sensorsync/internal/server"
	"github.com/jpalmerr/sensorsync/internal/store"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPort         = 3000
	resetTimeout        = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// DefaultChannels are polled when [WithChannels] is not given.
var DefaultChannels = []string{"emotion", "gaze", "stress"}

var (
	// ErrAlreadyStarted is returned by [Engine.Start] on a second call.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrStopped is returned by [Engine.Start] after [Engine.Stop].
	ErrStopped = errors.New("engine stopped")
)

// Engine synchronizes readings from a store out to live subscribers.
//
// Engine owns the cursor table and the latest cache, runs the poll loop that
// fills them, fans changes out through the broadcaster and serves the HTTP
// API. It is created using [New] with functional options.
//
// The typical lifecycle is:
//
//	eng, err := sensorsync.New(sensorsync.WithStore(st))
//	if err != nil {
//	    slog.Error("failed to create engine", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	eng.Run(ctx) // blocks until context cancelled
//
// Shutdown stops the HTTP server first, then drains the in-flight poll tick,
// then disconnects subscribers and finally closes the store.
type Engine struct {
	pollInterval time.Duration
	port         int
	resetOnStart bool
	store        Store
	logger       *slog.Logger
	callbacks    []func(Reading)

	cursors *cache.Cursors
	latest  *cache.Latest
	loop    *poller.Loop
	bc      *broadcast.Broadcaster
	history *history.Service
	server  *server.Server

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a new [Engine] instance with the given options.
//
// Defaults:
//   - Channels: emotion, gaze, stress
//   - Poll interval: 500ms
//   - Port: 3000
//   - Store: in-memory
//   - Reset on start: true
//   - History limits: 50 default, 1000 max
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		channels:     append([]string(nil), DefaultChannels...),
		pollInterval: defaultPollInterval,
		port:         defaultPort,
		resetOnStart: true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	st := cfg.store
	if st == nil {
		st = store.NewMemoryStore()
	}

	e := &Engine{
		pollInterval: cfg.pollInterval,
		port:         cfg.port,
		resetOnStart: cfg.resetOnStart,
		store:        st,
		logger:       logger,
		callbacks:    cfg.changeCallbacks,
		cursors:      cache.NewCursors(),
		latest:       cache.NewLatest(),
		stopped:      make(chan struct{}),
	}

	e.bc = broadcast.New(e.latest, cfg.subscriberBuffer, logger)
	e.history = history.NewService(st, cfg.historyDefault, cfg.historyMax, logger)
	e.loop = poller.NewLoop(st, e.cursors, e.latest, poller.NotifierFunc(e.onChange), poller.Config{
		Channels:     cfg.channels,
		Interval:     cfg.pollInterval,
		QueryTimeout: cfg.queryTimeout,
	}, logger)
	e.server = server.NewServer(server.Deps{
		Latest:      e.latest,
		History:     e.history,
		Broadcaster: e.bc,
		Store:       st,
		Stats:       e.loop.Stats,
	}, cfg.port, logger)

	return e, nil
}

// Start binds the HTTP server, resets the store (if enabled), starts the poll
// loop and returns. The store is not reset when binding fails. Cancelling ctx triggers the same ordered shutdown as
// [Engine.Stop].
//
// Returns an error if the HTTP server fails to bind, if the engine was already
// started or if it has been stopped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	select {
	case <-e.stopped:
		e.mu.Unlock()
		return ErrStopped
	default:
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("sensorsync starting",
		"channels", e.loop.Channels(),
		"interval", e.pollInterval.String(),
		"port", e.port,
	)

	// bind before touching the store so a failed start leaves its data alone
	if err := e.server.Start(runCtx); err != nil {
		e.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if e.resetOnStart {
		e.reset(runCtx)
	}

	// the loop is stopped explicitly during shutdown, after the server
	e.loop.Start(context.WithoutCancel(runCtx))

	go func() {
		select {
		case <-runCtx.Done():
			e.Stop()
		case <-e.stopped:
		}
	}()

	return nil
}

// Run starts the engine and blocks until ctx is cancelled or [Engine.Stop]
// is called, then shuts down.
//
// Returns nil on graceful shutdown. Returns an error if startup fails.
func (e *Engine) Run(ctx context.Context) error {
	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-e.stopped:
	}
	e.Stop()
	return nil
}

// Stop shuts the engine down in order: HTTP server, poll loop (after its
// in-flight tick completes), subscribers, store. Stop is idempotent, safe to
// call before Start, and returns once shutdown is complete.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()

		// ends open streams via the server's base context
		if cancel != nil {
			cancel()
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = e.server.Shutdown(shutdownCtx)
		done()

		e.loop.Stop()
		e.bc.Close()

		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close store", "error", err)
		}

		e.logger.Info("sensorsync stopped")
		close(e.stopped)
	})
	<-e.stopped
}

func (e *Engine) reset(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	if err := e.store.Reset(ctx); err != nil {
		e.logger.Warn("store reset failed, continuing with existing readings", "error", err)
		return
	}
	e.logger.Info("store reset for new session")
}

// onChange is the poll loop's notifier: fan out first, then user callbacks.
func (e *Engine) onChange(channel string, r Reading) {
	e.bc.OnChange(channel, r)
	for _, cb := range e.callbacks {
		invokeCallbackSafe(cb, r, e.logger)
	}
}

// invokeCallbackSafe calls a change callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Reading), r Reading, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("change callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", rec,
				"channel", r.Channel,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(r)
}

// AddChannel starts polling channel from the next tick.
func (e *Engine) AddChannel(channel string) {
	e.loop.AddChannel(channel)
}

// Channels returns the polled channels.
func (e *Engine) Channels() []string {
	return e.loop.Channels()
}

// Latest returns a copy of the latest reading per channel.
func (e *Engine) Latest() map[string]Reading {
	return e.latest.Snapshot()
}

// History returns at most limit of the most recent readings for channel,
// oldest first. Readings sharing a timestamp keep their append order. A limit
// of zero returns nothing; a negative limit returns [ErrHistoryInvalidLimit].
func (e *Engine) History(ctx context.Context, channel string, limit int) ([]Reading, error) {
	return e.history.GetHistory(ctx, channel, limit)
}

// Subscribe registers sink for the snapshot-then-updates stream. The first
// message is always a snapshot of the latest cache.
func (e *Engine) Subscribe(sink Sink) (*Subscription, error) {
	return e.bc.Subscribe(sink)
}

// Unsubscribe removes a subscription. It is idempotent.
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.bc.Unsubscribe(sub)
}

// Stats returns the poll loop's counters.
func (e *Engine) Stats() Stats {
	return e.loop.Stats()
}

// Addr returns the HTTP listener address, or nil before Start.
func (e *Engine) Addr() net.Addr {
	return e.server.Addr()
}

// Port returns the configured HTTP port.
func (e *Engine) Port() int {
	return e.port
}

// PollInterval returns the configured interval between polls.
func (e *Engine) PollInterval() time.Duration {
	return e.pollInterval
}
