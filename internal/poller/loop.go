package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/sensorsync/internal/cache"
	"github.com/jpalmerr/sensorsync/internal/store"
)

// Notifier receives change events from the loop.
//
// OnChange is called from the loop goroutine after the cursor and cache have
// been updated. It must not block.
type Notifier interface {
	OnChange(channel string, r store.Reading)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(channel string, r store.Reading)

// OnChange calls f.
func (f NotifierFunc) OnChange(channel string, r store.Reading) {
	f(channel, r)
}

// TickState is the loop's position in its per-tick state machine.
type TickState int32

const (
	StateIdle TickState = iota
	StateQuerying
	StateNoChange
	StateChanged
	StateDegraded
	StateStopped
)

// String returns the lower-case state name.
func (s TickState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateNoChange:
		return "no_change"
	case StateChanged:
		return "changed"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config holds the loop's tunables.
type Config struct {
	// Channels is the initial set of channels to poll.
	Channels []string

	// Interval is the time between ticks.
	Interval time.Duration

	// QueryTimeout bounds each per-channel query. Zero means no timeout; a
	// timed-out query counts as a failure for that channel only.
	QueryTimeout time.Duration
}

// Stats is a point-in-time view of the loop's counters.
type Stats struct {
	State           string    `json:"state"`
	Channels        []string  `json:"channels"`
	Ticks           uint64    `json:"ticks"`
	SkippedTicks    uint64    `json:"skipped_ticks"`
	Changes         uint64    `json:"changes"`
	ChannelFailures uint64    `json:"channel_failures"`
	StoreConnected  bool      `json:"store_connected"`
	LastTick        time.Time `json:"last_tick"`
}

// Loop polls the store and publishes per-channel changes.
//
// Loop is the only writer of the cursor table and the latest cache it is
// given. Start and Stop are safe for concurrent use and idempotent.
type Loop struct {
	store        store.Store
	cursors      *cache.Cursors
	latest       *cache.Latest
	notify       Notifier
	interval     time.Duration
	queryTimeout time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	channels []string
	stats    Stats

	state atomic.Int32

	// owned by the loop goroutine
	degraded bool
}

// NewLoop creates a poll loop. The loop does not run until [Loop.Start].
func NewLoop(st store.Store, cursors *cache.Cursors, latest *cache.Latest, notify Notifier, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		store:        st,
		cursors:      cursors,
		latest:       latest,
		notify:       notify,
		interval:     cfg.Interval,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}
	for _, ch := range cfg.Channels {
		l.addChannelLocked(ch)
	}
	l.stats.StoreConnected = true
	return l
}

// AddChannel starts tracking channel from the next tick. Adding a channel
// that is already tracked is a no-op.
func (l *Loop) AddChannel(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addChannelLocked(channel)
}

func (l *Loop) addChannelLocked(channel string) {
	if channel == "" {
		return
	}
	for _, ch := range l.channels {
		if ch == channel {
			return
		}
	}
	l.channels = append(l.channels, channel)
}

// Channels returns the tracked channels in polling order.
func (l *Loop) Channels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.channels...)
}

// State returns the current tick state.
func (l *Loop) State() TickState {
	return TickState(l.state.Load())
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.State = l.State().String()
	s.Channels = append([]string(nil), l.channels...)
	return s
}

// Start begins polling in a background goroutine.
//
// The first tick runs immediately, then one per interval. Start is
// non-blocking and idempotent; calling it after Stop is a no-op. If ctx is
// nil, context.Background() is used.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer l.state.Store(int32(StateStopped))

		// queries are not cancelled on shutdown so the in-flight tick drains
		queryCtx := context.WithoutCancel(loopCtx)

		l.tick(queryCtx)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// a tick that overran its interval may leave another pending;
				// prefer shutdown over starting it
				if loopCtx.Err() != nil {
					return
				}
				l.tick(queryCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick, if any, to finish.
// Stop is idempotent and safe to call before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.state.Store(int32(StateStopped))
}

// tick runs one polling cycle over every channel and returns its outcome.
func (l *Loop) tick(ctx context.Context) TickState {
	l.state.Store(int32(StateQuerying))
	channels := l.Channels()

	if err := l.ping(ctx); err != nil {
		if !l.degraded {
			l.logger.Warn("store unavailable, skipping polls", "error", err)
		}
		l.degraded = true
		l.record(func(s *Stats) {
			s.SkippedTicks++
			s.StoreConnected = false
		})
		return l.finish(StateDegraded)
	}
	if l.degraded {
		l.logger.Info("store reachable again, resuming polls")
		l.degraded = false
	}

	var changes, failures uint64
	for _, ch := range channels {
		changed, err := l.pollChannel(ctx, ch)
		if err != nil {
			failures++
			l.logger.Warn("channel poll failed", "channel", ch, "error", err)
			continue
		}
		if changed {
			changes++
		}
	}

	l.record(func(s *Stats) {
		s.Ticks++
		s.Changes += changes
		s.ChannelFailures += failures
		s.StoreConnected = true
	})

	if changes > 0 {
		return l.finish(StateChanged)
	}
	return l.finish(StateNoChange)
}

// finish records the tick outcome and returns the loop to idle.
func (l *Loop) finish(outcome TickState) TickState {
	l.record(func(s *Stats) { s.LastTick = time.Now() })
	l.state.Store(int32(StateIdle))
	return outcome
}

func (l *Loop) record(update func(*Stats)) {
	l.mu.Lock()
	update(&l.stats)
	l.mu.Unlock()
}

func (l *Loop) ping(ctx context.Context) error {
	if l.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.queryTimeout)
		defer cancel()
	}
	return l.store.Ping(ctx)
}

// pollChannel fetches the newest reading after the channel's cursor and, on a
// hit, advances the cursor, updates the cache and notifies. A panic anywhere
// in that sequence is recovered and reported as a failure for this channel.
func (l *Loop) pollChannel(ctx context.Context, channel string) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			l.logger.Error("channel poll panic",
				"correlation_id", correlationID,
				"channel", channel,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			changed = false
			err = fmt.Errorf("poll panic (correlation_id: %s)", correlationID)
		}
	}()

	if l.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.queryTimeout)
		defer cancel()
	}

	cursor := l.cursors.Get(channel)
	readings, err := l.store.QueryNewerThan(ctx, channel, cursor, 1)
	if err != nil {
		return false, fmt.Errorf("query newer than cursor: %w", err)
	}
	if len(readings) == 0 {
		return false, nil
	}

	r := readings[0]
	if r.Channel == "" {
		r.Channel = channel
	}
	if r.Channel != channel {
		return false, fmt.Errorf("store returned a %q reading for channel %q", r.Channel, channel)
	}
	// guard against adapters that ignore the cursor
	if cursor != nil && !r.Timestamp.After(*cursor) {
		return false, nil
	}

	l.cursors.Advance(channel, r.Timestamp)
	l.latest.Set(r)
	l.logger.Debug("new reading",
		"channel", channel,
		"timestamp", r.Timestamp,
		"source_id", r.SourceID,
	)
	if l.notify != nil {
		l.notify.OnChange(channel, r)
	}
	return true, nil
}
