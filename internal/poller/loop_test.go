package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/sensorsync/internal/cache"
	"github.com/jpalmerr/sensorsync/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func reading(channel string, sec int, value string) store.Reading {
	return store.Reading{
		Channel:   channel,
		Value:     json.RawMessage(value),
		Timestamp: at(sec),
		SourceID:  "operator-1",
	}
}

// events records change notifications.
type events struct {
	mu   sync.Mutex
	list []store.Reading
}

func (e *events) OnChange(_ string, r store.Reading) {
	e.mu.Lock()
	e.list = append(e.list, r)
	e.mu.Unlock()
}

func (e *events) all() []store.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]store.Reading(nil), e.list...)
}

type fixture struct {
	store   *store.MemoryStore
	cursors *cache.Cursors
	latest  *cache.Latest
	events  *events
	loop    *Loop
}

func newFixture(channels ...string) *fixture {
	f := &fixture{
		store:   store.NewMemoryStore(),
		cursors: cache.NewCursors(),
		latest:  cache.NewLatest(),
		events:  &events{},
	}
	f.loop = NewLoop(f.store, f.cursors, f.latest, f.events, Config{
		Channels: channels,
		Interval: time.Hour,
	}, testLogger())
	return f
}

func (f *fixture) append(t *testing.T, r store.Reading) {
	t.Helper()
	if err := f.store.Append(context.Background(), r); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

// Two readings written within one interval: only the newer one is emitted.
func TestTick_SkipsSupersededReadings(t *testing.T) {
	f := newFixture("stress")
	f.append(t, reading("stress", 1, `10`))
	f.append(t, reading("stress", 2, `15`))

	if got := f.loop.tick(context.Background()); got != StateChanged {
		t.Fatalf("tick() = %v, want %v", got, StateChanged)
	}

	cached, ok := f.latest.Get("stress")
	if !ok || string(cached.Value) != "15" || !cached.Timestamp.Equal(at(2)) {
		t.Errorf("cache[stress] = %+v, want v=15 t=2", cached)
	}

	got := f.events.all()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if string(got[0].Value) != "15" {
		t.Errorf("event value = %s, want 15", got[0].Value)
	}
}

func TestTick_NoChangeDoesNotNotify(t *testing.T) {
	f := newFixture("gaze")
	f.append(t, reading("gaze", 1, `"left"`))

	f.loop.tick(context.Background())
	if got := f.loop.tick(context.Background()); got != StateNoChange {
		t.Fatalf("second tick() = %v, want %v", got, StateNoChange)
	}
	if n := len(f.events.all()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestTick_CursorAndCacheMonotonic(t *testing.T) {
	f := newFixture("emotion")

	var lastCursor time.Time
	for i := 1; i <= 10; i++ {
		f.append(t, reading("emotion", i*2, `"calm"`))
		// a late reading older than what has been observed
		f.append(t, reading("emotion", i*2-3, `"late"`))

		f.loop.tick(context.Background())

		cursor := f.cursors.Get("emotion")
		if cursor == nil {
			t.Fatalf("tick %d: cursor is nil", i)
		}
		if cursor.Before(lastCursor) {
			t.Fatalf("tick %d: cursor regressed from %v to %v", i, lastCursor, *cursor)
		}
		lastCursor = *cursor

		cached, _ := f.latest.Get("emotion")
		if !cached.Timestamp.Equal(at(i * 2)) {
			t.Fatalf("tick %d: cache timestamp = %v, want %v", i, cached.Timestamp, at(i*2))
		}
	}

	// late readings never produce an event
	for _, r := range f.events.all() {
		if string(r.Value) == `"late"` {
			t.Errorf("late reading emitted: %+v", r)
		}
	}
}

func TestTick_ChannelsIndependent(t *testing.T) {
	f := newFixture("emotion", "gaze", "stress")
	f.append(t, reading("gaze", 1, `"up"`))
	f.append(t, reading("stress", 5, `20`))

	f.loop.tick(context.Background())

	if _, ok := f.latest.Get("emotion"); ok {
		t.Error("emotion has a cache entry without readings")
	}
	if f.cursors.Get("emotion") != nil {
		t.Error("emotion has a cursor without readings")
	}
	if f.latest.Len() != 2 {
		t.Errorf("cache entries = %d, want 2", f.latest.Len())
	}
}

// failingStore fails queries for one channel.
type failingStore struct {
	*store.MemoryStore
	bad string
}

func (s *failingStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	if channel == s.bad {
		return nil, errors.New("query failed")
	}
	return s.MemoryStore.QueryNewerThan(ctx, channel, after, limit)
}

func TestTick_ChannelFailureIsolated(t *testing.T) {
	mem := store.NewMemoryStore()
	st := &failingStore{MemoryStore: mem, bad: "gaze"}
	ev := &events{}
	latest := cache.NewLatest()

	loop := NewLoop(st, cache.NewCursors(), latest, ev, Config{
		Channels: []string{"gaze", "stress"},
		Interval: time.Hour,
	}, testLogger())

	_ = mem.Append(context.Background(), reading("gaze", 1, `"up"`))
	_ = mem.Append(context.Background(), reading("stress", 1, `10`))

	if got := loop.tick(context.Background()); got != StateChanged {
		t.Fatalf("tick() = %v, want %v", got, StateChanged)
	}
	if _, ok := latest.Get("stress"); !ok {
		t.Error("stress was not polled after gaze failed")
	}

	stats := loop.Stats()
	if stats.ChannelFailures != 1 || stats.Changes != 1 {
		t.Errorf("stats = %+v, want 1 failure and 1 change", stats)
	}
}

// misroutingStore answers "gaze" queries with "stress" readings.
type misroutingStore struct {
	*store.MemoryStore
}

func (s *misroutingStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	if channel == "gaze" {
		return s.MemoryStore.QueryNewerThan(ctx, "stress", after, limit)
	}
	return s.MemoryStore.QueryNewerThan(ctx, channel, after, limit)
}

func TestTick_MismatchedChannelIsFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	cursors := cache.NewCursors()
	latest := cache.NewLatest()
	ev := &events{}
	loop := NewLoop(&misroutingStore{mem}, cursors, latest, ev, Config{
		Channels: []string{"gaze"},
		Interval: time.Hour,
	}, testLogger())

	_ = mem.Append(context.Background(), reading("stress", 5, `20`))

	if got := loop.tick(context.Background()); got != StateNoChange {
		t.Fatalf("tick() = %v, want %v", got, StateNoChange)
	}
	if c := cursors.Get("gaze"); c != nil {
		t.Errorf("gaze cursor = %v, want unset", *c)
	}
	if c := cursors.Get("stress"); c != nil {
		t.Errorf("stress cursor = %v, want unset", *c)
	}
	if snap := latest.Snapshot(); len(snap) != 0 {
		t.Errorf("cache = %+v, want empty", snap)
	}
	if got := ev.all(); len(got) != 0 {
		t.Errorf("events = %+v, want none", got)
	}
	if stats := loop.Stats(); stats.ChannelFailures != 1 {
		t.Errorf("ChannelFailures = %d, want 1", stats.ChannelFailures)
	}
}

// A reading without a channel is attributed to the channel that was polled.
func TestTick_EmptyChannelAttributedToPolled(t *testing.T) {
	mem := store.NewMemoryStore()
	latest := cache.NewLatest()
	loop := NewLoop(&blankChannelStore{mem}, cache.NewCursors(), latest, nil, Config{
		Channels: []string{"emotion"},
		Interval: time.Hour,
	}, testLogger())

	_ = mem.Append(context.Background(), reading("emotion", 1, `"happy"`))

	if got := loop.tick(context.Background()); got != StateChanged {
		t.Fatalf("tick() = %v, want %v", got, StateChanged)
	}
	if r, ok := latest.Get("emotion"); !ok || r.Channel != "emotion" {
		t.Errorf("cache[emotion] = %+v, %v", r, ok)
	}
}

// blankChannelStore strips the channel from every reading it returns.
type blankChannelStore struct {
	*store.MemoryStore
}

func (s *blankChannelStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	readings, err := s.MemoryStore.QueryNewerThan(ctx, channel, after, limit)
	for i := range readings {
		readings[i].Channel = ""
	}
	return readings, err
}

// panickingStore panics for one channel.
type panickingStore struct {
	*store.MemoryStore
}

func (s *panickingStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	if channel == "emotion" {
		panic("driver bug")
	}
	return s.MemoryStore.QueryNewerThan(ctx, channel, after, limit)
}

func TestTick_PanicIsolated(t *testing.T) {
	mem := store.NewMemoryStore()
	latest := cache.NewLatest()
	loop := NewLoop(&panickingStore{mem}, cache.NewCursors(), latest, nil, Config{
		Channels: []string{"emotion", "gaze"},
		Interval: time.Hour,
	}, testLogger())

	_ = mem.Append(context.Background(), reading("gaze", 1, `"up"`))

	loop.tick(context.Background())
	if _, ok := latest.Get("gaze"); !ok {
		t.Error("gaze was not polled after emotion panicked")
	}
}

func TestTick_DegradedWhenStoreUnavailable(t *testing.T) {
	f := newFixture("stress")
	f.append(t, reading("stress", 1, `10`))
	f.loop.tick(context.Background())

	f.store.SetAvailable(false)
	if got := f.loop.tick(context.Background()); got != StateDegraded {
		t.Fatalf("tick() = %v, want %v", got, StateDegraded)
	}

	// cache keeps serving the last known value
	if cached, ok := f.latest.Get("stress"); !ok || string(cached.Value) != "10" {
		t.Errorf("cache[stress] = %+v, want last known value", cached)
	}
	if f.loop.Stats().StoreConnected {
		t.Error("Stats().StoreConnected = true during outage")
	}

	f.store.SetAvailable(true)
	f.append(t, reading("stress", 2, `12`))
	if got := f.loop.tick(context.Background()); got != StateChanged {
		t.Fatalf("tick() after recovery = %v, want %v", got, StateChanged)
	}

	stats := f.loop.Stats()
	if stats.SkippedTicks != 1 || !stats.StoreConnected {
		t.Errorf("stats = %+v, want 1 skipped tick and connected", stats)
	}
}

func TestAddChannel(t *testing.T) {
	f := newFixture("gaze")
	f.loop.AddChannel("heart_rate")
	f.loop.AddChannel("heart_rate")
	f.loop.AddChannel("")

	if got := f.loop.Channels(); len(got) != 2 || got[1] != "heart_rate" {
		t.Fatalf("Channels() = %v, want [gaze heart_rate]", got)
	}

	f.append(t, reading("heart_rate", 1, `72`))
	f.loop.tick(context.Background())
	if _, ok := f.latest.Get("heart_rate"); !ok {
		t.Error("added channel was not polled")
	}
}

func TestLoop_StopBeforeStart(t *testing.T) {
	f := newFixture("gaze")
	// this must not panic
	f.loop.Stop()
	if f.loop.State() != StateStopped {
		t.Errorf("State() = %v, want %v", f.loop.State(), StateStopped)
	}
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	f := newFixture("gaze")
	f.loop.Start(context.Background())
	f.loop.Start(context.Background())
	f.loop.Stop()
	f.loop.Stop()

	// start after stop is a no-op
	f.loop.Start(context.Background())
	if f.loop.State() != StateStopped {
		t.Errorf("State() = %v, want %v", f.loop.State(), StateStopped)
	}
}

func TestLoop_PollsOnInterval(t *testing.T) {
	st := store.NewMemoryStore()
	latest := cache.NewLatest()
	ev := &events{}
	loop := NewLoop(st, cache.NewCursors(), latest, ev, Config{
		Channels: []string{"gaze"},
		Interval: 10 * time.Millisecond,
	}, testLogger())

	loop.Start(context.Background())
	defer loop.Stop()

	_ = st.Append(context.Background(), reading("gaze", 1, `"left"`))

	deadline := time.After(time.Second)
	for {
		if _, ok := latest.Get("gaze"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reading was not picked up by the running loop")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoop_StopsOnContextCancel(t *testing.T) {
	f := newFixture("gaze")
	ctx, cancel := context.WithCancel(context.Background())
	f.loop.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}

func TestLoop_ConcurrentStartStop(t *testing.T) {
	for i := 0; i < 100; i++ {
		f := newFixture("gaze")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.loop.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			f.loop.Stop()
		}()
		wg.Wait()
		f.loop.Stop()
	}
}

// slowStore blocks every query for a fixed delay and tracks overlap.
type slowStore struct {
	*store.MemoryStore
	delay     time.Duration
	inFlight  atomic.Int32
	overlaps  atomic.Int32
	completed atomic.Int32
	ctxErrs   atomic.Int32
}

func (s *slowStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	defer s.inFlight.Add(-1)

	time.Sleep(s.delay)
	if ctx.Err() != nil {
		s.ctxErrs.Add(1)
	}
	s.completed.Add(1)
	return s.MemoryStore.QueryNewerThan(ctx, channel, after, limit)
}

func TestLoop_NoOverlappingTicks(t *testing.T) {
	st := &slowStore{MemoryStore: store.NewMemoryStore(), delay: 15 * time.Millisecond}
	loop := NewLoop(st, cache.NewCursors(), cache.NewLatest(), nil, Config{
		Channels: []string{"emotion", "gaze", "stress"},
		Interval: 5 * time.Millisecond,
	}, testLogger())

	loop.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	loop.Stop()

	if n := st.overlaps.Load(); n != 0 {
		t.Errorf("observed %d overlapping queries", n)
	}
}

func TestLoop_StopDrainsInFlightTick(t *testing.T) {
	st := &slowStore{MemoryStore: store.NewMemoryStore(), delay: 30 * time.Millisecond}
	loop := NewLoop(st, cache.NewCursors(), cache.NewLatest(), nil, Config{
		Channels: []string{"emotion", "gaze", "stress"},
		Interval: time.Hour,
	}, testLogger())

	loop.Start(context.Background())
	time.Sleep(10 * time.Millisecond) // first tick is in flight
	loop.Stop()

	if got := st.completed.Load(); got != 3 {
		t.Errorf("completed queries = %d, want 3 (whole tick drained)", got)
	}
	if got := st.ctxErrs.Load(); got != 0 {
		t.Errorf("%d queries saw a cancelled context during drain", got)
	}
}

// blockingStore never answers QueryNewerThan until its context ends.
type blockingStore struct {
	*store.MemoryStore
}

func (s *blockingStore) QueryNewerThan(ctx context.Context, _ string, _ *time.Time, _ int) ([]store.Reading, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTick_QueryTimeoutIsChannelFailure(t *testing.T) {
	loop := NewLoop(&blockingStore{store.NewMemoryStore()}, cache.NewCursors(), cache.NewLatest(), nil, Config{
		Channels:     []string{"gaze", "stress"},
		Interval:     time.Hour,
		QueryTimeout: 10 * time.Millisecond,
	}, testLogger())

	start := time.Now()
	if got := loop.tick(context.Background()); got != StateNoChange {
		t.Fatalf("tick() = %v, want %v", got, StateNoChange)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("tick took %s despite query timeout", elapsed)
	}
	if got := loop.Stats().ChannelFailures; got != 2 {
		t.Errorf("ChannelFailures = %d, want 2", got)
	}
}

func TestTickState_String(t *testing.T) {
	tests := []struct {
		state TickState
		want  string
	}{
		{StateIdle, "idle"},
		{StateQuerying, "querying"},
		{StateNoChange, "no_change"},
		{StateChanged, "changed"},
		{StateDegraded, "degraded"},
		{StateStopped, "stopped"},
		{TickState(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("TickState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
