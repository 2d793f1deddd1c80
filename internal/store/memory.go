package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps one slice per channel, sorted by timestamp ascending.
// Readings with equal timestamps keep their insertion order. It is safe for
// concurrent use.
//
// Availability can be toggled with [MemoryStore.SetAvailable] to exercise
// degraded-mode behaviour; while unavailable every operation returns an
// error wrapping [ErrUnavailable].
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[string][]Reading
	down     bool
	closed   bool
}

// NewMemoryStore creates an empty, available [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: make(map[string][]Reading),
	}
}

// SetAvailable simulates the store coming back (true) or going away (false).
func (m *MemoryStore) SetAvailable(available bool) {
	m.mu.Lock()
	m.down = !available
	m.mu.Unlock()
}

// check must be called with m.mu held.
func (m *MemoryStore) check() error {
	if m.closed {
		return fmt.Errorf("memory store closed: %w", ErrUnavailable)
	}
	if m.down {
		return fmt.Errorf("memory store offline: %w", ErrUnavailable)
	}
	return nil
}

// Append stores a reading in timestamp order.
func (m *MemoryStore) Append(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Channel == "" {
		return fmt.Errorf("reading channel is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return err
	}

	list := m.readings[r.Channel]
	// insert after any reading with the same or an earlier timestamp
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(r.Timestamp)
	})
	list = append(list, Reading{})
	copy(list[idx+1:], list[idx:])
	list[idx] = r
	m.readings[r.Channel] = list

	return nil
}

// QueryNewerThan returns at most limit readings newer than after, newest first.
func (m *MemoryStore) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	list := m.readings[channel]
	start := 0
	if after != nil {
		cursor := *after
		start = sort.Search(len(list), func(i int) bool {
			return list[i].Timestamp.After(cursor)
		})
	}
	return newestFirst(list[start:], limit), nil
}

// QueryRecent returns at most limit readings for channel, newest first.
func (m *MemoryStore) QueryRecent(ctx context.Context, channel string, limit int) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	return newestFirst(m.readings[channel], limit), nil
}

// Reset removes every reading.
func (m *MemoryStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return err
	}
	m.readings = make(map[string][]Reading)
	return nil
}

// Ping reports whether the store is currently available.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check()
}

// Close marks the store closed. Subsequent operations return [ErrUnavailable].
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// newestFirst copies up to limit readings from the tail of an ascending slice
// in descending order. limit <= 0 means no limit.
func newestFirst(asc []Reading, limit int) []Reading {
	n := len(asc)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Reading, 0, n)
	for i := len(asc) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, asc[i])
	}
	return out
}
