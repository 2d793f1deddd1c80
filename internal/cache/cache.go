// Package cache holds the per-channel state the poll loop maintains: the
// cursor table (last observed timestamp) and the latest-reading cache.
//
// Both types are written by a single goroutine, the poll loop, and read
// concurrently by HTTP handlers and the broadcaster. Entries are created
// lazily the first time a channel is written, so the channel set is open.
package cache

import (
	"sync"
	"time"

	"github.com/jpalmerr/sensorsync/internal/store"
)

// Cursors maps each channel to the timestamp of the newest reading the poll
// loop has observed. A missing entry means nothing has been observed yet.
type Cursors struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewCursors creates an empty cursor table.
func NewCursors() *Cursors {
	return &Cursors{last: make(map[string]time.Time)}
}

// Get returns the cursor for channel, or nil when none has been recorded.
// The returned pointer is a copy and may be retained by the caller.
func (c *Cursors) Get(channel string) *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ts, ok := c.last[channel]
	if !ok {
		return nil
	}
	return &ts
}

// Advance moves the cursor for channel to ts. Cursors never move backwards:
// Advance returns false and leaves the table unchanged when ts is before the
// current cursor.
func (c *Cursors) Advance(channel string, ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.last[channel]; ok && ts.Before(cur) {
		return false
	}
	c.last[channel] = ts
	return true
}

// Latest caches the most recent reading per channel.
//
// A reader always sees a whole reading, either the one before or the one
// after a concurrent Set. The cached value for a channel never regresses to
// an older timestamp.
type Latest struct {
	mu       sync.RWMutex
	readings map[string]store.Reading
}

// NewLatest creates an empty cache.
func NewLatest() *Latest {
	return &Latest{readings: make(map[string]store.Reading)}
}

// Set stores r as the latest reading for its channel. A reading older than
// the cached one is ignored and Set returns false.
func (l *Latest) Set(r store.Reading) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.readings[r.Channel]; ok && r.Timestamp.Before(cur.Timestamp) {
		return false
	}
	l.readings[r.Channel] = r
	return true
}

// Get returns the latest reading for channel.
func (l *Latest) Get(channel string) (store.Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.readings[channel]
	return r, ok
}

// Snapshot returns a copy of every cached reading keyed by channel.
// Modifying the returned map does not affect the cache.
func (l *Latest) Snapshot() map[string]store.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]store.Reading, len(l.readings))
	for ch, r := range l.readings {
		out[ch] = r
	}
	return out
}

// Len returns the number of channels with a cached reading.
func (l *Latest) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.readings)
}
