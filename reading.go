package sensorsync

import (
	"github.com/jpalmerr/sensorsync/internal/broadcast"
	"github.com/jpalmerr/sensorsync/internal/history"
	"github.com/jpalmerr/sensorsync/internal/poller"
	"github.com/jpalmerr/sensorsync/internal/store"
)

// Reading is one immutable, timestamped value for a channel.
//
// Value is an opaque JSON payload written by the producer; sensorsync never
// interprets it. Readings within a channel are ordered by Timestamp.
type Reading = store.Reading

// Store is the persistent reading store the engine polls. Implementations
// must be safe for concurrent use and wrap connectivity failures in
// [ErrStoreUnavailable].
type Store = store.Store

// Message is what a subscriber receives: one snapshot, then updates.
type Message = broadcast.Message

// Sink receives messages for one subscriber. See [Engine.Subscribe].
type Sink = broadcast.Sink

// SinkFunc adapts a function to [Sink].
type SinkFunc = broadcast.SinkFunc

// Subscription is the handle returned by [Engine.Subscribe].
type Subscription = broadcast.Subscription

// Stats is a point-in-time view of the poll loop's counters.
type Stats = poller.Stats

var (
	// ErrStoreUnavailable is wrapped by store errors caused by lost connectivity.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrHistoryUnavailable is returned by [Engine.History] during a store outage.
	ErrHistoryUnavailable = history.ErrUnavailable

	// ErrHistoryQueryFailed is returned by [Engine.History] for other store failures.
	ErrHistoryQueryFailed = history.ErrQueryFailed

	// ErrHistoryInvalidLimit is returned by [Engine.History] for a negative limit.
	ErrHistoryInvalidLimit = history.ErrInvalidLimit
)

// NewMemoryStore returns an in-memory [Store], useful for demos and tests.
func NewMemoryStore() *store.MemoryStore {
	return store.NewMemoryStore()
}
