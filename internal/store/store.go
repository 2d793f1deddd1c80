package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Adapters wrap it so callers can match with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Reading is one immutable, timestamped value for a channel.
//
// Reading is the storage representation shared by the poll loop, the latest
// cache and the HTTP API. Value is an opaque JSON payload; the core never
// interprets it.
type Reading struct {
	// Channel is the name of the source that produced the reading (e.g. "gaze").
	Channel string `json:"channel"`

	// Value is the opaque payload written by the producer.
	Value json.RawMessage `json:"value"`

	// Timestamp orders readings within a channel.
	Timestamp time.Time `json:"timestamp"`

	// SourceID identifies the writer (operator, device or process).
	SourceID string `json:"source_id"`
}

// Store defines the operations the core needs from a persistent reading store.
//
// Implementations must be safe for concurrent access. Query methods return
// readings newest first. Errors caused by lost connectivity should wrap
// [ErrUnavailable].
type Store interface {
	// Append persists a reading. Readings are queryable as soon as Append returns.
	Append(ctx context.Context, r Reading) error

	// QueryNewerThan returns at most limit readings for channel with a
	// timestamp strictly after the given cursor, newest first. A nil cursor
	// matches every reading of the channel.
	QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]Reading, error)

	// QueryRecent returns at most limit readings for channel, newest first.
	QueryRecent(ctx context.Context, channel string, limit int) ([]Reading, error)

	// Reset removes every reading.
	Reset(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
