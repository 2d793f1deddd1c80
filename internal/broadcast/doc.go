// Package broadcast fans change events out to live subscribers.
//
// This package is internal to sensorsync. A [Broadcaster] owns the set of
// active subscriptions. Each subscription wraps a [Sink] (an SSE stream, a
// WebSocket connection, a test recorder) and has its own bounded queue and
// delivery goroutine, so a slow or broken sink never delays the others.
//
// Message flow for one subscriber:
//
//	Subscribe  -> snapshot (full latest cache)
//	OnChange   -> update {channel, reading}   (zero or more)
//	removal    -> nothing further
//
// A subscriber is removed when it unsubscribes, when its Send fails, or when
// its queue overflows. Removal is never reported as an error to the caller
// that triggered the fanout.
package broadcast
