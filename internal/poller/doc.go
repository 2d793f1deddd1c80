// Package poller turns a query-only reading store into a stream of change events.
//
// This package is internal to sensorsync. A [Loop] wakes on a fixed interval
// and, for every tracked channel, asks the store for the single newest
// reading newer than that channel's cursor. A hit advances the cursor,
// replaces the cached latest reading and is handed to a [Notifier].
//
// Per tick the loop moves through:
//
//	Idle -> Querying -> NoChange | Changed | Degraded -> Idle
//
// and ends in Stopped after [Loop.Stop]. Ticks never overlap: the loop is one
// goroutine driven by one ticker.
//
// Only the newest reading per channel per tick is fetched, so readings that
// are superseded within one interval are never emitted. Subscribers are
// guaranteed the latest value, not every value; the interval bounds staleness.
package poller
