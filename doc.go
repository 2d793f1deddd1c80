// Package sensorsync streams timestamped sensor readings from a query-only
// store to live subscribers.
//
// A poll loop wakes on a fixed interval, asks the store for the newest reading
// of each channel that is newer than what it has already seen, keeps the
// latest value per channel in memory and fans every change out to
// subscribers. Each subscriber first receives a snapshot of the latest values
// and then incremental updates, with no duplicates and without a slow
// subscriber ever holding up the others. Bounded history is read straight
// from the store.
//
// # Quick Start
//
//	eng, _ := sensorsync.New(
//	    sensorsync.WithChannels("emotion", "gaze", "stress"),
//	    sensorsync.WithPollInterval(500 * time.Millisecond),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	eng.Run(ctx) // blocks until context is cancelled
//
// # Delivery Guarantees
//
// Only the newest reading per channel per poll cycle is delivered; readings
// superseded within one interval are skipped. Subscribers are promised the
// current value, not every value.
//
// # HTTP API
//
//   - GET /health: {"status","database","timestamp"}
//   - GET /api/latest: latest reading per channel
//   - GET /api/history/{channel}?limit=N: oldest-first history
//   - GET /api/sse and GET /api/ws: snapshot then updates
//   - GET /api/stats: poll loop counters
//
// # Architecture
//
// sensorsync consists of several internal packages (under internal/):
//
//   - internal/store: Store contract, in-memory store and the pgstore Postgres adapter
//   - internal/cache: cursor table and latest-reading cache
//   - internal/poller: the poll loop
//   - internal/broadcast: per-subscriber queues and fanout
//   - internal/history: bounded history queries
//   - internal/server: chi router, SSE and WebSocket streams
//
// The internal packages are not part of the public API and may change
// without notice.
package sensorsync
