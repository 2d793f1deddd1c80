// Package store defines the reading store contract used by sensorsync.
//
// This package is internal to sensorsync. A store is an append-only collection
// of immutable, timestamped readings that can only be queried; it offers no
// push or subscribe primitive. The poll loop turns it into an event stream.
//
// The main components are:
//
//   - [Reading]: One immutable value for a channel
//   - [Store]: Interface every store adapter implements
//   - [MemoryStore]: In-memory implementation used by tests and the demo
//   - [ErrUnavailable]: Returned (wrapped) when the store cannot be reached
//
// The Postgres adapter lives in the pgstore subpackage.
package store
