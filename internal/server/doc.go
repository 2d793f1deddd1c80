// Package server provides the HTTP surface for sensorsync.
//
// This package is internal to sensorsync and handles all HTTP concerns:
//
//   - Health: GET /health with a live store check
//   - Query API: JSON endpoints for the latest readings, channel history and loop stats
//   - Server-Sent Events: snapshot and updates at "/api/sse"
//   - WebSocket: the same stream at "/api/ws"
//
// Every request passes through request-id, recovery and logging middleware.
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the sensorsync library should not need to interact with this
// package directly. The server is started by [sensorsync.Engine.Start].
package server
