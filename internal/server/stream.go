package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/sensorsync/internal/broadcast"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// wsWriteTimeout bounds a single WebSocket frame write.
	wsWriteTimeout = 5 * time.Second

	// wsPongWait is how long the peer may stay silent before the connection is dropped.
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsMaxMessageSize limits inbound frames; clients only send control frames.
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamSink hands broadcaster messages to the handler goroutine that owns the
// connection, so only that goroutine ever writes to it. Send unblocks when the
// subscription is removed.
type streamSink struct {
	out chan broadcast.Message
}

func (s *streamSink) Send(ctx context.Context, msg broadcast.Message) error {
	select {
	case s.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe registers a sink for one streaming request. The returned cleanup
// must be deferred by the handler.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) (*streamSink, *broadcast.Subscription, func(), bool) {
	sink := &streamSink{out: make(chan broadcast.Message)}
	sub, err := s.deps.Broadcaster.Subscribe(sink)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "server shutting down")
		return nil, nil, nil, false
	}
	s.logger.Debug("stream opened",
		"request_id", requestIDFrom(r.Context()),
		"subscription_id", sub.ID(),
		"path", r.URL.Path,
	)
	cleanup := func() {
		s.deps.Broadcaster.Unsubscribe(sub)
		s.logger.Debug("stream closed",
			"request_id", requestIDFrom(r.Context()),
			"subscription_id", sub.ID(),
		)
	}
	return sink, sub, cleanup, true
}

// handleSSE streams the snapshot and subsequent updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent the
// handler from detecting context cancellation or subscriber removal.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeEvent := func(msg broadcast.Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode %s message: %w", msg.Type, err)
		}

		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	sink, sub, cleanup, ok := s.subscribe(w, r)
	if !ok {
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("sse not supported", "error", err)
		return
	}

	for {
		select {
		case msg := <-sink.out:
			if err := writeEvent(msg); err != nil {
				return
			}

		case <-sub.Done():
			// dropped by the broadcaster; the client reconnects and resyncs
			return

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// handleWebSocket streams the same messages as handleSSE as JSON text frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// subscribe first so a closed broadcaster is still a plain HTTP 503
	sink, sub, cleanup, ok := s.subscribe(w, r)
	if !ok {
		return
	}
	defer cleanup()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// the peer only sends control frames, but reading is required to process them
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(wsMaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket client closed unexpectedly", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(wsWriteTimeout))
	}

	for {
		select {
		case msg := <-sink.out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}

		case <-readDone:
			return

		case <-sub.Done():
			closeWith(websocket.CloseTryAgainLater, "subscriber dropped")
			return

		case <-r.Context().Done():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}
