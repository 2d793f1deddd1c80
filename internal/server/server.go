package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/sensorsync/internal/broadcast"
	"github.com/jpalmerr/sensorsync/internal/history"
	"github.com/jpalmerr/sensorsync/internal/poller"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// healthTimeout bounds the live store check behind /health.
	healthTimeout = 2 * time.Second
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP surface reads from.
type Deps struct {
	// Latest serves /api/latest.
	Latest broadcast.SnapshotSource

	// History serves /api/history.
	History *history.Service

	// Broadcaster backs the SSE and WebSocket streams.
	Broadcaster *broadcast.Broadcaster

	// Store is pinged by /health.
	Store Pinger

	// Stats reports poll-loop counters for /api/stats. May be nil.
	Stats func() poller.Stats
}

// Server handles HTTP requests for the sensorsync API.
//
// Server provides:
//   - GET /health: store connectivity
//   - GET /api/latest: the latest reading per channel
//   - GET /api/history: bounded channel history, oldest first
//   - GET /api/sse: Server-Sent Events stream of snapshot and updates
//   - GET /api/ws: the same stream over WebSocket
//   - GET /api/stats: poll-loop counters and subscriber count
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	deps   Deps
	port   int
	router chi.Router
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer creates a new HTTP [Server] listening on port. Port 0 selects a
// free port, see [Server.Addr].
//
// The server is not started until [Server.Start] is called.
func NewServer(deps Deps, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		port:   port,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the server's router, useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recovery(s.logger))
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{channel}", s.handleHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/sse", s.handleSSE)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns once the listener is bound. Request
// contexts derive from ctx, so cancelling it ends every open stream; the
// server then shuts down with a 5-second timeout. [Server.Shutdown] may be
// called directly to wait for that shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
// It is idempotent; concurrent callers wait for the first call to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.shutdownOnce.Do(func() {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
			s.shutdownErr = err
		}
	})
	return s.shutdownErr
}
