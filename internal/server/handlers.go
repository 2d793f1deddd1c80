package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/sensorsync/internal/history"
	"github.com/jpalmerr/sensorsync/internal/poller"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Poller      *poller.Stats `json:"poller,omitempty"`
	Subscribers int           `json:"subscribers"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// handleHealth reports process liveness and a live store check. The status is
// "ok" while the process serves requests, even when the store is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	if s.deps.Store == nil {
		database = "disconnected"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Debug("health check ping failed", "error", err)
			database = "disconnected"
		}
	}

	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Database:  database,
		Timestamp: time.Now().UTC(),
	})
}

// handleLatest returns the latest reading per channel from the cache.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.deps.Latest.Snapshot())
}

// handleHistory serves both /api/history?channel=C and /api/history/{channel}.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		channel = r.URL.Query().Get("channel")
	}
	if channel == "" {
		writeError(w, r, http.StatusBadRequest, "channel is required")
		return
	}

	// a missing or zero limit means the default, as clients have always sent it
	limit, _ := s.deps.History.Limits()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n > 0 {
			limit = n
		}
	}

	readings, err := s.deps.History.GetHistory(r.Context(), channel, limit)
	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, readings)
	case errors.Is(err, history.ErrInvalidChannel), errors.Is(err, history.ErrInvalidLimit):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, history.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.logger.Error("history request failed",
			"request_id", requestIDFrom(r.Context()),
			"channel", channel,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "failed to fetch history")
	}
}

// handleStats reports poll-loop counters and the subscriber count.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.deps.Stats != nil {
		stats := s.deps.Stats()
		resp.Poller = &stats
	}
	if s.deps.Broadcaster != nil {
		resp.Subscribers = s.deps.Broadcaster.Count()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		RequestID: requestIDFrom(r.Context()),
	})
}
