// Package history serves bounded, time-ordered reading history for one channel.
//
// History is read straight from the store on every call; it never touches the
// latest cache or the poll loop's cursors.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/sensorsync/internal/store"
)

const (
	// DefaultLimit is the limit transports apply when a request names none.
	DefaultLimit = 50

	// MaxLimit caps a single history request.
	MaxLimit = 1000
)

var (
	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("history unavailable")

	// ErrQueryFailed is returned for any other store failure.
	ErrQueryFailed = errors.New("history query failed")

	// ErrInvalidChannel is returned for an empty channel name.
	ErrInvalidChannel = errors.New("channel is required")

	// ErrInvalidLimit is returned for a negative limit.
	ErrInvalidLimit = errors.New("limit must not be negative")
)

// Service answers history queries.
type Service struct {
	store        store.Store
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
}

// NewService creates a history [Service]. Non-positive limits select
// [DefaultLimit] and [MaxLimit]; a default above the max is clamped.
func NewService(st store.Store, defaultLimit, maxLimit int, logger *slog.Logger) *Service {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger,
	}
}

// Limits returns the effective default and maximum limits.
func (s *Service) Limits() (defaultLimit, maxLimit int) {
	return s.defaultLimit, s.maxLimit
}

// GetHistory returns at most limit of the most recent readings for channel,
// oldest first. A limit above the maximum is capped and a limit of zero
// yields no readings; callers wanting the default pass [Service.Limits]'s
// default explicitly.
//
// The result is always the newest suffix of the channel's history. Readings
// that share a timestamp are returned in the order they were appended. An
// unknown channel yields an empty, non-nil slice.
func (s *Service) GetHistory(ctx context.Context, channel string, limit int) ([]store.Reading, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		return []store.Reading{}, nil
	}
	limit = min(limit, s.maxLimit)

	recent, err := s.store.QueryRecent(ctx, channel, limit)
	if err != nil {
		s.logger.Warn("history query failed", "channel", channel, "limit", limit, "error", err)
		if errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if len(recent) > limit {
		recent = recent[:limit]
	}

	out := make([]store.Reading, len(recent))
	for i, r := range recent {
		out[len(recent)-1-i] = r
	}
	return out, nil
}
