package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/sensorsync/internal/store"
)

// DefaultQueueSize is the per-subscriber queue length used when none is configured.
const DefaultQueueSize = 64

// ErrClosed is returned by [Broadcaster.Subscribe] after [Broadcaster.Close].
var ErrClosed = errors.New("broadcaster closed")

// MessageType distinguishes the initial snapshot from incremental updates.
type MessageType string

const (
	// MessageSnapshot carries the full latest cache, sent once on subscribe.
	MessageSnapshot MessageType = "snapshot"

	// MessageUpdate carries one new reading for one channel.
	MessageUpdate MessageType = "update"
)

// Message is what a [Sink] receives.
type Message struct {
	Type MessageType `json:"type"`

	// Readings is set for snapshots: channel -> latest reading.
	Readings map[string]store.Reading `json:"readings,omitempty"`

	// Channel and Reading are set for updates.
	Channel string         `json:"channel,omitempty"`
	Reading *store.Reading `json:"reading,omitempty"`
}

// Sink receives messages for one subscriber.
//
// Send is called from a single goroutine per subscription, in order. The
// context is cancelled when the subscription is removed; long writes should
// honour it. A non-nil error removes the subscription.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SnapshotSource provides the current latest-reading map for new subscribers.
type SnapshotSource interface {
	Snapshot() map[string]store.Reading
}

// Subscription is the handle returned by [Broadcaster.Subscribe].
type Subscription struct {
	id     string
	sink   Sink
	queue  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// newest timestamp queued per channel, guarded by Broadcaster.mu
	seen map[string]time.Time
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Done is closed once the subscription has been removed and its delivery
// goroutine has exited. After Done is closed the sink is never called again.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Broadcaster delivers snapshots and updates to subscribers.
//
// All methods are safe for concurrent use. The poll loop calls
// [Broadcaster.OnChange]; transports call Subscribe and Unsubscribe.
type Broadcaster struct {
	source    SnapshotSource
	queueSize int
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// New creates a [Broadcaster] that takes snapshots from source.
// queueSize <= 0 selects [DefaultQueueSize].
func New(source SnapshotSource, queueSize int, logger *slog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		source:    source,
		queueSize: queueSize,
		logger:    logger,
		subs:      make(map[string]*Subscription),
	}
}

// Subscribe registers sink and queues the current snapshot as its first message.
//
// The snapshot is taken while the subscriber set is locked, so every change
// event published after it is delivered as an update, and updates already
// reflected in the snapshot are not repeated.
func (b *Broadcaster) Subscribe(sink Sink) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:     uuid.NewString(),
		sink:   sink,
		queue:  make(chan Message, b.queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		seen:   make(map[string]time.Time),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}

	snapshot := b.source.Snapshot()
	for ch, r := range snapshot {
		sub.seen[ch] = r.Timestamp
	}
	// queue is empty and has capacity >= 1, this cannot block
	sub.queue <- Message{Type: MessageSnapshot, Readings: snapshot}
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	go b.deliver(sub)

	b.logger.Debug("subscriber added", "subscription_id", sub.id, "subscribers", count)
	return sub, nil
}

// OnChange queues an update for every subscriber. It never blocks on a
// subscriber: one whose queue is full is removed instead.
func (b *Broadcaster) OnChange(channel string, r store.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		// already delivered via the snapshot or an earlier update
		if seen, ok := sub.seen[channel]; ok && !r.Timestamp.After(seen) {
			continue
		}

		reading := r
		msg := Message{Type: MessageUpdate, Channel: channel, Reading: &reading}
		select {
		case sub.queue <- msg:
			sub.seen[channel] = r.Timestamp
		default:
			b.removeLocked(sub, "queue full")
		}
	}
}

// Unsubscribe removes sub. Removing an already removed subscription is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		b.removeLocked(sub, "unsubscribed")
	}
}

// Count returns the number of active subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close removes every subscriber and rejects new ones. In-flight sends are
// cancelled, not awaited.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		b.removeLocked(sub, "shutdown")
	}
}

// removeLocked must be called with b.mu held and sub registered.
func (b *Broadcaster) removeLocked(sub *Subscription, reason string) {
	delete(b.subs, sub.id)
	sub.cancel()
	close(sub.queue)

	attrs := []any{"subscription_id", sub.id, "reason", reason, "subscribers", len(b.subs)}
	if reason == "unsubscribed" || reason == "shutdown" {
		b.logger.Debug("subscriber removed", attrs...)
	} else {
		b.logger.Warn("subscriber dropped", attrs...)
	}
}

// remove is used by the delivery goroutine after a failed send.
func (b *Broadcaster) remove(sub *Subscription, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		b.removeLocked(sub, reason)
	}
}

// deliver drains one subscriber's queue into its sink.
func (b *Broadcaster) deliver(sub *Subscription) {
	defer close(sub.done)

	for msg := range sub.queue {
		// removed while messages were still queued
		if sub.ctx.Err() != nil {
			return
		}
		if err := b.send(sub, msg); err != nil {
			b.logger.Debug("subscriber send failed",
				"subscription_id", sub.id,
				"message_type", msg.Type,
				"error", err,
			)
			b.remove(sub, "send failed")
			return
		}
	}
}

// send calls the sink with panic recovery; a panicking sink counts as a
// failed send.
func (b *Broadcaster) send(sub *Subscription, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			b.logger.Error("sink panic",
				"correlation_id", correlationID,
				"subscription_id", sub.id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("sink panic (correlation_id: %s)", correlationID)
		}
	}()
	return sub.sink.Send(sub.ctx, msg)
}
