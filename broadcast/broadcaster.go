package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/empsgit/tram-monitor-ekb/config"
	"github.com/empsgit/tram-monitor-ekb/tracking"
)

// Frame types of the subscription protocol.
const (
	FrameSnapshot = "snapshot"
	FrameUpdate   = "update"
)

// Frame is one server message on the vehicle channel.
type Frame struct {
	Type     string                  `json:"type"`
	Vehicles []tracking.VehicleState `json:"vehicles"`
}

// Subscriber is one attached client. Frames arrive on Frames() in
// publication order; when the subscriber falls behind, the oldest
// undelivered frames are dropped and the subscriber is marked lossy.
type Subscriber struct {
	ID string

	ch     chan []byte
	lossy  bool
	closed bool
}

// Frames returns the subscriber's delivery channel. It is closed on
// Unsubscribe.
func (s *Subscriber) Frames() <-chan []byte { return s.ch }

// Broadcaster fans tick frames out to subscribers and keeps the latest
// full-table snapshot for new subscriptions. Publishing never blocks on
// a slow consumer.
type Broadcaster struct {
	cfg    config.BroadcastConfig
	mirror *RedisMirror // nil when no Redis is configured

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	snapshot   []byte
	snapshotAt time.Time
}

// NewBroadcaster creates a broadcaster. mirror may be nil.
func NewBroadcaster(cfg config.BroadcastConfig, mirror *RedisMirror) *Broadcaster {
	return &Broadcaster{
		cfg:         cfg,
		mirror:      mirror,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe attaches a new client. If the cached snapshot is fresh it is
// enqueued first, so the subscriber sees exactly one snapshot before any
// update; a stale snapshot is withheld and the client starts with the
// next update.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		ch: make(chan []byte, b.cfg.MaxBufferedFrames),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sub.ID] = sub

	maxAge := time.Duration(b.cfg.SnapshotMaxAgeMS) * time.Millisecond
	if b.snapshot != nil && time.Since(b.snapshotAt) <= maxAge {
		sub.ch <- b.snapshot
	}
	slog.Debug("subscriber attached", "id", sub.ID, "total", len(b.subscribers))
	return sub
}

// Unsubscribe detaches a client and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subscribers, sub.ID)
	close(sub.ch)
	slog.Debug("subscriber detached", "id", sub.ID, "lossy", sub.lossy)
}

// Publish sends this tick's update to every subscriber and refreshes the
// cached snapshot from the full state table. The Redis mirror, when
// configured, receives the update payload for cross-process fan-out.
func (b *Broadcaster) Publish(ctx context.Context, tickStates, fullTable []tracking.VehicleState, now time.Time) error {
	update, err := json.Marshal(Frame{Type: FrameUpdate, Vehicles: tickStates})
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(Frame{Type: FrameSnapshot, Vehicles: fullTable})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.snapshot = snapshot
	b.snapshotAt = now
	for _, sub := range b.subscribers {
		b.enqueue(sub, update)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, update); err != nil {
			slog.Warn("redis mirror publish failed", "err", err)
		}
	}
	slog.Debug("published update", "vehicles", len(tickStates), "subscribers", count)
	return nil
}

// enqueue delivers one frame with drop-oldest overflow. Caller holds mu.
func (b *Broadcaster) enqueue(sub *Subscriber, payload []byte) {
	for {
		select {
		case sub.ch <- payload:
			return
		default:
		}
		// Queue full: drop the oldest undelivered frame and retry.
		select {
		case <-sub.ch:
			if !sub.lossy {
				sub.lossy = true
				slog.Warn("subscriber lagging, dropping frames", "id", sub.ID)
			}
		default:
		}
	}
}

// SubscriberCount reports the number of attached clients.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Lossy reports whether the subscriber has ever dropped frames.
func (b *Broadcaster) Lossy(sub *Subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.lossy
}
