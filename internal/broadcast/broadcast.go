// Package broadcast fans run metrics out to live subscribers: websocket
// clients, the console renderer, anything implementing Subscriber.
package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"loadcast/internal/metrics"
	"loadcast/internal/telemetry"
)

// DefaultInterval is the periodic metrics cadence.
const DefaultInterval = time.Second

// Message types on the live feed. The set is closed; clients switch on
// Type to route Data.
const (
	TypeMetrics        = "metrics"
	TypeInitialMetrics = "initial_metrics"
	TypeNotification   = "notification"
	TypeTestHistory    = "test_history"
)

// Message is the live-feed envelope.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// InitialMetrics is the one-time payload a new subscriber receives:
// the current snapshot plus whether a run is live right now.
type InitialMetrics struct {
	metrics.Snapshot
	Running bool `json:"running"`
}

// Notification is an out-of-band operator message.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Subscriber receives live-feed messages. Send must not block forever;
// an error drops the subscriber.
type Subscriber interface {
	ID() string
	Send(Message) error
}

// Source supplies the data the feed publishes. The engine implements it.
type Source interface {
	Snapshot() metrics.Snapshot
	Running() bool
}

type Broadcaster struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
	tel      *telemetry.Metrics

	mu      sync.Mutex
	subs    map[string]Subscriber
	running bool
	cancel  context.CancelFunc
	closed  bool
}

func New(source Source, interval time.Duration, logger *zap.Logger, tel *telemetry.Metrics) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		source:   source,
		interval: interval,
		logger:   logger,
		tel:      tel,
		subs:     make(map[string]Subscriber),
	}
}

// Subscribe sends exactly one initial_metrics message immediately, then
// registers sub for the periodic feed. A failed initial send drops the
// subscriber on the spot.
func (b *Broadcaster) Subscribe(sub Subscriber) {
	msg := Message{
		Type:      TypeInitialMetrics,
		Data:      InitialMetrics{Snapshot: b.source.Snapshot(), Running: b.source.Running()},
		Timestamp: time.Now(),
	}
	if err := sub.Send(msg); err != nil {
		b.logger.Warn("initial send failed", zap.String("subscriber", sub.ID()), zap.Error(err))
		return
	}

	b.mu.Lock()
	b.subs[sub.ID()] = sub
	n := len(b.subs)
	b.ensureTickerLocked()
	b.mu.Unlock()

	b.tel.SetSubscribers(float64(n))
	b.logger.Info("subscriber joined", zap.String("subscriber", sub.ID()), zap.Int("subscribers", n))
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	if _, ok := b.subs[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, id)
	n := len(b.subs)
	b.ensureTickerLocked()
	b.mu.Unlock()

	b.tel.SetSubscribers(float64(n))
	b.logger.Info("subscriber left", zap.String("subscriber", id), zap.Int("subscribers", n))
}

// RunStateChanged keeps the timer alive across subscriber churn while a
// run is active, and lets it stop once both are gone.
func (b *Broadcaster) RunStateChanged(running bool) {
	b.mu.Lock()
	b.running = running
	b.ensureTickerLocked()
	b.mu.Unlock()
}

// Notify publishes an out-of-band notification, independent of the
// metrics cadence.
func (b *Broadcaster) Notify(level, text string) {
	b.publish(Message{
		Type:      TypeNotification,
		Data:      Notification{Level: level, Message: text},
		Timestamp: time.Now(),
	})
}

// Close stops the timer and forgets all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]Subscriber)
	b.ensureTickerLocked()
	b.mu.Unlock()
	b.tel.SetSubscribers(0)
}

// ensureTickerLocked starts or stops the feed goroutine to match the
// current demand. Callers hold the mutex.
func (b *Broadcaster) ensureTickerLocked() {
	want := !b.closed && (len(b.subs) > 0 || b.running)
	switch {
	case want && b.cancel == nil:
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.loop(ctx)
	case !want && b.cancel != nil:
		b.cancel()
		b.cancel = nil
	}
}

func (b *Broadcaster) loop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publish(Message{
				Type:      TypeMetrics,
				Data:      b.source.Snapshot(),
				Timestamp: time.Now(),
			})
		}
	}
}

// publish delivers msg to every subscriber. A Send error drops that
// subscriber and never interrupts delivery to the rest.
func (b *Broadcaster) publish(msg Message) {
	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dead []string
	for _, sub := range targets {
		if err := sub.Send(msg); err != nil {
			b.logger.Warn("send failed, dropping subscriber",
				zap.String("subscriber", sub.ID()),
				zap.String("type", msg.Type),
				zap.Error(err))
			dead = append(dead, sub.ID())
		}
	}
	for _, id := range dead {
		b.Unsubscribe(id)
	}
}
