// Package eventbus provides the in-process publish/subscribe channel for autocrew events.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Bus implements domain.EventBus.
var _ domain.EventBus = (*Bus)(nil)

// DefaultMaxPending is the backlog at which a subscriber is evicted.
const DefaultMaxPending = 10000

// Options configures a Bus.
type Options struct {
	Logger     domain.Logger // Receives eviction and panic reports, may be nil
	Clock      domain.Clock  // Stamps events without a timestamp, defaults to the real clock
	MaxPending int           // Per-subscriber backlog limit, 0 for DefaultMaxPending
}

// Bus fans out events to subscribers without blocking the publisher.
// Each subscriber has its own FIFO queue drained by a dedicated goroutine,
// so one slow or panicking callback never delays the others.
// Fields are ordered to minimize memory padding.
type Bus struct {
	logger      domain.Logger
	clock       domain.Clock
	subscribers map[string]*subscriber
	maxPending  int
	mu          sync.RWMutex
	closed      bool
}

// New creates a Bus.
func New(opts Options) *Bus {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.Clock == nil {
		opts.Clock = domain.RealClock{}
	}
	return &Bus{
		logger:      opts.Logger,
		clock:       opts.Clock,
		subscribers: make(map[string]*subscriber),
		maxPending:  opts.MaxPending,
	}
}

// Publish delivers e to every current subscriber. It never blocks on subscribers.
func (b *Bus) Publish(e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var overflowed []*subscriber
	for _, sub := range b.subscribers {
		if !sub.enqueue(e, b.maxPending) {
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range overflowed {
		b.remove(sub)
		b.warn(fmt.Sprintf("subscriber %s evicted: more than %d pending events", sub.id, b.maxPending))
	}
}

// Subscribe registers fn. Events published after Subscribe returns are delivered
// to fn in publish order. The returned function unsubscribes and is idempotent.
func (b *Bus) Subscribe(fn func(domain.Event)) func() {
	sub := newSubscriber(uuid.NewString(), fn, b.logger)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.run()
	return func() { b.remove(sub) }
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber. Publish is a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	if cur, ok := b.subscribers[sub.id]; ok && cur == sub {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()
	sub.stop()
}

func (b *Bus) warn(msg string) {
	if b.logger != nil {
		b.logger.Warn("", "eventbus", msg)
	}
}
