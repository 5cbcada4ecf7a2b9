package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
)

// Handler processes one delivered Event.
type Handler func(ctx context.Context, e Event) error

// Middleware wraps a Handler to add cross-cutting behavior (logging,
// metrics, recovery) without the handler itself knowing about it. Middleware
// registered on the Bus runs, in registration order, around every handler.
type Middleware func(next Handler) Handler

// DeliveryMode controls how a subscription's queue drains.
type DeliveryMode int

const (
	// ModeParallel drains the subscriber's queue on a single goroutine in
	// publish order, independent of any other subscriber — no ordering
	// guarantee across subscribers, but a given subscriber never sees two
	// of its own events run concurrently.
	ModeParallel DeliveryMode = iota
	// ModeSerializedByCorrelation guarantees in-order delivery for events
	// sharing a CorrelationID, while still processing distinct
	// correlation ids concurrently via a sharded worker pool.
	ModeSerializedByCorrelation
)

const defaultShards = 16

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	QueueSize int
	Mode      DeliveryMode
}

// Bus is the in-process typed publish/subscribe event bus. Publish never
// blocks: a full subscriber queue is dropped and reported via ErrQueueFull
// rather than stalling the publisher.
type Bus struct {
	mu         sync.RWMutex
	subs       map[EventType][]*subscription
	middleware []Middleware
	logger     *slog.Logger
	metrics    *metrics.Registry
	nextSubID  int
}

// New constructs an empty Bus. Middleware is applied in the order given,
// outermost first.
func New(logger *slog.Logger, middleware ...Middleware) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:       make(map[EventType][]*subscription),
		middleware: middleware,
		logger:     logger,
	}
}

// WithMetrics attaches a metrics registry used to record publish/drop
// counters. Returns b for chaining at construction time.
func (b *Bus) WithMetrics(m *metrics.Registry) *Bus {
	b.metrics = m
	return b
}

type subscription struct {
	id       int
	busID    EventType
	handler  Handler
	mode     DeliveryMode
	queue    chan Event
	shards   []chan Event
	wg       sync.WaitGroup
	closeOnce sync.Once
	done     chan struct{}
}

// Subscribe registers handler for events of type t and starts its delivery
// goroutine(s). The returned func unsubscribes and drains in-flight work.
func (b *Bus) Subscribe(t EventType, handler Handler, opts SubscribeOptions) (unsubscribe func()) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	wrapped := handler
	for i := len(b.middleware) - 1; i >= 0; i-- {
		wrapped = b.middleware[i](wrapped)
	}

	b.mu.Lock()
	b.nextSubID++
	sub := &subscription{id: b.nextSubID, busID: t, handler: wrapped, mode: opts.Mode, done: make(chan struct{})}

	switch opts.Mode {
	case ModeSerializedByCorrelation:
		sub.shards = make([]chan Event, defaultShards)
		for i := range sub.shards {
			sub.shards[i] = make(chan Event, opts.QueueSize)
			sub.wg.Add(1)
			go sub.drainShard(b, sub.shards[i])
		}
	default:
		sub.queue = make(chan Event, opts.QueueSize)
		sub.wg.Add(1)
		go sub.drainParallel(b)
	}

	b.subs[t] = append(b.subs[t], sub)
	b.mu.Unlock()

	return func() { b.unsubscribe(t, sub) }
}

func (b *Bus) unsubscribe(t EventType, target *subscription) {
	b.mu.Lock()
	subs := b.subs[t]
	for i, s := range subs {
		if s == target {
			b.subs[t] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	target.closeOnce.Do(func() {
		close(target.done)
		if target.queue != nil {
			close(target.queue)
		}
		for _, sh := range target.shards {
			close(sh)
		}
	})
	target.wg.Wait()
}

// Publish delivers e to every subscriber of e.Type. A subscriber whose queue
// is full is skipped and its id reported in the returned error rather than
// blocking delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[e.Type]...)
	b.mu.RUnlock()

	var full []int
	for _, sub := range subs {
		if sub.mode == ModeSerializedByCorrelation {
			shard := sub.shards[shardFor(e.CorrelationID.String(), len(sub.shards))]
			select {
			case shard <- e:
			default:
				full = append(full, sub.id)
			}
			continue
		}
		select {
		case sub.queue <- e:
		default:
			full = append(full, sub.id)
		}
	}

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
		if len(full) > 0 {
			b.metrics.EventsDropped.WithLabelValues(string(e.Type)).Add(float64(len(full)))
		}
	}

	if len(full) > 0 {
		return fmt.Errorf("%w: subscribers %v did not accept event %s", domain.ErrQueueFull, full, e.Type)
	}
	return nil
}

func (s *subscription) drainParallel(b *Bus) {
	defer s.wg.Done()
	for e := range s.queue {
		if err := s.handler(context.Background(), e); err != nil {
			b.logger.Error("event handler failed", "event", e.Type, "subscriber", s.id, "error", err)
		}
	}
}

func (s *subscription) drainShard(b *Bus, ch chan Event) {
	defer s.wg.Done()
	for e := range ch {
		if err := s.handler(context.Background(), e); err != nil {
			b.logger.Error("event handler failed", "event", e.Type, "subscriber", s.id, "error", err)
		}
	}
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}
