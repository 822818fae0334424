package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/civic-workflow/internal/domain/event"
)

var (
	// ErrClosed is returned once the bus has been closed
	ErrClosed = errors.New("event bus is closed")

	// ErrDuplicateSubscriber is returned when a subscription name is reused
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
)

// Dispatcher routes committed transition events to in-process observers
type Dispatcher interface {
	// Subscribe registers a uniquely named handler for events matching filter
	Subscribe(name string, filter Filter, handler Handler) error

	// SubscribeAll registers a handler that receives every event
	SubscribeAll(name string, handler Handler) error

	// Unsubscribe removes a handler by name and reports whether it existed
	Unsubscribe(name string) bool

	// Dispatch runs every matching handler in subscription order and returns
	// all handler errors joined
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues the event for the worker pool. Events are dropped
	// and counted when the queue is full.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Subscriptions lists registered handlers in subscription order
	Subscriptions() []Subscription

	// Stats returns delivery counters
	Stats() Stats

	// Close stops accepting events, drains the queue and waits for the workers
	Close() error
}

// Stats counts handler outcomes across sync and async dispatch
type Stats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type queued struct {
	ctx context.Context
	evt *event.Event
}

type bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	logger      Logger

	workers   int
	queueSize int
	queue     chan queued
	wg        sync.WaitGroup

	// sendMu orders DispatchAsync sends against closing the queue
	sendMu sync.RWMutex
	closed bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures the dispatcher
type Option func(*bus)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(b *bus) {
		b.logger = logger
	}
}

// WithWorkers sets the number of async delivery goroutines
func WithWorkers(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize bounds the number of events waiting for async delivery
func WithQueueSize(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewDispatcher creates an event bus and starts its async workers
func NewDispatcher(opts ...Option) Dispatcher {
	b := &bus{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.queue = make(chan queued, b.queueSize)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	return b
}

func (b *bus) Subscribe(name string, filter Filter, handler Handler) error {
	if name == "" {
		return fmt.Errorf("subscriber name is required")
	}
	if handler == nil {
		return fmt.Errorf("subscriber %s: handler is required", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subscribers {
		if s.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
		}
	}
	b.subscribers = append(b.subscribers, subscriber{
		Subscription: Subscription{Name: name, Filter: filter},
		handler:      handler,
	})

	if b.logger != nil {
		b.logger.Info("Subscriber registered", "name", name, "types", filter.Types, "kinds", filter.Kinds)
	}
	return nil
}

func (b *bus) SubscribeAll(name string, handler Handler) error {
	return b.Subscribe(name, Filter{}, handler)
}

func (b *bus) Unsubscribe(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.Name == name {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// matching snapshots the subscribers for evt
func (b *bus) matching(evt *event.Event) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.Filter.Matches(evt) {
			out = append(out, s)
		}
	}
	return out
}

func (b *bus) Dispatch(ctx context.Context, evt *event.Event) error {
	b.sendMu.RLock()
	closed := b.closed
	b.sendMu.RUnlock()
	if closed {
		return ErrClosed
	}
	return b.deliver(ctx, evt)
}

// deliver runs every matching handler, continuing past failures
func (b *bus) deliver(ctx context.Context, evt *event.Event) error {
	var errs []error
	for _, s := range b.matching(evt) {
		if err := b.safeExecute(ctx, evt, s); err != nil {
			b.failed.Add(1)
			if b.logger != nil {
				b.logger.Error("Subscriber failed",
					"subscriber", s.Name,
					"event_id", evt.ID,
					"kind", evt.Kind,
					"entity_id", evt.EntityID,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.Name, err))
			continue
		}
		b.delivered.Add(1)
	}
	return errors.Join(errs...)
}

func (b *bus) DispatchAsync(ctx context.Context, evt *event.Event) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Error("Event dropped, bus is closed", "event_id", evt.ID, "kind", evt.Kind)
		}
		return
	}

	select {
	case b.queue <- queued{ctx: ctx, evt: evt}:
	default:
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Error("Event dropped, queue is full",
				"event_id", evt.ID,
				"kind", evt.Kind,
				"entity_id", evt.EntityID,
				"queue_size", b.queueSize,
			)
		}
	}
}

func (b *bus) work() {
	defer b.wg.Done()
	for item := range b.queue {
		_ = b.deliver(item.ctx, item.evt)
	}
}

func (b *bus) Subscriptions() []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Subscription, len(b.subscribers))
	for i, s := range b.subscribers {
		out[i] = s.Subscription
	}
	return out
}

func (b *bus) Stats() Stats {
	return Stats{
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *bus) Close() error {
	b.sendMu.Lock()
	if b.closed {
		b.sendMu.Unlock()
		return ErrClosed
	}
	b.closed = true
	close(b.queue)
	b.sendMu.Unlock()

	if b.logger != nil {
		b.logger.Info("Draining event bus", "pending", len(b.queue))
	}
	b.wg.Wait()

	if b.logger != nil {
		stats := b.Stats()
		b.logger.Info("Event bus closed",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}
	return nil
}

// safeExecute runs a handler with panic recovery
func (b *bus) safeExecute(ctx context.Context, evt *event.Event, s subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}
