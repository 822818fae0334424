package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics records delivery outcomes per channel
type Metrics interface {
	ObserveNotification(channel, outcome string)
}

// Delivery outcomes reported to Metrics
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

const (
	defaultOutboundTimeout = 10 * time.Second
	defaultConcurrency     = 4
)

// Dispatcher persists in-app notifications and delivers them outbound.
// The in-app write is the durability boundary; outbound delivery runs in the
// background and its failures are only logged and recorded for retry.
type Dispatcher struct {
	repo      port.NotificationRepository
	outbound  port.OutboundSender
	txManager port.TransactionManager
	logger    Logger
	metrics   Metrics

	outboundTimeout time.Duration
	concurrency     int
	now             func() time.Time

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*Dispatcher)

// WithOutboundTimeout bounds each outbound call
func WithOutboundTimeout(d time.Duration) Option {
	return func(n *Dispatcher) {
		if d > 0 {
			n.outboundTimeout = d
		}
	}
}

// WithConcurrency limits parallel outbound calls per event
func WithConcurrency(limit int) Option {
	return func(n *Dispatcher) {
		if limit > 0 {
			n.concurrency = limit
		}
	}
}

// WithMetrics sets the outcome recorder
func WithMetrics(m Metrics) Option {
	return func(n *Dispatcher) {
		n.metrics = m
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(n *Dispatcher) {
		n.now = now
	}
}

// NewDispatcher creates a notification dispatcher. outbound and txManager may be nil.
func NewDispatcher(
	repo port.NotificationRepository,
	outbound port.OutboundSender,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		repo:            repo,
		outbound:        outbound,
		txManager:       txManager,
		logger:          logger,
		outboundTimeout: defaultOutboundTimeout,
		concurrency:     defaultConcurrency,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ResolveRecipients returns who must be told about the transition
func (d *Dispatcher) ResolveRecipients(evt *event.Event) []string {
	return ResolveRecipients(evt)
}

// Emit writes one in-app notification per recipient in a single transaction,
// then schedules outbound delivery. It fails only if the in-app write fails.
func (d *Dispatcher) Emit(ctx context.Context, evt *event.Event, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	notifications := d.build(evt, recipients)

	if err := d.persist(ctx, notifications); err != nil {
		d.observe(entity.ChannelInApp, OutcomeFailed, len(notifications))
		return fmt.Errorf("failed to persist notifications: %w", err)
	}
	d.observe(entity.ChannelInApp, OutcomeDelivered, len(notifications))

	if d.logger != nil {
		d.logger.Info("Notifications persisted",
			"event_id", evt.ID,
			"kind", evt.Kind,
			"entity_id", evt.EntityID,
			"recipient_count", len(notifications),
		)
	}

	if d.outbound == nil || d.closed.Load() {
		return nil
	}

	// Outbound delivery outlives the request that committed the transition
	outCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliverAll(outCtx, notifications)
	}()

	return nil
}

func (d *Dispatcher) build(evt *event.Event, recipients []string) []*entity.Notification {
	message := RenderMessage(evt)
	status := entity.NotificationStatusPending
	if d.outbound == nil {
		status = entity.NotificationStatusSkipped
	}

	now := d.now()
	out := make([]*entity.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		out = append(out, &entity.Notification{
			ID:             uuid.NewString(),
			RecipientID:    recipient,
			Kind:           evt.Kind.String(),
			EntityID:       evt.EntityID,
			EventType:      evt.Type.String(),
			OldState:       evt.OldState.String(),
			NewState:       evt.NewState.String(),
			Message:        message,
			OutboundStatus: status,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return out
}

func (d *Dispatcher) persist(ctx context.Context, notifications []*entity.Notification) error {
	write := func(txCtx context.Context) error {
		for _, n := range notifications {
			if err := d.repo.Create(txCtx, n); err != nil {
				return fmt.Errorf("notification for %s: %w", n.RecipientID, err)
			}
		}
		return nil
	}

	if d.txManager == nil {
		return write(ctx)
	}
	return d.txManager.WithTransaction(ctx, write)
}

func (d *Dispatcher) deliverAll(ctx context.Context, notifications []*entity.Notification) {
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, n := range notifications {
		g.Go(func() error {
			// Failures are recorded on the notification for the retry worker
			_ = d.Deliver(ctx, n)
			return nil
		})
	}

	_ = g.Wait()
}

// Deliver sends one notification outbound and records the attempt
func (d *Dispatcher) Deliver(ctx context.Context, n *entity.Notification) error {
	if d.outbound == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.outboundTimeout)
	sendErr := d.outbound.SendOutbound(callCtx, n.RecipientID, n)
	cancel()

	status, errMsg := entity.NotificationStatusSent, ""
	outcome := OutcomeDelivered
	if sendErr != nil {
		status, errMsg = entity.NotificationStatusFailed, sendErr.Error()
		outcome = OutcomeFailed
		if d.logger != nil {
			d.logger.Error("Outbound delivery failed",
				"notification_id", n.ID,
				"recipient_id", n.RecipientID,
				"attempt", n.OutboundAttempts+1,
				"error", sendErr,
			)
		}
	}
	d.observe(entity.ChannelOutbound, outcome, 1)

	if err := d.repo.UpdateOutboundStatus(ctx, n.ID, status, errMsg); err != nil {
		if d.logger != nil {
			d.logger.Error("Failed to record outbound status",
				"notification_id", n.ID,
				"status", status,
				"error", err,
			)
		}
	}

	return sendErr
}

// RetryFailed re-attempts outbound delivery for notifications below maxAttempts.
// It returns how many were delivered.
func (d *Dispatcher) RetryFailed(ctx context.Context, maxAttempts, batchSize int) (int, error) {
	if d.outbound == nil {
		return 0, nil
	}

	pending, err := d.repo.ListOutboundRetryable(ctx, maxAttempts, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable notifications: %w", err)
	}

	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := d.Deliver(ctx, n); err == nil {
			delivered++
		}
	}

	return delivered, nil
}

// Close stops scheduling outbound work and waits for in-flight deliveries
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("notification dispatcher already closed")
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) observe(channel, outcome string, count int) {
	if d.metrics == nil {
		return
	}
	for i := 0; i < count; i++ {
		d.metrics.ObserveNotification(channel, outcome)
	}
}
