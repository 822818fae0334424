package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/civic-workflow/internal/application/dispatcher"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
)

const tracerName = "github.com/garyjia/civic-workflow/workflow"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	registry   *domainwf.Registry
	authority  role.Authority
	store      port.RecordStore
	notifier   Notifier
	dispatcher dispatcher.Dispatcher
	logger     Logger
	metrics    Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event bus that observes committed transitions
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets a logger for the engine
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithMetrics sets the outcome recorder
func WithMetrics(m Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = t
	}
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	registry *domainwf.Registry,
	authority role.Authority,
	store port.RecordStore,
	notifier Notifier,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		registry:  registry,
		authority: authority,
		store:     store,
		notifier:  notifier,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RequestTransition validates the edge, then the role, then swaps the state
// and emits notifications. It makes exactly one store write attempt.
func (e *engineImpl) RequestTransition(
	ctx context.Context,
	kind domainwf.EntityKind,
	entityID string,
	principal role.Principal,
	target domainwf.State,
) (newState domainwf.State, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.request_transition",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.kind", kind.String()),
			attribute.String("workflow.entity_id", entityID),
			attribute.String("workflow.to_state", target.String()),
			attribute.String("workflow.actor_id", principal.ID),
		),
	)
	defer func() {
		e.finish(span, kind, err)
		span.End()
	}()

	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %s", domainwf.ErrUnknownKind, kind)
	}

	record, err := e.readRecord(ctx, kind, entityID)
	if err != nil {
		return "", err
	}
	from := record.State
	span.SetAttributes(attribute.String("workflow.from_state", from.String()))

	// Edge existence is checked before the actor's identity
	allowed, ok := e.registry.AllowedRoles(kind, from, target)
	if !ok {
		return "", fmt.Errorf("%w: %s %s -> %s", domainwf.ErrIllegalTransition, kind, from, target)
	}

	if !e.authority.Permits(principal, allowed, role.Subject{AssigneeID: record.AssigneeID}) {
		return "", fmt.Errorf("%w: %s may not move %s %s from %s to %s",
			domainwf.ErrForbidden, principal.ID, kind, entityID, from, target)
	}

	// No write may start once the caller has given up
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("transition aborted before commit: %w", err)
	}

	swapped, err := e.store.CompareAndSwapState(ctx, kind, entityID, record.Version, target)
	if err != nil {
		if errors.Is(err, port.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s %s", domainwf.ErrNotFound, kind, entityID)
		}
		return "", fmt.Errorf("failed to update record state: %w", err)
	}
	if !swapped {
		return "", fmt.Errorf("%w: %s %s changed since version %d", domainwf.ErrConflict, kind, entityID, record.Version)
	}

	if e.logger != nil {
		e.logger.Info("Transition committed",
			"kind", kind,
			"entity_id", entityID,
			"actor_id", principal.ID,
			"from", from,
			"to", target,
		)
	}

	evt := event.NewTransitionEvent(event.Transition{
		Kind:       kind,
		EntityID:   entityID,
		ActorID:    principal.ID,
		OldState:   from,
		NewState:   target,
		OwnerID:    record.OwnerID,
		AssigneeID: record.AssigneeID,
		At:         e.now(),
	})

	dispatchErr := e.emit(ctx, evt)

	// Observers see the transition even if the caller's context ends now
	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
	}

	if dispatchErr != nil {
		return target, fmt.Errorf("%w: %w", domainwf.ErrDispatchFailure, dispatchErr)
	}
	return target, nil
}

// emit resolves recipients and hands the committed transition to the notifier
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) error {
	if e.notifier == nil {
		return nil
	}

	recipients := e.notifier.ResolveRecipients(evt)
	if err := e.notifier.Emit(ctx, evt, recipients); err != nil {
		if e.logger != nil {
			e.logger.Error("Notification dispatch failed after commit",
				"kind", evt.Kind,
				"entity_id", evt.EntityID,
				"event_id", evt.ID,
				"recipient_count", len(recipients),
				"error", err,
			)
		}
		return err
	}
	return nil
}

// AvailableTransitions lists the target states the principal may request from the current state
func (e *engineImpl) AvailableTransitions(
	ctx context.Context,
	kind domainwf.EntityKind,
	entityID string,
	principal role.Principal,
) ([]domainwf.State, error) {
	record, err := e.CurrentState(ctx, kind, entityID)
	if err != nil {
		return nil, err
	}

	table, ok := e.registry.Table(kind)
	if !ok {
		return []domainwf.State{}, nil
	}

	subject := role.Subject{AssigneeID: record.AssigneeID}
	targets := make([]domainwf.State, 0)
	for _, edge := range table.OutgoingEdges(record.State) {
		if e.authority.Permits(principal, edge.AllowedRoles, subject) {
			targets = append(targets, edge.To)
		}
	}

	return targets, nil
}

// CurrentState returns the record's current state and version
func (e *engineImpl) CurrentState(ctx context.Context, kind domainwf.EntityKind, entityID string) (*entity.Record, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrUnknownKind, kind)
	}
	return e.readRecord(ctx, kind, entityID)
}

func (e *engineImpl) readRecord(ctx context.Context, kind domainwf.EntityKind, entityID string) (*entity.Record, error) {
	record, err := e.store.ReadState(ctx, kind, entityID)
	if err != nil {
		if errors.Is(err, port.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", domainwf.ErrNotFound, kind, entityID)
		}
		return nil, fmt.Errorf("failed to read record state: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s %s", domainwf.ErrNotFound, kind, entityID)
	}
	return record, nil
}

// finish records the outcome on the span and in metrics
func (e *engineImpl) finish(span trace.Span, kind domainwf.EntityKind, err error) {
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("workflow.outcome", outcome))

	if err != nil && outcome != OutcomeDispatchFailure {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if e.metrics != nil {
		e.metrics.ObserveTransition(kind.String(), outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, domainwf.ErrDispatchFailure):
		return OutcomeDispatchFailure
	case errors.Is(err, domainwf.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domainwf.ErrIllegalTransition), errors.Is(err, domainwf.ErrUnknownKind):
		return OutcomeIllegal
	case errors.Is(err, domainwf.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, domainwf.ErrConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}
