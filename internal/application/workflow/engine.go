package workflow

import (
	"context"

	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// Engine validates and applies role-gated status transitions
type Engine interface {
	// RequestTransition moves the record to target if an edge exists and the
	// principal may traverse it. On ErrDispatchFailure the returned state is
	// the committed new state.
	RequestTransition(ctx context.Context, kind domainwf.EntityKind, entityID string, principal role.Principal, target domainwf.State) (domainwf.State, error)

	// AvailableTransitions lists the target states the principal may request from the current state
	AvailableTransitions(ctx context.Context, kind domainwf.EntityKind, entityID string, principal role.Principal) ([]domainwf.State, error)

	// CurrentState returns the record's current state and version
	CurrentState(ctx context.Context, kind domainwf.EntityKind, entityID string) (*entity.Record, error)
}

// Notifier receives committed transitions. Emit must only be called after commit.
type Notifier interface {
	// ResolveRecipients returns who must be told about the transition
	ResolveRecipients(evt *event.Event) []string

	// Emit persists a notification per recipient and schedules outbound delivery
	Emit(ctx context.Context, evt *event.Event, recipients []string) error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics records transition outcomes
type Metrics interface {
	ObserveTransition(kind, outcome string)
}

// Transition outcomes reported to Metrics
const (
	OutcomeCommitted       = "committed"
	OutcomeDispatchFailure = "dispatch_failure"
	OutcomeNotFound        = "not_found"
	OutcomeIllegal         = "illegal"
	OutcomeForbidden       = "forbidden"
	OutcomeConflict        = "conflict"
	OutcomeError           = "error"
)
