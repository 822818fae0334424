package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// Event describes one committed status transition
type Event struct {
	ID            string              `json:"id"`
	Type          Type                `json:"type"`
	Kind          workflow.EntityKind `json:"kind"`
	EntityID      string              `json:"entity_id"`
	ActorID       string              `json:"actor_id"`
	OldState      workflow.State      `json:"old_state"`
	NewState      workflow.State      `json:"new_state"`
	OwnerID       string              `json:"owner_id,omitempty"`
	AssigneeID    string              `json:"assignee_id,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	CorrelationID string              `json:"correlation_id"`
}

// Transition carries the facts of a committed transition
type Transition struct {
	Kind       workflow.EntityKind
	EntityID   string
	ActorID    string
	OldState   workflow.State
	NewState   workflow.State
	OwnerID    string
	AssigneeID string
	At         time.Time
}

// NewTransitionEvent creates an event for a committed transition
func NewTransitionEvent(t Transition) *Event {
	return NewTransitionEventWithCorrelation(t, uuid.NewString())
}

// NewTransitionEventWithCorrelation creates an event linked to a correlation chain
func NewTransitionEventWithCorrelation(t Transition, correlationID string) *Event {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          TypeFor(t.NewState),
		Kind:          t.Kind,
		EntityID:      t.EntityID,
		ActorID:       t.ActorID,
		OldState:      t.OldState,
		NewState:      t.NewState,
		OwnerID:       t.OwnerID,
		AssigneeID:    t.AssigneeID,
		Timestamp:     at,
		CorrelationID: correlationID,
	}
}
