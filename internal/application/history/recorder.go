package history

import (
	"context"
	"fmt"

	"github.com/garyjia/civic-workflow/internal/application/dispatcher"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/event"
)

// HandlerName is the event bus subscription name of the recorder
const HandlerName = "transition-history"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Recorder appends every committed transition to the audit trail
type Recorder struct {
	repo   port.HistoryRepository
	logger Logger
}

// NewRecorder creates a history recorder
func NewRecorder(repo port.HistoryRepository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Register subscribes the recorder to every event on the bus
func (r *Recorder) Register(bus dispatcher.Dispatcher) error {
	return bus.SubscribeAll(HandlerName, r.Handle)
}

// Handle stores one transition event
func (r *Recorder) Handle(ctx context.Context, evt *event.Event) error {
	h := &entity.TransitionHistory{
		EventID:       evt.ID,
		Kind:          evt.Kind.String(),
		EntityID:      evt.EntityID,
		ActorID:       evt.ActorID,
		OldState:      evt.OldState.String(),
		NewState:      evt.NewState.String(),
		EventType:     evt.Type.String(),
		CorrelationID: evt.CorrelationID,
		Timestamp:     evt.Timestamp,
	}

	if err := r.repo.Create(ctx, h); err != nil {
		return fmt.Errorf("failed to record transition history: %w", err)
	}

	if r.logger != nil {
		r.logger.Info("Transition history recorded",
			"event_id", evt.ID,
			"kind", evt.Kind,
			"entity_id", evt.EntityID,
		)
	}
	return nil
}
