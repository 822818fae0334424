package event

import "github.com/garyjia/civic-workflow/internal/domain/workflow"

// Type tags a committed transition by its outcome. It drives message
// wording so one dispatcher can serve every entity kind.
type Type string

const (
	TypeStatusChanged Type = "record.status_changed"
	TypeApproved      Type = "record.approved"
	TypeRejected      Type = "record.rejected"
	TypeCompleted     Type = "record.completed"
	TypeFailed        Type = "record.failed"
	TypeCancelled     Type = "record.cancelled"
	TypeExpired       Type = "record.expired"
	TypeRefunded      Type = "record.refunded"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeStatusChanged,
		TypeApproved,
		TypeRejected,
		TypeCompleted,
		TypeFailed,
		TypeCancelled,
		TypeExpired,
		TypeRefunded:
		return true
	default:
		return false
	}
}

// TypeFor derives the event type from the state a record moved into
func TypeFor(newState workflow.State) Type {
	switch newState {
	case workflow.StateApproved:
		return TypeApproved
	case workflow.StateRejected:
		return TypeRejected
	case workflow.StateCompleted, workflow.StatePaid:
		return TypeCompleted
	case workflow.StateFailed:
		return TypeFailed
	case workflow.StateCancelled:
		return TypeCancelled
	case workflow.StateExpired:
		return TypeExpired
	case workflow.StateRefunded:
		return TypeRefunded
	default:
		return TypeStatusChanged
	}
}
