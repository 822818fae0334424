package workflow

// State is a status value. The same value may appear in several kinds'
// enumerations; membership is checked per kind.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
	StateApproved   State = "approved"
	StateExpired    State = "expired"
	StateFailed     State = "failed"
	StateRefunded   State = "refunded"
	StateTodo       State = "todo"
	StateInReview   State = "in_review"
	StateBlocked    State = "blocked"
	StatePlanned    State = "planned"
	StateOnHold     State = "on_hold"
	StateCancelled  State = "cancelled"
	StatePaid       State = "paid"
)

var validStates = map[State]bool{
	StatePending:    true,
	StateInProgress: true,
	StateCompleted:  true,
	StateRejected:   true,
	StateApproved:   true,
	StateExpired:    true,
	StateFailed:     true,
	StateRefunded:   true,
	StateTodo:       true,
	StateInReview:   true,
	StateBlocked:    true,
	StatePlanned:    true,
	StateOnHold:     true,
	StateCancelled:  true,
	StatePaid:       true,
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to at least one kind's enumeration
func (s State) IsValid() bool {
	return validStates[s]
}
