package entity

import "time"

// TransitionHistory is the audit trail entry of one committed transition
type TransitionHistory struct {
	ID            int64     `json:"id"`
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	EntityID      string    `json:"entity_id"`
	ActorID       string    `json:"actor_id"`
	OldState      string    `json:"old_state"`
	NewState      string    `json:"new_state"`
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Principal is a stored actor profile used to resolve roles and contacts
type Principal struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Roles      []string  `json:"roles"`
	LarkOpenID string    `json:"lark_open_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
