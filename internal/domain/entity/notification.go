package entity

import "time"

// Notification is the persisted in-app record of a transition notice. The
// outbound fields track the best-effort external delivery of the same notice.
type Notification struct {
	ID               string     `json:"id"`
	RecipientID      string     `json:"recipient_id"`
	Kind             string     `json:"kind"`
	EntityID         string     `json:"entity_id"`
	EventType        string     `json:"event_type"`
	OldState         string     `json:"old_state"`
	NewState         string     `json:"new_state"`
	Message          string     `json:"message"`
	OutboundStatus   string     `json:"outbound_status"`
	OutboundAttempts int        `json:"outbound_attempts"`
	OutboundError    string     `json:"outbound_error,omitempty"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsRead returns true once the recipient has acknowledged the notice
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
