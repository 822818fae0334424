package entity

import (
	"time"

	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// Record is the workflow-relevant projection of a stored entity. The
// record store owns the entity; the engine only reads it and swaps its state.
type Record struct {
	Kind       workflow.EntityKind `json:"kind"`
	ID         string              `json:"id"`
	State      workflow.State      `json:"state"`
	Version    int64               `json:"version"`
	OwnerID    string              `json:"owner_id,omitempty"`
	AssigneeID string              `json:"assignee_id,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}
