package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

var (
	// ErrRecordNotFound is returned by a RecordStore when the entity does not exist
	ErrRecordNotFound = errors.New("record not found in store")

	// ErrNotificationNotFound is returned when a notification does not exist for the recipient
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrPrincipalNotFound is returned when a principal profile does not exist
	ErrPrincipalNotFound = errors.New("principal not found")
)

// RecordStore reads and atomically updates entity workflow state. The
// entities themselves are owned by the store.
type RecordStore interface {
	// ReadState returns the current state and version, or ErrRecordNotFound
	ReadState(ctx context.Context, kind workflow.EntityKind, id string) (*entity.Record, error)

	// CompareAndSwapState sets the new state only if the stored version still
	// equals version. It returns false without error when the swap lost a race.
	CompareAndSwapState(ctx context.Context, kind workflow.EntityKind, id string, version int64, newState workflow.State) (bool, error)
}

// RecordSeeder creates records. Used by tooling and tests; the engine never creates entities.
type RecordSeeder interface {
	Create(ctx context.Context, record *entity.Record) error
}

// NotificationRepository persists in-app notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	GetByID(ctx context.Context, id string) (*entity.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	UpdateOutboundStatus(ctx context.Context, id, status, errMsg string) error
	ListOutboundRetryable(ctx context.Context, maxAttempts, limit int) ([]*entity.Notification, error)
}

// HistoryFilter narrows a history listing. Zero values mean no constraint.
type HistoryFilter struct {
	Kind     workflow.EntityKind
	EntityID string
	ActorID  string
	From     time.Time
	To       time.Time
	Limit    int
}

// HistoryRepository persists the transition audit trail
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.TransitionHistory) error
	List(ctx context.Context, filter HistoryFilter) ([]*entity.TransitionHistory, error)
}

// RoleSource resolves the roles held by a principal
type RoleSource interface {
	RolesOf(ctx context.Context, principalID string) (role.Set, error)
}

// ContactDirectory resolves how to reach a principal over the outbound channel
type ContactDirectory interface {
	// ContactOf returns the outbound address, or an empty string if none is known
	ContactOf(ctx context.Context, principalID string) (string, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
