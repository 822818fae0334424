package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Inbox serves a recipient's persisted notifications
type Inbox struct {
	repo port.NotificationRepository
	now  func() time.Time
}

// NewInbox creates an inbox service
func NewInbox(repo port.NotificationRepository) *Inbox {
	return &Inbox{repo: repo, now: time.Now}
}

// List returns the recipient's notifications, newest first
func (i *Inbox) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("recipient ID is required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return i.repo.ListByRecipient(ctx, recipientID, unreadOnly, limit, offset)
}

// UnreadCount returns how many notifications the recipient has not read
func (i *Inbox) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, fmt.Errorf("recipient ID is required")
	}
	return i.repo.CountUnread(ctx, recipientID)
}

// MarkRead acknowledges a notification. Only its recipient may do so; any
// other caller gets port.ErrNotificationNotFound.
func (i *Inbox) MarkRead(ctx context.Context, id, recipientID string) error {
	if id == "" || recipientID == "" {
		return port.ErrNotificationNotFound
	}
	return i.repo.MarkRead(ctx, id, recipientID, i.now())
}
