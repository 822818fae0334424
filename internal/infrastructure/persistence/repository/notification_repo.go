package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
)

const notificationColumns = `
	id, recipient_id, kind, entity_id, event_type, old_state, new_state,
	message, outbound_status, outbound_attempts, outbound_error,
	read_at, created_at, updated_at
`

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a notification
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.OutboundStatus == "" {
		n.OutboundStatus = entity.NotificationStatusPending
	}

	var readAt sql.NullTime
	if n.ReadAt != nil {
		readAt = sql.NullTime{Time: n.ReadAt.UTC(), Valid: true}
	}

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		n.Kind,
		n.EntityID,
		n.EventType,
		n.OldState,
		n.NewState,
		n.Message,
		n.OutboundStatus,
		n.OutboundAttempts,
		n.OutboundError,
		readAt,
		n.CreatedAt.UTC(),
		n.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("recipient_id", n.RecipientID),
			zap.String("entity_id", n.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	n, err := scanNotification(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotificationNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get notification", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// ListByRecipient returns a recipient's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, recipientID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list notifications",
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// CountUnread returns how many notifications the recipient has not read
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read_at IS NULL`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at once. Marking an already read notification is a no-op.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	exec := sqlite.ExecutorFrom(ctx, r.db)

	var readAt sql.NullTime
	err := exec.QueryRowContext(ctx,
		`SELECT read_at FROM notifications WHERE id = ? AND recipient_id = ?`,
		id, recipientID,
	).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if readAt.Valid {
		return nil
	}

	_, err = exec.ExecContext(ctx,
		`UPDATE notifications SET read_at = ?, updated_at = ? WHERE id = ? AND read_at IS NULL`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	return nil
}

// UpdateOutboundStatus records the outcome of one outbound attempt
func (r *NotificationRepository) UpdateOutboundStatus(ctx context.Context, id, status, errMsg string) error {
	query := `
		UPDATE notifications
		SET outbound_status = ?, outbound_error = ?,
			outbound_attempts = outbound_attempts + 1, updated_at = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update outbound status",
			zap.String("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update outbound status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return port.ErrNotificationNotFound
	}

	return nil
}

// ListOutboundRetryable returns failed deliveries still under maxAttempts, oldest first
func (r *NotificationRepository) ListOutboundRetryable(ctx context.Context, maxAttempts, limit int) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE outbound_status = ? AND outbound_attempts < ?
		ORDER BY created_at, id
		LIMIT ?`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query,
		entity.NotificationStatusFailed, maxAttempts, limit)
	if err != nil {
		r.logger.Error("Failed to list retryable notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*entity.Notification, error) {
	var n entity.Notification
	var readAt sql.NullTime

	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Kind,
		&n.EntityID,
		&n.EventType,
		&n.OldState,
		&n.NewState,
		&n.Message,
		&n.OutboundStatus,
		&n.OutboundAttempts,
		&n.OutboundError,
		&readAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return &n, nil
}

func scanNotifications(rows *sql.Rows) ([]*entity.Notification, error) {
	notifications := make([]*entity.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

var _ port.NotificationRepository = (*NotificationRepository)(nil)
