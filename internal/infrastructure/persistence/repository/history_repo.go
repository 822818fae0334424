package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
)

const defaultHistoryLimit = 1000

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history entry. Replaying the same event is ignored.
func (r *HistoryRepository) Create(ctx context.Context, h *entity.TransitionHistory) error {
	query := `
		INSERT INTO transition_history (
			event_id, kind, entity_id, actor_id, old_state, new_state,
			event_type, correlation_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		h.EventID,
		h.Kind,
		h.EntityID,
		h.ActorID,
		h.OldState,
		h.NewState,
		h.EventType,
		h.CorrelationID,
		h.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create history record",
			zap.String("event_id", h.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.Debug("History entry already recorded", zap.String("event_id", h.EventID))
		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	h.ID = id
	return nil
}

// List returns history entries matching the filter in chronological order
func (r *HistoryRepository) List(ctx context.Context, filter port.HistoryFilter) ([]*entity.TransitionHistory, error) {
	var conds []string
	var args []interface{}

	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, filter.To.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT id, event_id, kind, entity_id, actor_id, old_state, new_state,
			event_type, correlation_id, timestamp
		FROM transition_history`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp, id LIMIT ?"
	args = append(args, limit)

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list history", zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*entity.TransitionHistory, 0)
	for rows.Next() {
		var h entity.TransitionHistory
		if err := rows.Scan(
			&h.ID,
			&h.EventID,
			&h.Kind,
			&h.EntityID,
			&h.ActorID,
			&h.OldState,
			&h.NewState,
			&h.EventType,
			&h.CorrelationID,
			&h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, &h)
	}

	return entries, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
