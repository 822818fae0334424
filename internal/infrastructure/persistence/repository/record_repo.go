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
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
)

// RecordRepository implements port.RecordStore on SQLite. The version column
// is the compare-and-swap token.
type RecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *sql.DB, logger *zap.Logger) *RecordRepository {
	return &RecordRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new record at version 1
func (r *RecordRepository) Create(ctx context.Context, record *entity.Record) error {
	if !record.Kind.IsValid() {
		return fmt.Errorf("failed to create record: %w", workflow.ErrUnknownKind)
	}
	if !record.Kind.HasState(record.State) {
		return fmt.Errorf("failed to create record: %w: %s is not a %s state",
			workflow.ErrInvalidState, record.State, record.Kind)
	}

	query := `
		INSERT INTO workflow_records (
			kind, entity_id, state, version, owner_id, assignee_id, created_at, updated_at
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.Kind,
		record.ID,
		record.State,
		record.OwnerID,
		record.AssigneeID,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create record",
			zap.String("kind", record.Kind.String()),
			zap.String("entity_id", record.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create record: %w", err)
	}

	record.Version = 1
	record.UpdatedAt = now
	return nil
}

// ReadState returns the current record or port.ErrRecordNotFound
func (r *RecordRepository) ReadState(ctx context.Context, kind workflow.EntityKind, id string) (*entity.Record, error) {
	query := `
		SELECT kind, entity_id, state, version, owner_id, assignee_id, updated_at
		FROM workflow_records
		WHERE kind = ? AND entity_id = ?
	`

	var rec entity.Record
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, kind, id).Scan(
		&rec.Kind,
		&rec.ID,
		&rec.State,
		&rec.Version,
		&rec.OwnerID,
		&rec.AssigneeID,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRecordNotFound
	}
	if err != nil {
		r.logger.Error("Failed to read record",
			zap.String("kind", kind.String()),
			zap.String("entity_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	return &rec, nil
}

// CompareAndSwapState implements port.RecordStore
func (r *RecordRepository) CompareAndSwapState(ctx context.Context, kind workflow.EntityKind, id string, version int64, newState workflow.State) (bool, error) {
	query := `
		UPDATE workflow_records
		SET state = ?, version = version + 1, updated_at = ?
		WHERE kind = ? AND entity_id = ? AND version = ?
	`

	exec := sqlite.ExecutorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, newState, time.Now().UTC(), kind, id, version)
	if err != nil {
		r.logger.Error("Failed to swap record state",
			zap.String("kind", kind.String()),
			zap.String("entity_id", id),
			zap.Int64("version", version),
			zap.Error(err))
		return false, fmt.Errorf("failed to swap record state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Zero rows: either the version moved on or the record vanished
	var exists int
	err = exec.QueryRowContext(ctx,
		`SELECT 1 FROM workflow_records WHERE kind = ? AND entity_id = ?`, kind, id,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, port.ErrRecordNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}

	return false, nil
}

// ListByKind returns records of one kind ordered by entity ID
func (r *RecordRepository) ListByKind(ctx context.Context, kind workflow.EntityKind, limit, offset int) ([]*entity.Record, error) {
	query := `
		SELECT kind, entity_id, state, version, owner_id, assignee_id, updated_at
		FROM workflow_records
		WHERE kind = ?
		ORDER BY entity_id
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, kind, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list records", zap.String("kind", kind.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*entity.Record, 0)
	for rows.Next() {
		var rec entity.Record
		if err := rows.Scan(
			&rec.Kind,
			&rec.ID,
			&rec.State,
			&rec.Version,
			&rec.OwnerID,
			&rec.AssigneeID,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

var (
	_ port.RecordStore  = (*RecordRepository)(nil)
	_ port.RecordSeeder = (*RecordRepository)(nil)
)
