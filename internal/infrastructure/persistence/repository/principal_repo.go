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
	"github.com/garyjia/civic-workflow/internal/domain/role"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
)

// PrincipalRepository stores actor profiles and serves as the role source
// and contact directory
type PrincipalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *sql.DB, logger *zap.Logger) *PrincipalRepository {
	return &PrincipalRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or replaces a principal and its role grants
func (r *PrincipalRepository) Upsert(ctx context.Context, p *entity.Principal) error {
	if p.ID == "" {
		return fmt.Errorf("principal id is required")
	}

	run := func(ctx context.Context) error {
		exec := sqlite.ExecutorFrom(ctx, r.db)

		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}

		_, err := exec.ExecContext(ctx, `
			INSERT INTO principals (id, name, lark_open_id, email, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				lark_open_id = excluded.lark_open_id,
				email = excluded.email
		`, p.ID, p.Name, p.LarkOpenID, p.Email, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert principal: %w", err)
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM principal_roles WHERE principal_id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}

		for _, raw := range p.Roles {
			if !role.Role(raw).IsValid() {
				return fmt.Errorf("cannot grant role %q", raw)
			}
			if _, err := exec.ExecContext(ctx,
				`INSERT OR IGNORE INTO principal_roles (principal_id, role) VALUES (?, ?)`,
				p.ID, raw,
			); err != nil {
				return fmt.Errorf("failed to grant role: %w", err)
			}
		}
		return nil
	}

	if sqlite.HasTransaction(ctx) {
		return run(ctx)
	}
	err := sqlite.NewTxManager(r.db, r.logger).WithTransaction(ctx, run)
	if err != nil {
		r.logger.Error("Failed to upsert principal", zap.String("id", p.ID), zap.Error(err))
	}
	return err
}

// GetByID retrieves a principal with its roles
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*entity.Principal, error) {
	exec := sqlite.ExecutorFrom(ctx, r.db)

	var p entity.Principal
	err := exec.QueryRowContext(ctx,
		`SELECT id, name, lark_open_id, email, created_at FROM principals WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.LarkOpenID, &p.Email, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrPrincipalNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get principal", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	roles, err := r.RolesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Roles = roles.Strings()

	return &p, nil
}

// RolesOf implements port.RoleSource. Unknown principals hold no roles.
func (r *PrincipalRepository) RolesOf(ctx context.Context, principalID string) (role.Set, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx,
		`SELECT role FROM principal_roles WHERE principal_id = ?`, principalID)
	if err != nil {
		r.logger.Error("Failed to load roles", zap.String("principal_id", principalID), zap.Error(err))
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		raw = append(raw, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return role.ParseSet(raw...), nil
}

// PrincipalIDByContact maps a Lark open ID back to the principal it belongs to
func (r *PrincipalRepository) PrincipalIDByContact(ctx context.Context, openID string) (string, error) {
	if openID == "" {
		return "", port.ErrPrincipalNotFound
	}

	var id string
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT id FROM principals WHERE lark_open_id = ? ORDER BY id LIMIT 1`, openID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", port.ErrPrincipalNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve contact: %w", err)
	}
	return id, nil
}

// ContactOf implements port.ContactDirectory using the Lark open ID
func (r *PrincipalRepository) ContactOf(ctx context.Context, principalID string) (string, error) {
	var openID string
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT lark_open_id FROM principals WHERE id = ?`, principalID,
	).Scan(&openID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load contact: %w", err)
	}
	return openID, nil
}

var (
	_ port.RoleSource       = (*PrincipalRepository)(nil)
	_ port.ContactDirectory = (*PrincipalRepository)(nil)
)
