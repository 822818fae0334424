package database

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrChecksumMismatch is returned when an applied migration file was edited afterwards
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// migrationFile matches "003_notifications.sql"
var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migration is one versioned schema script
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Migrator applies versioned schema scripts exactly once, in order
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a migrator bound to db
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// UpEmbedded applies the migrations compiled into the binary
func (m *Migrator) UpEmbedded(ctx context.Context) (int, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	return m.Up(ctx, sub)
}

// UpDir applies migrations from a directory on disk
func (m *Migrator) UpDir(ctx context.Context, dir string) (int, error) {
	m.logger.Info("Using migrations directory", zap.String("dir", dir))
	return m.Up(ctx, os.DirFS(dir))
}

// Up applies every pending migration in fsys and returns how many ran.
// A previously applied script whose content changed aborts the run.
func (m *Migrator) Up(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	available, err := Load(fsys)
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range available {
		if sum, ok := applied[mig.Version]; ok {
			if sum != "" && sum != mig.Checksum {
				return count, fmt.Errorf("%w: %03d_%s", ErrChecksumMismatch, mig.Version, mig.Name)
			}
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info("Migration applied", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		count++
	}

	m.logger.Info("Schema up to date", zap.Int("applied", count), zap.Int("available", len(available)))
	return count, nil
}

// Load reads and orders the migration scripts in fsys. Files that are not
// .sql are ignored; a malformed .sql name is an error.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]Migration, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		match := migrationFile.FindStringSubmatch(e.Name())
		if match == nil {
			return nil, fmt.Errorf("invalid migration filename %q", e.Name())
		}
		version, _ := strconv.Atoi(match[1])
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev.Name, match[2])
		}

		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		byVersion[version] = Migration{
			Version:  version,
			Name:     match[2],
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// applied maps version to recorded checksum
func (m *Migrator) applied(ctx context.Context) (map[int]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			version int
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		out[version] = sum
	}
	return out, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		mig.Version, mig.Name, mig.Checksum,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Versions lists versions recorded in schema_migrations, ascending
func (m *Migrator) Versions(ctx context.Context) ([]int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(applied))
	for v := range applied {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}
