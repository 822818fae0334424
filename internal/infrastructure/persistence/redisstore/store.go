// Package redisstore keeps workflow records in Redis hashes. It is the
// record store used when records live outside the SQLite database.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

const defaultPrefix = "civic:record"

// ErrRecordExists is returned by Create when the key is already taken
var ErrRecordExists = errors.New("record already exists")

// KEYS[1] record key. ARGV: expected version, new state, updated_at.
// Returns -1 when missing, 0 on version mismatch, 1 on swap.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if tonumber(v) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'version', tonumber(v) + 1, 'updated_at', ARGV[3])
return 1
`)

// KEYS[1] record key. ARGV: state, owner_id, assignee_id, updated_at.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'version', 1, 'owner_id', ARGV[2], 'assignee_id', ARGV[3], 'updated_at', ARGV[4])
return 1
`)

// Config configures the Redis connection
type Config struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements port.RecordStore on Redis
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithKeyPrefix overrides the key namespace
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewStore wraps an existing client
func NewStore(client redis.UniversalClient, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial parses the URL, verifies the connection and returns a Store
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Redis record store connected", zap.String("addr", opts.Addr))
	return NewStore(client, logger, WithKeyPrefix(cfg.KeyPrefix)), nil
}

// Key returns the hash key of a record
func (s *Store) Key(kind workflow.EntityKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, id)
}

// Create stores a new record at version 1
func (s *Store) Create(ctx context.Context, record *entity.Record) error {
	if !record.Kind.IsValid() {
		return fmt.Errorf("failed to create record: %w", workflow.ErrUnknownKind)
	}
	if !record.Kind.HasState(record.State) {
		return fmt.Errorf("failed to create record: %w: %s is not a %s state",
			workflow.ErrInvalidState, record.State, record.Kind)
	}

	now := time.Now().UTC()
	created, err := createScript.Run(ctx, s.client,
		[]string{s.Key(record.Kind, record.ID)},
		string(record.State), record.OwnerID, record.AssigneeID, now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		s.logger.Error("Failed to create record",
			zap.String("kind", record.Kind.String()),
			zap.String("entity_id", record.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create record: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s %s", ErrRecordExists, record.Kind, record.ID)
	}

	record.Version = 1
	record.UpdatedAt = now
	return nil
}

// ReadState implements port.RecordStore
func (s *Store) ReadState(ctx context.Context, kind workflow.EntityKind, id string) (*entity.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(kind, id)).Result()
	if err != nil {
		s.logger.Error("Failed to read record",
			zap.String("kind", kind.String()),
			zap.String("entity_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if len(fields) == 0 {
		return nil, port.ErrRecordNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt version for %s: %w", s.Key(kind, id), err)
	}

	rec := &entity.Record{
		Kind:       kind,
		ID:         id,
		State:      workflow.State(fields["state"]),
		Version:    version,
		OwnerID:    fields["owner_id"],
		AssigneeID: fields["assignee_id"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}

	return rec, nil
}

// CompareAndSwapState implements port.RecordStore
func (s *Store) CompareAndSwapState(ctx context.Context, kind workflow.EntityKind, id string, version int64, newState workflow.State) (bool, error) {
	res, err := casScript.Run(ctx, s.client,
		[]string{s.Key(kind, id)},
		version, string(newState), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		s.logger.Error("Failed to swap record state",
			zap.String("kind", kind.String()),
			zap.String("entity_id", id),
			zap.Int64("version", version),
			zap.Error(err))
		return false, fmt.Errorf("failed to swap record state: %w", err)
	}

	switch res {
	case 1:
		return true, nil
	case -1:
		return false, port.ErrRecordNotFound
	default:
		return false, nil
	}
}

// Health pings the server
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

var (
	_ port.RecordStore  = (*Store)(nil)
	_ port.RecordSeeder = (*Store)(nil)
)
