// Package container provides dependency injection and lifecycle management
// for the civic workflow service.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/dispatcher"
	"github.com/garyjia/civic-workflow/internal/application/history"
	"github.com/garyjia/civic-workflow/internal/application/notification"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/application/workflow"
	"github.com/garyjia/civic-workflow/internal/config"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
	infraLark "github.com/garyjia/civic-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/civic-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/redisstore"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/civic-workflow/internal/infrastructure/storage"
	"github.com/garyjia/civic-workflow/internal/infrastructure/worker"
	"github.com/garyjia/civic-workflow/internal/interfaces/websocket"
	"github.com/garyjia/civic-workflow/pkg/database"
	"github.com/garyjia/civic-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Wrapper        *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.TxManager
}

// RecordStoreBundle holds the selected record backend.
type RecordStoreBundle struct {
	Store  port.RecordStore
	Seeder port.RecordSeeder
	Closer io.Closer // nil when the store shares the SQLite handle
	Health func(ctx context.Context) error
}

// RepositoryBundle groups the SQLite repositories.
type RepositoryBundle struct {
	Notification port.NotificationRepository
	History      port.HistoryRepository
	Principal    *repository.PrincipalRepository
}

const migrationTimeout = time.Minute

// ProvideDatabase opens the SQLite database and applies pending migrations,
// from the override directory when configured and the embedded set otherwise.
func ProvideDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		_, err = migrator.UpDir(ctx, cfg.MigrationsDir)
	} else {
		_, err = migrator.UpEmbedded(ctx)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Wrapper:        db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewTxManager(db.DB, logger),
	}, nil
}

// ProvideRepositories creates the SQLite-backed repositories.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Notification: repository.NewNotificationRepository(sqlDB, logger),
		History:      repository.NewHistoryRepository(sqlDB, logger),
		Principal:    repository.NewPrincipalRepository(sqlDB, logger),
	}, nil
}

// ProvideRecordStore selects the record backend named by records.backend.
func ProvideRecordStore(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, logger *zap.Logger) (*RecordStoreBundle, error) {
	switch cfg.Records.Backend {
	case config.BackendRedis:
		store, err := redisstore.Dial(ctx, redisstore.Config{
			URL:          cfg.Redis.URL,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &RecordStoreBundle{Store: store, Seeder: store, Closer: store, Health: store.Health}, nil

	case config.BackendSQLite, "":
		repo := repository.NewRecordRepository(sqlDB, logger)
		return &RecordStoreBundle{Store: repo, Seeder: repo, Health: sqlDB.PingContext}, nil

	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Records.Backend)
	}
}

// ProvideOutbound returns the Lark messenger, or nil when outbound delivery is disabled.
func ProvideOutbound(cfg config.LarkConfig, contacts port.ContactDirectory, logger *zap.Logger) port.OutboundSender {
	if !cfg.Enabled {
		logger.Info("Outbound delivery disabled; notifications are in-app only")
		return nil
	}

	sdk := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
	}, logger)
	return infraLark.NewMessenger(sdk, contacts, logger)
}

// ProvideLarkEvents returns the inbound transition request listener, or nil
// unless both the Lark channel and its event subscription are enabled.
func ProvideLarkEvents(cfg config.LarkConfig, engine workflow.Engine, principals websocket.PrincipalResolver, logger *zap.Logger) *websocket.LarkAdapter {
	if !cfg.Enabled || !cfg.Events {
		return nil
	}
	return websocket.NewLarkAdapter(websocket.LarkAdapterConfig{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		EventType: cfg.EventType,
	}, engine, principals, logger)
}

// ProvideStorage creates the export file storage.
func ProvideStorage(cfg config.StorageConfig, logger *zap.Logger) port.FileStorage {
	return storage.NewLocalFileStorage(cfg.BaseDir, logger)
}

// ProvideMetrics registers the service collectors on a fresh registry.
func ProvideMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

// ProvideEventBus creates the in-process event bus and subscribes the history recorder.
func ProvideEventBus(historyRepo port.HistoryRepository, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	bus := dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger, "event-bus")))
	if err := history.NewRecorder(historyRepo, utils.NewKVLogger(logger, "history")).Register(bus); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("subscribe history recorder: %w", err)
	}
	return bus, nil
}

// ProvideNotifier creates the notification dispatcher.
func ProvideNotifier(
	cfg config.NotificationConfig,
	repo port.NotificationRepository,
	outbound port.OutboundSender,
	txManager port.TransactionManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *notification.Dispatcher {
	return notification.NewDispatcher(repo, outbound, txManager,
		utils.NewKVLogger(logger, "notification"),
		notification.WithOutboundTimeout(cfg.OutboundTimeout),
		notification.WithConcurrency(cfg.Concurrency),
		notification.WithMetrics(m),
	)
}

// ProvideWorkflowEngine builds the engine over the compiled-in transition tables.
func ProvideWorkflowEngine(
	store port.RecordStore,
	notifier workflow.Notifier,
	bus dispatcher.Dispatcher,
	m *metrics.Metrics,
	logger *zap.Logger,
) (workflow.Engine, *domainwf.Registry, error) {
	registry, err := domainwf.NewRegistry(domainwf.DefaultTables()...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build transition registry: %w", err)
	}

	engine := workflow.NewEngine(registry, role.NewAuthority(), store, notifier,
		workflow.WithDispatcher(bus),
		workflow.WithLogger(utils.NewKVLogger(logger, "workflow")),
		workflow.WithMetrics(m),
	)
	return engine, registry, nil
}

// ProvideWorkers registers the outbound retry worker when outbound delivery is on.
func ProvideWorkers(cfg config.NotificationConfig, notifier *notification.Dispatcher, outboundEnabled bool, logger *zap.Logger) *worker.WorkerManager {
	workers := worker.NewWorkerManager(logger)
	if outboundEnabled {
		workers.Register(worker.NewOutboundRetryWorker(worker.OutboundRetryWorkerConfig{
			PollInterval: cfg.RetryInterval,
			BatchSize:    cfg.RetryBatchSize,
			MaxAttempts:  cfg.MaxOutboundAttempts,
		}, notifier, logger))
	}
	return workers
}
