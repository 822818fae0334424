package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/dispatcher"
	"github.com/garyjia/civic-workflow/internal/application/history"
	"github.com/garyjia/civic-workflow/internal/application/notification"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/application/workflow"
	"github.com/garyjia/civic-workflow/internal/config"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
	"github.com/garyjia/civic-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/civic-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/civic-workflow/internal/infrastructure/worker"
	"github.com/garyjia/civic-workflow/internal/interfaces/websocket"
	"github.com/garyjia/civic-workflow/pkg/database"
	"github.com/garyjia/civic-workflow/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	sqlDB        *sql.DB
	db           *sqlite.TxManager
	records      *RecordStoreBundle
	repositories *RepositoryBundle

	// Infrastructure - External
	outbound port.OutboundSender
	storage  port.FileStorage
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	// Application
	bus      dispatcher.Dispatcher
	notifier *notification.Dispatcher
	engine   workflow.Engine
	tables   *domainwf.Registry
	inbox    *notification.Inbox
	exporter *history.Exporter

	// Workers
	workers    *worker.WorkerManager
	larkEvents *websocket.LarkAdapter

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing:
// 1. Database, repositories and record store
// 2. Outbound channel, storage and metrics
// 3. Event bus, notification dispatcher and workflow engine
// 4. Workers
// 5. Inbound Lark events (optional)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database, repositories and record store
	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("records_backend", c.config.Records.Backend))

	// Step 2: Initialize external channels
	c.initExternal()
	c.logger.Info("External channels initialized", zap.Bool("outbound", c.outbound != nil))

	// Step 3: Initialize application layer
	if err := c.initApplication(); err != nil {
		c.closeData()
		return fmt.Errorf("failed to initialize workflow: %w", err)
	}
	c.logger.Info("Workflow engine initialized", zap.Int("entity_kinds", len(c.tables.Kinds())))

	// Step 4: Initialize and start workers
	c.workers = ProvideWorkers(c.config.Notification, c.notifier, c.outbound != nil, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	// Step 5: Subscribe to inbound Lark transition requests
	c.larkEvents = ProvideLarkEvents(c.config.Lark, c.engine, c.repositories.Principal, c.logger)
	if c.larkEvents != nil {
		go func(ctx context.Context) {
			if err := c.larkEvents.Start(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("Lark event listener stopped", zap.Error(err))
			}
		}(c.ctx)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.larkEvents != nil {
		_ = c.larkEvents.Stop()
	}

	// Step 1: Stop workers (reverse of step 4)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Step 2: Drain in-flight deliveries and bus handlers (reverse of step 3)
	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			c.logger.Error("Failed to close notification dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if c.bus != nil {
		if err := c.bus.Close(); err != nil {
			c.logger.Error("Failed to close event bus", zap.Error(err))
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	// Step 3: Close data stores (reverse of step 1)
	errs = append(errs, c.closeData()...)

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) closeData() []error {
	var errs []error
	if c.records != nil && c.records.Closer != nil {
		if err := c.records.Closer.Close(); err != nil {
			c.logger.Error("Failed to close record store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
		c.records.Closer = nil
	}
	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.database = nil
	}
	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	check := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.database != nil {
		check("database", c.database.Health(ctx))
	} else {
		check("database", fmt.Errorf("not initialized"))
	}

	if c.records != nil && c.records.Health != nil {
		check("records", c.records.Health(ctx))
	} else {
		check("records", fmt.Errorf("not initialized"))
	}

	if c.engine == nil {
		check("workflow", fmt.Errorf("not initialized"))
	} else {
		check("workflow", nil)
	}

	if c.workers != nil {
		for _, ws := range c.workers.Statuses() {
			name := "worker:" + ws.Name
			if !ws.Running {
				check(name, fmt.Errorf("not running"))
				continue
			}
			// A failed run degrades the worker but the service keeps serving
			status.Components[name] = ComponentHealth{Healthy: true, Message: ws.LastError}
		}
	}

	return status
}

func (c *Container) initDatabase(ctx context.Context) error {
	dbBundle, err := ProvideDatabase(c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = dbBundle.Wrapper
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		c.closeData()
		return err
	}
	c.repositories = repos

	records, err := ProvideRecordStore(ctx, c.config, c.sqlDB, c.logger)
	if err != nil {
		c.closeData()
		return err
	}
	c.records = records

	return nil
}

func (c *Container) initExternal() {
	c.outbound = ProvideOutbound(c.config.Lark, c.repositories.Principal, c.logger)
	c.storage = ProvideStorage(c.config.Storage, c.logger)
	c.metrics, c.registry = ProvideMetrics()
}

func (c *Container) initApplication() error {
	bus, err := ProvideEventBus(c.repositories.History, c.logger)
	if err != nil {
		return err
	}
	c.bus = bus
	metrics.RegisterEventBus(c.registry, func() (uint64, uint64, uint64) {
		st := bus.Stats()
		return st.Delivered, st.Failed, st.Dropped
	})
	c.notifier = ProvideNotifier(c.config.Notification, c.repositories.Notification,
		c.outbound, c.db, c.metrics, c.logger)

	engine, tables, err := ProvideWorkflowEngine(c.records.Store, c.notifier, c.bus, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.engine = engine
	c.tables = tables

	c.inbox = notification.NewInbox(c.repositories.Notification)
	c.exporter = history.NewExporter(c.repositories.History, c.storage, utils.NewKVLogger(c.logger, "export"))
	return nil
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Tables returns the transition table registry.
func (c *Container) Tables() *domainwf.Registry {
	return c.tables
}

// Inbox returns the in-app notification inbox.
func (c *Container) Inbox() *notification.Inbox {
	return c.inbox
}

// Notifier returns the notification dispatcher.
func (c *Container) Notifier() *notification.Dispatcher {
	return c.notifier
}

// Exporter returns the history exporter.
func (c *Container) Exporter() *history.Exporter {
	return c.exporter
}

// Roles returns the role source used at the transport boundary.
func (c *Container) Roles() port.RoleSource {
	return c.repositories.Principal
}

// Repositories returns the SQLite repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Seeder returns the record creator of the active backend.
func (c *Container) Seeder() port.RecordSeeder {
	return c.records.Seeder
}

// EventBus returns the in-process event bus.
func (c *Container) EventBus() dispatcher.Dispatcher {
	return c.bus
}

// MetricsRegistry returns the Prometheus registry backing /metrics.
func (c *Container) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
