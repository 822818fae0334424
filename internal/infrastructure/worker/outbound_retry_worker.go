package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OutboundRetrier re-attempts failed outbound notification deliveries
type OutboundRetrier interface {
	RetryFailed(ctx context.Context, maxAttempts, batchSize int) (int, error)
}

// OutboundRetryWorkerConfig holds configuration for the retry worker
type OutboundRetryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultOutboundRetryWorkerConfig returns default configuration
func DefaultOutboundRetryWorkerConfig() OutboundRetryWorkerConfig {
	return OutboundRetryWorkerConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    50,
		MaxAttempts:  5,
	}
}

// OutboundRetryWorker periodically retries outbound deliveries that failed
// after their transition committed
type OutboundRetryWorker struct {
	config  OutboundRetryWorkerConfig
	retrier OutboundRetrier
	logger  *zap.Logger

	mu             sync.RWMutex
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	deliveredCount int
	lastError      error
}

// NewOutboundRetryWorker creates a new retry worker
func NewOutboundRetryWorker(config OutboundRetryWorkerConfig, retrier OutboundRetrier, logger *zap.Logger) *OutboundRetryWorker {
	defaults := DefaultOutboundRetryWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &OutboundRetryWorker{
		config:  config,
		retrier: retrier,
		logger:  logger,
	}
}

// Start begins the polling loop
func (w *OutboundRetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("outbound retry worker already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("OutboundRetryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("max_attempts", w.config.MaxAttempts))

	go w.pollLoop(ctx, w.done)

	return nil
}

// Stop cancels the loop and waits for the current batch to finish
func (w *OutboundRetryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("OutboundRetryWorker stopped", zap.Int("delivered_count", w.DeliveredCount()))
	return nil
}

// Name returns the worker name for identification
func (w *OutboundRetryWorker) Name() string {
	return "OutboundRetryWorker"
}

// DeliveredCount returns how many retries have succeeded since start
func (w *OutboundRetryWorker) DeliveredCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.deliveredCount
}

// LastError returns the most recent batch error, if any
func (w *OutboundRetryWorker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *OutboundRetryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			w.runBatch(ctx)
		}
	}
}

func (w *OutboundRetryWorker) runBatch(ctx context.Context) {
	delivered, err := w.retrier.RetryFailed(ctx, w.config.MaxAttempts, w.config.BatchSize)

	w.mu.Lock()
	w.deliveredCount += delivered
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Outbound retry batch failed", zap.Error(err))
		return
	}
	if delivered > 0 {
		w.logger.Info("Outbound retries delivered", zap.Int("count", delivered))
	}
}
