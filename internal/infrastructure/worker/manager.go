package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background loop owned by the manager. Start must return
// promptly; the loop runs until ctx is cancelled or Stop is called.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// ErrorReporter is implemented by workers that remember their last failure
type ErrorReporter interface {
	LastError() error
}

// Status is a point-in-time view of one worker
type Status struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	LastError string `json:"last_error,omitempty"`
}

// WorkerManager starts and stops the service's background workers as a unit
type WorkerManager struct {
	workers []Worker
	started []Worker
	logger  *zap.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// NewWorkerManager creates an empty manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Workers registered after StartAll are not started.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered",
		zap.String("worker_name", w.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts every registered worker. If one fails to start, those
// already started are stopped again and the error is returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.started = m.started[:0]

	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker, rolling back",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			cancel()
			_ = m.stopStarted()
			return fmt.Errorf("start worker %s: %w", w.Name(), err)
		}
		m.started = append(m.started, w)
		m.logger.Info("Worker started", zap.String("worker_name", w.Name()))
	}

	m.cancel = cancel
	m.running = true
	return nil
}

// StopAll cancels the shared context and stops workers in reverse start order
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.logger.Info("Stopping workers", zap.Int("count", len(m.started)))
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	return m.stopStarted()
}

// stopStarted must be called with mu held
func (m *WorkerManager) stopStarted() error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		w := m.started[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("stop worker %s: %w", w.Name(), err))
		}
	}
	m.started = m.started[:0]
	return errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Statuses reports every registered worker in registration order
func (m *WorkerManager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		s := Status{Name: w.Name(), Running: m.running}
		if r, ok := w.(ErrorReporter); ok {
			if err := r.LastError(); err != nil {
				s.LastError = err.Error()
			}
		}
		out = append(out, s)
	}
	return out
}
