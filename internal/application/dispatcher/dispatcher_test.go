package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(kind workflow.EntityKind, to workflow.State) *event.Event {
	return event.NewTransitionEvent(event.Transition{
		Kind:     kind,
		EntityID: "7",
		ActorID:  "clerk-1",
		OldState: workflow.StatePending,
		NewState: to,
		OwnerID:  "citizen-1",
	})
}

func newApprovedEvent() *event.Event {
	return newEvent(workflow.KindPermit, workflow.StateApproved)
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func newBus(t *testing.T, opts ...Option) Dispatcher {
	t.Helper()
	d := NewDispatcher(opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSubscribe(t *testing.T) {
	t.Run("rejects duplicate names", func(t *testing.T) {
		d := newBus(t)
		if err := d.SubscribeAll("history", noop); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := d.Subscribe("history", Filter{}, noop)
		if !errors.Is(err, ErrDuplicateSubscriber) {
			t.Errorf("expected ErrDuplicateSubscriber, got %v", err)
		}
	})

	t.Run("requires name and handler", func(t *testing.T) {
		d := newBus(t)
		if err := d.SubscribeAll("", noop); err == nil {
			t.Error("expected error for empty name")
		}
		if err := d.SubscribeAll("x", nil); err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("lists subscriptions in order", func(t *testing.T) {
		d := newBus(t)
		_ = d.SubscribeAll("first", noop)
		_ = d.Subscribe("second", Filter{Kinds: []workflow.EntityKind{workflow.KindLeave}}, noop)

		subs := d.Subscriptions()
		if len(subs) != 2 || subs[0].Name != "first" || subs[1].Name != "second" {
			t.Fatalf("unexpected subscriptions: %+v", subs)
		}
		if subs[1].Filter.Kinds[0] != workflow.KindLeave {
			t.Errorf("filter not preserved: %+v", subs[1].Filter)
		}
	})
}

func TestFilter_Matches(t *testing.T) {
	approvedPermit := newApprovedEvent()
	rejectedLeave := newEvent(workflow.KindLeave, workflow.StateRejected)

	tests := []struct {
		name   string
		filter Filter
		evt    *event.Event
		want   bool
	}{
		{"empty matches all", Filter{}, rejectedLeave, true},
		{"type match", Filter{Types: []event.Type{event.TypeApproved}}, approvedPermit, true},
		{"type mismatch", Filter{Types: []event.Type{event.TypeApproved}}, rejectedLeave, false},
		{"kind match", Filter{Kinds: []workflow.EntityKind{workflow.KindLeave}}, rejectedLeave, true},
		{"kind mismatch", Filter{Kinds: []workflow.EntityKind{workflow.KindLeave}}, approvedPermit, false},
		{"both must match", Filter{Types: []event.Type{event.TypeApproved}, Kinds: []workflow.EntityKind{workflow.KindLeave}}, rejectedLeave, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.evt); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	t.Run("routes by filter in subscription order", func(t *testing.T) {
		d := newBus(t)
		var calls []string

		_ = d.Subscribe("approvals", Filter{Types: []event.Type{event.TypeApproved}}, func(ctx context.Context, evt *event.Event) error {
			calls = append(calls, "approvals")
			return nil
		})
		_ = d.Subscribe("leave-only", Filter{Kinds: []workflow.EntityKind{workflow.KindLeave}}, func(ctx context.Context, evt *event.Event) error {
			calls = append(calls, "leave-only")
			return nil
		})
		_ = d.SubscribeAll("history", func(ctx context.Context, evt *event.Event) error {
			calls = append(calls, "history")
			return nil
		})

		if err := d.Dispatch(context.Background(), newApprovedEvent()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fmt.Sprint(calls) != "[approvals history]" {
			t.Errorf("unexpected calls: %v", calls)
		}
	})

	t.Run("runs every handler and joins errors", func(t *testing.T) {
		logger := &mockLogger{}
		d := newBus(t, WithLogger(logger))
		boom := errors.New("boom")
		var ran atomic.Int32

		_ = d.SubscribeAll("failing", func(ctx context.Context, evt *event.Event) error {
			ran.Add(1)
			return boom
		})
		_ = d.SubscribeAll("healthy", func(ctx context.Context, evt *event.Event) error {
			ran.Add(1)
			return nil
		})

		err := d.Dispatch(context.Background(), newApprovedEvent())
		if !errors.Is(err, boom) {
			t.Errorf("expected joined error to wrap boom, got %v", err)
		}
		if ran.Load() != 2 {
			t.Errorf("expected both handlers to run, got %d", ran.Load())
		}
		if stats := d.Stats(); stats.Delivered != 1 || stats.Failed != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("expected 1 error log, got %d", logger.ErrorCount())
		}
	})

	t.Run("recovers from panic", func(t *testing.T) {
		d := newBus(t)
		_ = d.SubscribeAll("panicky", func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), newApprovedEvent()); err == nil {
			t.Error("expected error from panicking handler")
		}
	})

	t.Run("unsubscribe removes handler", func(t *testing.T) {
		d := newBus(t)
		var count atomic.Int32
		_ = d.SubscribeAll("counter", func(ctx context.Context, evt *event.Event) error {
			count.Add(1)
			return nil
		})

		if !d.Unsubscribe("counter") {
			t.Fatal("expected counter to be removed")
		}
		if d.Unsubscribe("counter") {
			t.Error("second unsubscribe should report false")
		}
		_ = d.Dispatch(context.Background(), newApprovedEvent())
		if count.Load() != 0 {
			t.Errorf("handler ran after unsubscribe")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("delivers on worker pool and drains on close", func(t *testing.T) {
		d := NewDispatcher(WithWorkers(2))
		var count atomic.Int32
		_ = d.SubscribeAll("counter", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(time.Millisecond)
			count.Add(1)
			return nil
		})

		for i := 0; i < 20; i++ {
			d.DispatchAsync(context.Background(), newApprovedEvent())
		}
		if err := d.Close(); err != nil {
			t.Fatalf("unexpected close error: %v", err)
		}

		if count.Load() != 20 {
			t.Errorf("expected 20 deliveries after drain, got %d", count.Load())
		}
	})

	t.Run("drops when queue is full", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithWorkers(1), WithQueueSize(1), WithLogger(logger))
		release := make(chan struct{})
		started := make(chan struct{}, 1)

		_ = d.SubscribeAll("blocking", func(ctx context.Context, evt *event.Event) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		})

		d.DispatchAsync(context.Background(), newApprovedEvent())
		<-started // worker is busy with the first event
		d.DispatchAsync(context.Background(), newApprovedEvent())
		d.DispatchAsync(context.Background(), newApprovedEvent())

		close(release)
		_ = d.Close()

		stats := d.Stats()
		if stats.Dropped != 1 {
			t.Errorf("expected 1 dropped event, got %+v", stats)
		}
		if stats.Delivered != 2 {
			t.Errorf("expected 2 delivered events, got %+v", stats)
		}
	})

	t.Run("closed bus drops and rejects", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatal(err)
		}
		if err := d.Close(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed on second close, got %v", err)
		}

		d.DispatchAsync(context.Background(), newApprovedEvent())
		if d.Stats().Dropped != 1 {
			t.Errorf("expected drop after close")
		}
		if err := d.Dispatch(context.Background(), newApprovedEvent()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := newBus(t)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			_ = d.SubscribeAll(fmt.Sprintf("handler-%d", id), noop)
		}(i)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newApprovedEvent())
		}()
	}
	wg.Wait()

	if got := len(d.Subscriptions()); got != 10 {
		t.Errorf("expected 10 subscriptions, got %d", got)
	}
}
