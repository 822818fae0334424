package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/civic-workflow/internal/application/dispatcher"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// Mock implementations

type recordKey struct {
	kind domainwf.EntityKind
	id   string
}

type mockStore struct {
	mu      sync.Mutex
	records map[recordKey]*entity.Record
	casErr  error
	writes  int

	// readBarrier holds every reader until all expected readers have read
	readBarrier *sync.WaitGroup
}

func newMockStore(records ...*entity.Record) *mockStore {
	s := &mockStore{records: make(map[recordKey]*entity.Record)}
	for _, r := range records {
		s.records[recordKey{r.Kind, r.ID}] = r
	}
	return s
}

func (m *mockStore) ReadState(ctx context.Context, kind domainwf.EntityKind, id string) (*entity.Record, error) {
	m.mu.Lock()
	r, ok := m.records[recordKey{kind, id}]
	var c entity.Record
	if ok {
		c = *r
	}
	m.mu.Unlock()

	if m.readBarrier != nil {
		m.readBarrier.Done()
		m.readBarrier.Wait()
	}

	if !ok {
		return nil, port.ErrRecordNotFound
	}
	return &c, nil
}

func (m *mockStore) CompareAndSwapState(ctx context.Context, kind domainwf.EntityKind, id string, version int64, newState domainwf.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.casErr != nil {
		return false, m.casErr
	}
	r, ok := m.records[recordKey{kind, id}]
	if !ok {
		return false, port.ErrRecordNotFound
	}
	if r.Version != version {
		return false, nil
	}
	r.State = newState
	r.Version++
	return true, nil
}

func (m *mockStore) state(kind domainwf.EntityKind, id string) domainwf.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[recordKey{kind, id}].State
}

type emitted struct {
	evt        *event.Event
	recipients []string
}

type mockNotifier struct {
	mu      sync.Mutex
	emitted []emitted
	err     error
}

func (m *mockNotifier) ResolveRecipients(evt *event.Event) []string {
	if evt.Kind == domainwf.KindTask {
		return []string{evt.AssigneeID}
	}
	return []string{evt.OwnerID}
}

func (m *mockNotifier) Emit(ctx context.Context, evt *event.Event, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emitted = append(m.emitted, emitted{evt: evt, recipients: recipients})
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emitted)
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockMetrics) ObserveTransition(kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, kind+"/"+outcome)
}

func citizenRequest(id string, state domainwf.State) *entity.Record {
	return &entity.Record{Kind: domainwf.KindCitizenRequest, ID: id, State: state, Version: 1, OwnerID: "citizen-9"}
}

func newTestEngine(store port.RecordStore, notifier Notifier, opts ...EngineOption) Engine {
	return NewEngine(domainwf.DefaultRegistry(), role.NewAuthority(), store, notifier, opts...)
}

// Scenarios

func TestRequestTransition_ClerkStartsCitizenRequest(t *testing.T) {
	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	notifier := &mockNotifier{}
	engine := newTestEngine(store, notifier)

	got, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateInProgress)

	require.NoError(t, err)
	assert.Equal(t, domainwf.StateInProgress, got)
	assert.Equal(t, domainwf.StateInProgress, store.state(domainwf.KindCitizenRequest, "42"))

	require.Equal(t, 1, notifier.count())
	e := notifier.emitted[0]
	assert.Equal(t, []string{"citizen-9"}, e.recipients)
	assert.Equal(t, domainwf.StatePending, e.evt.OldState)
	assert.Equal(t, domainwf.StateInProgress, e.evt.NewState)
	assert.Equal(t, "clerk-1", e.evt.ActorID)
}

func TestRequestTransition_MissingEdgeBeatsMissingRole(t *testing.T) {
	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	notifier := &mockNotifier{}
	engine := newTestEngine(store, notifier)

	_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("citizen-9", role.Citizen), domainwf.StateCompleted)

	assert.True(t, errors.Is(err, domainwf.ErrIllegalTransition), "got %v", err)
	assert.False(t, errors.Is(err, domainwf.ErrForbidden))
	assert.Equal(t, 0, store.writes)
	assert.Equal(t, 0, notifier.count())
}

func TestRequestTransition_SelfTransitionIsIllegal(t *testing.T) {
	store := newMockStore(&entity.Record{Kind: domainwf.KindPermit, ID: "7", State: domainwf.StateApproved, Version: 3})
	engine := newTestEngine(store, &mockNotifier{})

	_, err := engine.RequestTransition(context.Background(), domainwf.KindPermit, "7",
		role.NewPrincipal("admin-1", role.Admin), domainwf.StateApproved)

	assert.True(t, errors.Is(err, domainwf.ErrIllegalTransition))
	assert.Equal(t, 0, store.writes)
}

func TestRequestTransition_Forbidden(t *testing.T) {
	store := newMockStore(&entity.Record{Kind: domainwf.KindLeave, ID: "l-1", State: domainwf.StatePending, Version: 1, OwnerID: "emp-1"})
	notifier := &mockNotifier{}
	engine := newTestEngine(store, notifier)

	_, err := engine.RequestTransition(context.Background(), domainwf.KindLeave, "l-1",
		role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateApproved)

	assert.True(t, errors.Is(err, domainwf.ErrForbidden), "got %v", err)
	assert.False(t, domainwf.IsCommitted(err))
	assert.Equal(t, domainwf.StatePending, store.state(domainwf.KindLeave, "l-1"))
	assert.Equal(t, 0, notifier.count())
}

func TestRequestTransition_LeaveApprovalAcceptsEitherRole(t *testing.T) {
	for _, r := range []role.Role{role.Admin, role.HRManager} {
		t.Run(string(r), func(t *testing.T) {
			store := newMockStore(&entity.Record{Kind: domainwf.KindLeave, ID: "l-1", State: domainwf.StatePending, Version: 1, OwnerID: "emp-1"})
			engine := newTestEngine(store, &mockNotifier{})

			got, err := engine.RequestTransition(context.Background(), domainwf.KindLeave, "l-1",
				role.NewPrincipal("approver", r), domainwf.StateApproved)

			require.NoError(t, err)
			assert.Equal(t, domainwf.StateApproved, got)
		})
	}
}

func TestRequestTransition_TaskAssignee(t *testing.T) {
	task := func() *entity.Record {
		return &entity.Record{Kind: domainwf.KindTask, ID: "t-1", State: domainwf.StateTodo, Version: 1, OwnerID: "planner-1", AssigneeID: "emp-3"}
	}

	t.Run("assignee may move own task", func(t *testing.T) {
		notifier := &mockNotifier{}
		engine := newTestEngine(newMockStore(task()), notifier)

		_, err := engine.RequestTransition(context.Background(), domainwf.KindTask, "t-1",
			role.NewPrincipal("emp-3", role.Clerk), domainwf.StateInProgress)
		require.NoError(t, err)
		assert.Equal(t, "emp-3", notifier.emitted[0].evt.AssigneeID)
	})

	t.Run("other employee is forbidden", func(t *testing.T) {
		engine := newTestEngine(newMockStore(task()), &mockNotifier{})

		_, err := engine.RequestTransition(context.Background(), domainwf.KindTask, "t-1",
			role.NewPrincipal("emp-4", role.Clerk), domainwf.StateInProgress)
		assert.True(t, errors.Is(err, domainwf.ErrForbidden))
	})

	t.Run("task self-transition is illegal even for assignee", func(t *testing.T) {
		engine := newTestEngine(newMockStore(task()), &mockNotifier{})

		_, err := engine.RequestTransition(context.Background(), domainwf.KindTask, "t-1",
			role.NewPrincipal("emp-3", role.Clerk), domainwf.StateTodo)
		assert.True(t, errors.Is(err, domainwf.ErrIllegalTransition))
	})
}

func TestRequestTransition_NotFound(t *testing.T) {
	engine := newTestEngine(newMockStore(), &mockNotifier{})

	_, err := engine.RequestTransition(context.Background(), domainwf.KindPermit, "missing",
		role.NewPrincipal("admin-1", role.Admin), domainwf.StateApproved)

	assert.True(t, errors.Is(err, domainwf.ErrNotFound))
}

func TestRequestTransition_UnknownKind(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(store, &mockNotifier{})

	_, err := engine.RequestTransition(context.Background(), domainwf.EntityKind("invoice"), "1",
		role.NewPrincipal("admin-1", role.Admin), domainwf.StateApproved)

	assert.True(t, errors.Is(err, domainwf.ErrUnknownKind))
}

func TestRequestTransition_UnauthenticatedPrincipal(t *testing.T) {
	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	engine := newTestEngine(store, &mockNotifier{})

	_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("", role.Admin), domainwf.StateInProgress)

	assert.True(t, errors.Is(err, domainwf.ErrForbidden))
}

func TestRequestTransition_StoreErrors(t *testing.T) {
	t.Run("lost version is a conflict", func(t *testing.T) {
		store := newMockStore(citizenRequest("42", domainwf.StatePending))
		engine := newTestEngine(&stalingStore{mockStore: store}, &mockNotifier{})

		_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
			role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateRejected)

		assert.True(t, errors.Is(err, domainwf.ErrConflict), "got %v", err)
		assert.True(t, domainwf.IsRetryable(err))
		assert.Equal(t, 1, store.writes)
	})

	t.Run("infrastructure failure is not a conflict", func(t *testing.T) {
		store := newMockStore(citizenRequest("42", domainwf.StatePending))
		store.casErr = errors.New("database is locked")
		notifier := &mockNotifier{}
		engine := newTestEngine(store, notifier)

		_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
			role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateRejected)

		require.Error(t, err)
		assert.False(t, errors.Is(err, domainwf.ErrConflict))
		assert.Equal(t, 1, store.writes, "engine never retries")
		assert.Equal(t, 0, notifier.count())
	})
}

// stalingStore bumps the version between read and write
type stalingStore struct {
	*mockStore
}

func (s *stalingStore) ReadState(ctx context.Context, kind domainwf.EntityKind, id string) (*entity.Record, error) {
	r, err := s.mockStore.ReadState(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.records[recordKey{kind, id}].Version++
	s.mu.Unlock()
	return r, nil
}

func TestRequestTransition_CancelledBeforeCommit(t *testing.T) {
	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	notifier := &mockNotifier{}
	engine := newTestEngine(store, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.RequestTransition(ctx, domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateInProgress)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, domainwf.StatePending, store.state(domainwf.KindCitizenRequest, "42"))
	assert.Equal(t, 0, store.writes)
	assert.Equal(t, 0, notifier.count())
}

func TestRequestTransition_DispatchFailureKeepsCommit(t *testing.T) {
	store := newMockStore(&entity.Record{Kind: domainwf.KindPayment, ID: "pay-1", State: domainwf.StatePending, Version: 1, OwnerID: "citizen-2"})
	notifier := &mockNotifier{err: errors.New("notification table unavailable")}
	metrics := &mockMetrics{}
	engine := newTestEngine(store, notifier, WithMetrics(metrics))

	got, err := engine.RequestTransition(context.Background(), domainwf.KindPayment, "pay-1",
		role.NewPrincipal("gateway", role.System), domainwf.StateCompleted)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainwf.ErrDispatchFailure))
	assert.True(t, domainwf.IsCommitted(err))
	assert.False(t, domainwf.IsRetryable(err))
	assert.Equal(t, domainwf.StateCompleted, got)
	assert.Equal(t, domainwf.StateCompleted, store.state(domainwf.KindPayment, "pay-1"))
	assert.Equal(t, []string{"payment/dispatch_failure"}, metrics.outcomes)
}

func TestRequestTransition_PublishesToEventBus(t *testing.T) {
	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	bus := dispatcher.NewDispatcher()

	var mu sync.Mutex
	var seen []*event.Event
	require.NoError(t, bus.SubscribeAll("recorder", func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt)
		return nil
	}))

	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	engine := newTestEngine(store, &mockNotifier{}, WithDispatcher(bus), WithClock(func() time.Time { return fixed }))

	_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("clerk-1", role.Clerk), domainwf.StateRejected)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	require.Len(t, seen, 1)
	assert.Equal(t, event.TypeRejected, seen[0].Type)
	assert.True(t, seen[0].Timestamp.Equal(fixed))
}

// Properties

func TestProperty_TerminalStatesRejectEveryTarget(t *testing.T) {
	registry := domainwf.DefaultRegistry()
	admin := role.NewPrincipal("root", role.Admin, role.Clerk, role.FinanceOfficer, role.UrbanPlanner, role.HRManager, role.System)

	for _, kind := range domainwf.Kinds() {
		table, _ := registry.Table(kind)
		for _, from := range kind.States() {
			if !table.IsTerminal(from) {
				continue
			}
			for _, to := range kind.States() {
				store := newMockStore(&entity.Record{Kind: kind, ID: "x", State: from, Version: 1, AssigneeID: "root"})
				engine := newTestEngine(store, &mockNotifier{})

				_, err := engine.RequestTransition(context.Background(), kind, "x", admin, to)
				assert.True(t, errors.Is(err, domainwf.ErrIllegalTransition), "%s %s -> %s: %v", kind, from, to, err)
			}
		}
	}
}

func TestProperty_SucceedsIffRoleAllowed(t *testing.T) {
	holdable := []role.Role{role.Admin, role.FinanceOfficer, role.UrbanPlanner, role.HRManager, role.Clerk, role.Citizen, role.System}

	for _, table := range domainwf.DefaultTables() {
		for _, edge := range table.Edges() {
			for _, r := range holdable {
				store := newMockStore(&entity.Record{Kind: edge.Kind, ID: "x", State: edge.From, Version: 1, OwnerID: "owner", AssigneeID: "someone-else"})
				notifier := &mockNotifier{}
				engine := newTestEngine(store, notifier)

				_, err := engine.RequestTransition(context.Background(), edge.Kind, "x", role.NewPrincipal("actor", r), edge.To)

				if edge.AllowedRoles.Has(r) {
					assert.NoError(t, err, "%s %s -> %s as %s", edge.Kind, edge.From, edge.To, r)
					assert.Equal(t, 1, notifier.count())
				} else {
					assert.True(t, errors.Is(err, domainwf.ErrForbidden), "%s %s -> %s as %s: %v", edge.Kind, edge.From, edge.To, r, err)
					assert.Equal(t, 0, notifier.count())
				}
			}
		}
	}
}

func TestProperty_ConcurrentRaceHasOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMockStore(&entity.Record{Kind: domainwf.KindProject, ID: "pr-1", State: domainwf.StateInProgress, Version: 1, OwnerID: "mgr-1"})
		store.readBarrier = &sync.WaitGroup{}
		store.readBarrier.Add(2)
		notifier := &mockNotifier{}
		engine := newTestEngine(store, notifier)
		planner := role.NewPrincipal("planner-1", role.UrbanPlanner)

		targets := []domainwf.State{domainwf.StateOnHold, domainwf.StateCompleted}
		errs := make([]error, len(targets))

		var g errgroup.Group
		for idx, target := range targets {
			g.Go(func() error {
				_, errs[idx] = engine.RequestTransition(context.Background(), domainwf.KindProject, "pr-1", planner, target)
				return nil
			})
		}
		require.NoError(t, g.Wait())

		wins, conflicts := 0, 0
		var winner domainwf.State
		for idx, err := range errs {
			switch {
			case err == nil:
				wins++
				winner = targets[idx]
			case errors.Is(err, domainwf.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, conflicts)
		assert.Equal(t, 1, notifier.count(), "exactly one notification per committed transition")

		// The loser re-reads and observes the winner's state
		store.readBarrier = nil
		rec, err := engine.CurrentState(context.Background(), domainwf.KindProject, "pr-1")
		require.NoError(t, err)
		assert.Equal(t, winner, rec.State)
		assert.Equal(t, int64(2), rec.Version)
	}
}

// Queries

func TestAvailableTransitions(t *testing.T) {
	store := newMockStore(
		citizenRequest("42", domainwf.StatePending),
		&entity.Record{Kind: domainwf.KindTask, ID: "t-1", State: domainwf.StateInReview, Version: 1, AssigneeID: "emp-3"},
	)
	engine := newTestEngine(store, &mockNotifier{})
	ctx := context.Background()

	got, err := engine.AvailableTransitions(ctx, domainwf.KindCitizenRequest, "42", role.NewPrincipal("clerk-1", role.Clerk))
	require.NoError(t, err)
	assert.Equal(t, []domainwf.State{domainwf.StateInProgress, domainwf.StateRejected}, got)

	got, err = engine.AvailableTransitions(ctx, domainwf.KindCitizenRequest, "42", role.NewPrincipal("citizen-9", role.Citizen))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = engine.AvailableTransitions(ctx, domainwf.KindTask, "t-1", role.NewPrincipal("emp-3", role.Clerk))
	require.NoError(t, err)
	assert.Equal(t, []domainwf.State{domainwf.StateBlocked, domainwf.StateCompleted, domainwf.StateInProgress, domainwf.StateTodo}, got)

	_, err = engine.AvailableTransitions(ctx, domainwf.KindPermit, "nope", role.NewPrincipal("admin-1", role.Admin))
	assert.True(t, errors.Is(err, domainwf.ErrNotFound))
}

// Tracing

func TestRequestTransition_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store := newMockStore(citizenRequest("42", domainwf.StatePending))
	engine := newTestEngine(store, &mockNotifier{}, WithTracer(tp.Tracer("test")))

	_, err := engine.RequestTransition(context.Background(), domainwf.KindCitizenRequest, "42",
		role.NewPrincipal("citizen-9", role.Citizen), domainwf.StateInProgress)
	require.True(t, errors.Is(err, domainwf.ErrForbidden))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.request_transition", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "forbidden", attrs["workflow.outcome"])
	assert.Equal(t, "pending", attrs["workflow.from_state"])
}
