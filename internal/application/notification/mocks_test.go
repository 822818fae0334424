package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
)

type mockNotificationRepo struct {
	mu        sync.Mutex
	items     map[string]*entity.Notification
	order     []string
	createErr error
	failAfter int
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{items: make(map[string]*entity.Notification), failAfter: -1}
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.failAfter >= 0 && len(m.order) >= m.failAfter {
		return errors.New("disk full")
	}
	c := *n
	m.items[n.ID] = &c
	m.order = append(m.order, n.ID)
	return nil
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, port.ErrNotificationNotFound
	}
	c := *n
	return &c, nil
}

func (m *mockNotificationRepo) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Notification
	for _, id := range m.order {
		n := m.items[id]
		if n.RecipientID != recipientID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*entity.Notification{}, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	list, _ := m.ListByRecipient(ctx, recipientID, true, 1<<20, 0)
	return len(list), nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.RecipientID != recipientID {
		return port.ErrNotificationNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return nil
}

func (m *mockNotificationRepo) UpdateOutboundStatus(ctx context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return port.ErrNotificationNotFound
	}
	n.OutboundStatus = status
	n.OutboundError = errMsg
	n.OutboundAttempts++
	return nil
}

func (m *mockNotificationRepo) ListOutboundRetryable(ctx context.Context, maxAttempts, limit int) ([]*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Notification
	for _, id := range m.order {
		n := m.items[id]
		if n.OutboundStatus == entity.NotificationStatusFailed && n.OutboundAttempts < maxAttempts {
			c := *n
			out = append(out, &c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) all() []*entity.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Notification, 0, len(m.order))
	for _, id := range m.order {
		c := *m.items[id]
		out = append(out, &c)
	}
	return out
}

type mockOutbound struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]int
	err   error
}

func (m *mockOutbound) SendOutbound(ctx context.Context, recipientID string, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails != nil && m.fails[recipientID] > 0 {
		m.fails[recipientID]--
		return errors.New("lark unavailable")
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, recipientID)
	return nil
}

func (m *mockOutbound) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// mockTxManager discards writes made inside a failed transaction
type mockTxManager struct {
	repo  *mockNotificationRepo
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	m.repo.mu.Lock()
	before := len(m.repo.order)
	m.repo.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.repo.mu.Lock()
		for _, id := range m.repo.order[before:] {
			delete(m.repo.items, id)
		}
		m.repo.order = m.repo.order[:before]
		m.repo.mu.Unlock()
		return err
	}
	return nil
}

type mockMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *mockMetrics) ObserveNotification(channel, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[channel+"/"+outcome]++
}

func (m *mockMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
