package repository

import (
	"context"
	"sync"
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// Hand-written, in-memory implementations of the repository interfaces used
// in unit tests. No mock-generation library needed.

// MockNotificationRepository stores notifications in a map.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr  error
	GetByIDErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{notifications: make(map[string]*domain.Notification)}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n.Clone()
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

func (m *MockNotificationRepository) List(_ context.Context, _ domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		result = append(result, n.Clone())
	}
	return result, len(result), nil
}

func (m *MockNotificationRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = status
	}
	return nil
}

func (m *MockNotificationRepository) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = domain.StatusDelivered
		n.DeliveredAt = &at
	}
	return nil
}

func (m *MockNotificationRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = domain.StatusCancelled
	}
	return nil
}

func (m *MockNotificationRepository) UpdateSchedule(_ context.Context, id string, scheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = domain.StatusScheduled
		n.ScheduledAt = &scheduledAt
	}
	return nil
}

func (m *MockNotificationRepository) FindDueScheduled(_ context.Context, now time.Time) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*domain.Notification
	for _, n := range m.notifications {
		if n.Status == domain.StatusScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			due = append(due, n.Clone())
		}
	}
	return due, nil
}

// MockDeliveryRepository is an append-only in-memory delivery log.
type MockDeliveryRepository struct {
	mu      sync.RWMutex
	entries []*domain.DeliveryEntry

	AppendErr error
}

func NewMockDeliveryRepository() *MockDeliveryRepository {
	return &MockDeliveryRepository{}
}

func (m *MockDeliveryRepository) Append(_ context.Context, e *domain.DeliveryEntry) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.entries = append(m.entries, &clone)
	return nil
}

func (m *MockDeliveryRepository) ListByNotification(_ context.Context, notificationID string) ([]*domain.DeliveryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DeliveryEntry
	for _, e := range m.entries {
		if e.NotificationID == notificationID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockDeliveryRepository) CountSince(_ context.Context, recipient, notificationType string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.entries {
		if e.Recipient == recipient && e.Type == notificationType &&
			e.Outcome == domain.OutcomeSent && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockDeliveryRepository) HasOutcome(_ context.Context, notificationID, recipient string, ch domain.Channel, outcome domain.Outcome) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.NotificationID == notificationID && e.Recipient == recipient &&
			e.Channel == ch && e.Outcome == outcome {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns a snapshot of all appended entries.
func (m *MockDeliveryRepository) Entries() []*domain.DeliveryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.DeliveryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// MockPreferenceRepository stores preferences keyed by user.
type MockPreferenceRepository struct {
	mu    sync.RWMutex
	prefs map[string]*domain.Preference

	GetErr error
}

func NewMockPreferenceRepository() *MockPreferenceRepository {
	return &MockPreferenceRepository{prefs: make(map[string]*domain.Preference)}
}

func (m *MockPreferenceRepository) Get(_ context.Context, userID string) (*domain.Preference, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *MockPreferenceRepository) Upsert(_ context.Context, p *domain.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.prefs[p.UserID] = &clone
	return nil
}

// MockRuleRepository serves a fixed rule list.
type MockRuleRepository struct {
	Rules   []*domain.RoutingRule
	ListErr error
}

func (m *MockRuleRepository) ListActive(_ context.Context) ([]*domain.RoutingRule, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Rules, nil
}

// MockTemplateRepository serves a fixed template list.
type MockTemplateRepository struct {
	Templates []*domain.Template
	ListErr   error
}

func (m *MockTemplateRepository) ListActive(_ context.Context) ([]*domain.Template, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Templates, nil
}

// MockContactRepository stores contacts and push subscriptions in maps.
type MockContactRepository struct {
	mu       sync.RWMutex
	contacts map[string]*domain.Contact
	subs     map[string][]*domain.PushSubscription
	deleted  []string
}

func NewMockContactRepository() *MockContactRepository {
	return &MockContactRepository{
		contacts: make(map[string]*domain.Contact),
		subs:     make(map[string][]*domain.PushSubscription),
	}
}

func (m *MockContactRepository) SetContact(c *domain.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.UserID] = c
}

func (m *MockContactRepository) AddPushSubscription(s *domain.PushSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.UserID] = append(m.subs[s.UserID], s)
}

func (m *MockContactRepository) GetContact(_ context.Context, userID string) (*domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MockContactRepository) ListPushSubscriptions(_ context.Context, userID string) ([]*domain.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.PushSubscription(nil), m.subs[userID]...), nil
}

func (m *MockContactRepository) DeletePushSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	for user, list := range m.subs {
		kept := list[:0]
		for _, s := range list {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		m.subs[user] = kept
	}
	return nil
}

// DeletedSubscriptions returns the IDs pruned so far.
func (m *MockContactRepository) DeletedSubscriptions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deleted...)
}
