package repository

import (
	"context"
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// NotificationRepository defines persistence operations for notifications.
// The pgx implementation is in pg_notification_repo.go; tests use the
// hand-written mock in mock_repos.go.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	Cancel(ctx context.Context, id string) error
	UpdateSchedule(ctx context.Context, id string, scheduledAt time.Time) error
	FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Notification, error)
}

// DeliveryRepository is the append-only delivery log.
// Entries are never updated; CountSince feeds the rule engine's frequency caps.
type DeliveryRepository interface {
	Append(ctx context.Context, e *domain.DeliveryEntry) error
	ListByNotification(ctx context.Context, notificationID string) ([]*domain.DeliveryEntry, error)
	CountSince(ctx context.Context, recipient, notificationType string, since time.Time) (int, error)
	HasOutcome(ctx context.Context, notificationID, recipient string, ch domain.Channel, outcome domain.Outcome) (bool, error)
}

// PreferenceRepository reads and writes per-user notification preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*domain.Preference, error)
	Upsert(ctx context.Context, p *domain.Preference) error
}

// RuleRepository loads routing rules, ordered by (type, position).
type RuleRepository interface {
	ListActive(ctx context.Context) ([]*domain.RoutingRule, error)
}

// TemplateRepository loads active message templates.
type TemplateRepository interface {
	ListActive(ctx context.Context) ([]*domain.Template, error)
}

// ContactRepository reads delivery addresses and push subscriptions.
// DeletePushSubscription is the permanent prune path for gone tokens.
type ContactRepository interface {
	GetContact(ctx context.Context, userID string) (*domain.Contact, error)
	ListPushSubscriptions(ctx context.Context, userID string) ([]*domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error
}
