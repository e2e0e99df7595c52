package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/bus"
	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/repository"
	"github.com/vowsuite/notify/internal/rules"
)

// MaxBulkSize caps one bulk request. Larger batches should be split by the
// caller; an unbounded batch would let one tenant monopolize a lane.
const MaxBulkSize = 100

// Publisher is the piece of the bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// NotificationService is the application core: it accepts send requests, runs
// them through the rule engine, resolves channels, persists, and enqueues.
// Delivery itself happens asynchronously in the dispatch workers; Send returns
// an acknowledgement of intake, never a delivery guarantee.
type NotificationService struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	prefRepo      repository.PreferenceRepository
	prefCache     *prefs.Cache
	engine        *rules.Engine
	lanes         *queue.Lanes
	pub           Publisher
	onAlarm       func()
	logger        *zap.Logger
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	prefRepo repository.PreferenceRepository,
	prefCache *prefs.Cache,
	engine *rules.Engine,
	lanes *queue.Lanes,
	pub Publisher,
	onAlarm func(),
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		deliveries:    deliveries,
		prefRepo:      prefRepo,
		prefCache:     prefCache,
		engine:        engine,
		lanes:         lanes,
		pub:           pub,
		onAlarm:       onAlarm,
		logger:        logger,
		now:           time.Now,
	}
}

// Send validates, applies routing rules, resolves channels, persists and
// enqueues one notification. The returned Ack carries the chosen priority and
// the union of every recipient's resolved channels.
func (s *NotificationService) Send(ctx context.Context, req *domain.SendRequest) (*domain.Ack, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	n := &domain.Notification{
		ID:                uuid.NewString(),
		Type:              req.Type,
		Priority:          req.Priority,
		Title:             req.Title,
		Body:              req.Body,
		Recipients:        req.Recipients,
		RequestedChannels: req.Channels,
		Metadata:          req.Metadata,
		Status:            domain.StatusPending,
		ScheduledAt:       req.ScheduledAt,
		ExpiresAt:         req.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if n.Priority == "" {
		n.Priority = domain.DefaultPriority(n.Type)
	}

	n = s.engine.Apply(ctx, n)

	if n.Status == domain.StatusSuppressed {
		return s.acceptSuppressed(ctx, n)
	}

	n.ResolvedChannels = s.resolveUnion(ctx, n, now)

	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		n.Status = domain.StatusScheduled
		if err := s.notifications.Create(ctx, n); err != nil {
			return nil, fmt.Errorf("persist scheduled notification: %w", err)
		}
		s.logger.Info("notification scheduled",
			zap.String("id", n.ID),
			zap.String("type", n.Type),
			zap.Time("scheduled_at", *n.ScheduledAt))
		return ack(n), nil
	}

	n.Status = domain.StatusQueued
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	if err := s.lanes.Enqueue(queue.Item{NotificationID: n.ID, Priority: n.Priority}); err != nil {
		if errors.Is(err, domain.ErrQueueFull) && s.onAlarm != nil {
			s.onAlarm()
		}
		// Park it for the scheduler instead of losing it: a saturated lane is
		// an overload condition, not a reason to drop accepted work.
		if uerr := s.notifications.UpdateSchedule(ctx, n.ID, s.now()); uerr != nil {
			s.logger.Error("failed to park notification after full lane",
				zap.String("id", n.ID), zap.Error(uerr))
		}
		s.logger.Error("dispatch lane full",
			zap.String("id", n.ID),
			zap.String("priority", string(n.Priority)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("notification queued",
		zap.String("id", n.ID),
		zap.String("type", n.Type),
		zap.String("priority", string(n.Priority)),
		zap.Int("recipients", len(n.Recipients)))
	return ack(n), nil
}

// SendBulk processes every item independently: N items in, N results out,
// in input order. One invalid item never fails its siblings.
func (s *NotificationService) SendBulk(ctx context.Context, req *domain.BulkRequest) ([]domain.BulkResult, error) {
	if len(req.Notifications) == 0 {
		return nil, domain.ErrBulkEmpty
	}
	if len(req.Notifications) > MaxBulkSize {
		return nil, domain.ErrBulkTooLarge
	}

	results := make([]domain.BulkResult, len(req.Notifications))
	for i := range req.Notifications {
		item := req.Notifications[i]
		a, err := s.Send(ctx, &item)
		if err != nil {
			results[i] = domain.BulkResult{Index: i, ErrorMsg: err.Error()}
			continue
		}
		results[i] = domain.BulkResult{Index: i, Queued: true, Ack: a}
	}
	return results, nil
}

// Get loads one notification by ID.
func (s *NotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

// List returns a filtered, paginated page of notifications plus the total count.
func (s *NotificationService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.notifications.List(ctx, filter)
}

// Cancel stops a notification that has not started processing. Anything at or
// past processing is not cancellable: sends may already be in flight.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch n.Status {
	case domain.StatusPending, domain.StatusScheduled, domain.StatusQueued:
		if err := s.notifications.Cancel(ctx, id); err != nil {
			return err
		}
		s.logger.Info("notification cancelled", zap.String("id", id))
		return nil
	case domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	default:
		return fmt.Errorf("%w: status is %s", domain.ErrNotCancellable, n.Status)
	}
}

// Deliveries returns the delivery log for one notification.
func (s *NotificationService) Deliveries(ctx context.Context, id string) ([]*domain.DeliveryEntry, error) {
	if _, err := s.notifications.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListByNotification(ctx, id)
}

// GetPreferences returns the user's preferences, defaults included.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*domain.Preference, error) {
	return s.prefCache.Get(ctx, userID)
}

// UpdatePreferences persists the preference change and broadcasts an
// invalidation so every process drops its cached copy.
func (s *NotificationService) UpdatePreferences(ctx context.Context, p *domain.Preference) error {
	p.UpdatedAt = s.now()
	if err := s.prefRepo.Upsert(ctx, p); err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}
	s.prefCache.Invalidate(p.UserID)
	if err := s.pub.Publish(ctx, bus.SubjectPrefs, p.UserID); err != nil {
		// Local state is already correct; remote caches self-heal on the next
		// invalidation event for this user.
		s.logger.Error("preference invalidation broadcast failed",
			zap.String("user_id", p.UserID), zap.Error(err))
	}
	return nil
}

// ReloadRules broadcasts a rules-reload to the whole fleet, this process
// included: the local engine reloads through the same bus subscription.
func (s *NotificationService) ReloadRules(ctx context.Context) error {
	if err := s.engine.Reload(ctx); err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, bus.SubjectRules, "reload"); err != nil {
		s.logger.Error("rules reload broadcast failed", zap.Error(err))
	}
	return nil
}

// acceptSuppressed persists a frequency-capped notification with an audit
// trail but never enqueues it.
func (s *NotificationService) acceptSuppressed(ctx context.Context, n *domain.Notification) (*domain.Ack, error) {
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist suppressed notification: %w", err)
	}
	for _, recipient := range n.Recipients {
		entry := &domain.DeliveryEntry{
			ID:             uuid.NewString(),
			NotificationID: n.ID,
			Recipient:      recipient,
			Type:           n.Type,
			Outcome:        domain.OutcomeSuppressed,
			CreatedAt:      s.now(),
		}
		if err := s.deliveries.Append(ctx, entry); err != nil {
			s.logger.Error("failed to record suppression",
				zap.String("id", n.ID), zap.Error(err))
		}
	}
	s.logger.Info("notification suppressed",
		zap.String("id", n.ID), zap.String("type", n.Type))
	return ack(n), nil
}

// resolveUnion computes the ack's channel set: the union of each recipient's
// resolved channels, in stable channel order. Workers re-resolve per recipient
// at dispatch time; this union is informational.
func (s *NotificationService) resolveUnion(ctx context.Context, n *domain.Notification, now time.Time) []domain.Channel {
	set := make(map[domain.Channel]bool, 4)
	for _, recipient := range n.Recipients {
		pref, err := s.prefCache.Get(ctx, recipient)
		if err != nil {
			s.logger.Warn("preference lookup failed during resolution, using defaults",
				zap.String("user_id", recipient), zap.Error(err))
			pref = domain.DefaultPreference(recipient)
		}
		for _, ch := range rules.Resolve(n, pref, now) {
			set[ch] = true
		}
	}
	var out []domain.Channel
	for _, ch := range domain.AllChannels() {
		if set[ch] {
			out = append(out, ch)
		}
	}
	return out
}

func ack(n *domain.Notification) *domain.Ack {
	return &domain.Ack{
		ID:       n.ID,
		Status:   n.Status,
		Priority: n.Priority,
		Channels: n.ResolvedChannels,
	}
}
