package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/repository"
)

// Scheduler polls for notifications whose scheduled time has arrived and
// moves them onto their dispatch lane. Scheduling precision is bounded by the
// poll interval; that tolerance is acceptable for reminder-class traffic.
type Scheduler struct {
	notifications repository.NotificationRepository
	lanes         *queue.Lanes
	interval      time.Duration
	onAlarm       func()
	logger        *zap.Logger
	now           func() time.Time
}

func NewScheduler(
	notifications repository.NotificationRepository,
	lanes *queue.Lanes,
	interval time.Duration,
	onAlarm func(),
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		notifications: notifications,
		lanes:         lanes,
		interval:      interval,
		onAlarm:       onAlarm,
		logger:        logger,
		now:           time.Now,
	}
}

// Run polls until ctx is cancelled. Callers run it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick enqueues every due scheduled notification. A full lane leaves the
// notification scheduled so the next tick retries it; losing it would be
// worse than delivering it late.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.notifications.FindDueScheduled(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to query due scheduled notifications", zap.Error(err))
		return
	}

	for _, n := range due {
		if err := s.lanes.Enqueue(queue.Item{NotificationID: n.ID, Priority: n.Priority}); err != nil {
			if s.onAlarm != nil {
				s.onAlarm()
			}
			s.logger.Error("lane full, leaving notification scheduled",
				zap.String("notification_id", n.ID),
				zap.String("priority", string(n.Priority)),
				zap.Error(err))
			continue
		}
		if err := s.notifications.UpdateStatus(ctx, n.ID, domain.StatusQueued); err != nil {
			s.logger.Error("failed to mark queued",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
		s.logger.Debug("scheduled notification enqueued",
			zap.String("notification_id", n.ID),
			zap.String("priority", string(n.Priority)))
	}
}
