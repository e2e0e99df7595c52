package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/ratelimiter"
	"github.com/vowsuite/notify/internal/repository"
	"github.com/vowsuite/notify/internal/rules"
	"github.com/vowsuite/notify/internal/sender"
	"github.com/vowsuite/notify/internal/template"
)

// Channel sender interfaces, satisfied by the sender package. Kept as
// interfaces so dispatcher tests can swap in recording fakes without
// standing up provider HTTP servers.
type (
	RealtimeSender interface {
		Send(ctx context.Context, n *domain.Notification, items []sender.RealtimeItem) []sender.Result
	}
	PushSender interface {
		Send(ctx context.Context, n *domain.Notification, items []sender.PushItem) []sender.Result
	}
	EmailSender interface {
		Send(ctx context.Context, n *domain.Notification, items []sender.EmailItem) []sender.Result
	}
	SMSSender interface {
		Send(ctx context.Context, n *domain.Notification, items []sender.SMSItem) []sender.Result
	}
)

// Senders groups the four channel senders handed to the dispatcher.
type Senders struct {
	Realtime RealtimeSender
	Push     PushSender
	Email    EmailSender
	SMS      SMSSender
}

// Hooks are the metric callbacks injected by metrics.WorkerHooks. Either may
// be nil in tests.
type Hooks struct {
	OnChannel func(ch domain.Channel, ok bool)
	OnFinal   func(priority domain.Priority, status domain.Status, latency time.Duration)
}

// Dispatcher turns one dequeued item into channel sends and a final status.
// One dispatcher is shared by every worker; it holds no per-notification
// state, so concurrent process calls are safe.
type Dispatcher struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	contacts      repository.ContactRepository
	prefs         *prefs.Cache
	templates     *template.Engine
	limiters      *ratelimiter.ChannelLimiters
	senders       Senders
	hooks         Hooks
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	contacts repository.ContactRepository,
	prefCache *prefs.Cache,
	templates *template.Engine,
	limiters *ratelimiter.ChannelLimiters,
	senders Senders,
	hooks Hooks,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		deliveries:    deliveries,
		contacts:      contacts,
		prefs:         prefCache,
		templates:     templates,
		limiters:      limiters,
		senders:       senders,
		hooks:         hooks,
		logger:        logger,
		now:           time.Now,
	}
}

// fanout is the per-notification work sheet: items grouped by channel plus
// results that are already terminal before any send happens (render failures,
// missing addresses).
type fanout struct {
	realtime  []sender.RealtimeItem
	push      []sender.PushItem
	email     []sender.EmailItem
	sms       []sender.SMSItem
	results   []sender.Result
	noChannel []string
}

// users lists the recipients with a pending item on the given channel.
func (f *fanout) users(ch domain.Channel) []string {
	var out []string
	switch ch {
	case domain.ChannelRealtime:
		for _, it := range f.realtime {
			out = append(out, it.UserID)
		}
	case domain.ChannelPush:
		for _, it := range f.push {
			out = append(out, it.UserID)
		}
	case domain.ChannelEmail:
		for _, it := range f.email {
			out = append(out, it.UserID)
		}
	case domain.ChannelSMS:
		for _, it := range f.sms {
			out = append(out, it.UserID)
		}
	}
	return out
}

// process handles one dequeued item end to end. It never returns an error:
// every failure mode resolves to a logged final status so the worker can move
// on to the next item.
func (d *Dispatcher) process(ctx context.Context, item queue.Item) {
	start := d.now()

	n, err := d.notifications.GetByID(ctx, item.NotificationID)
	if err != nil {
		d.logger.Error("dequeued notification not loadable",
			zap.String("notification_id", item.NotificationID), zap.Error(err))
		return
	}

	if n.Status == domain.StatusCancelled {
		d.logger.Debug("skipping cancelled notification", zap.String("notification_id", n.ID))
		return
	}

	now := d.now()
	if n.Expired(now) {
		d.expire(ctx, n, start)
		return
	}
	if !n.Due(now) {
		// Raced ahead of its schedule; hand it back to the scheduler.
		if err := d.notifications.UpdateSchedule(ctx, n.ID, *n.ScheduledAt); err != nil {
			d.logger.Error("failed to re-defer notification",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
		return
	}

	// A notification seen in processing or failed state is a requeue after a
	// crash or a partial failure; channels that already went out must not go
	// out again.
	requeue := n.Status == domain.StatusProcessing || n.Status == domain.StatusFailed

	if err := d.notifications.UpdateStatus(ctx, n.ID, domain.StatusProcessing); err != nil {
		d.logger.Error("failed to mark processing",
			zap.String("notification_id", n.ID), zap.Error(err))
	}

	f := d.fanOut(ctx, n, now, requeue)
	results := append(f.results, d.send(ctx, n, f)...)
	d.finish(ctx, n, f, results, start)
}

// fanOut resolves channels per recipient and renders each (recipient,
// channel) pair into a provider-ready item.
func (d *Dispatcher) fanOut(ctx context.Context, n *domain.Notification, now time.Time, requeue bool) *fanout {
	f := &fanout{}

	for _, recipient := range n.Recipients {
		pref, err := d.prefs.Get(ctx, recipient)
		if err != nil {
			d.logger.Error("preference lookup failed, using defaults",
				zap.String("user_id", recipient), zap.Error(err))
			pref = domain.DefaultPreference(recipient)
		}

		channels := rules.Resolve(n, pref, now)
		if len(channels) == 0 {
			f.noChannel = append(f.noChannel, recipient)
			continue
		}

		var contact *domain.Contact
		loadContact := func() *domain.Contact {
			if contact != nil {
				return contact
			}
			c, err := d.contacts.GetContact(ctx, recipient)
			if err != nil {
				d.logger.Warn("contact lookup failed",
					zap.String("user_id", recipient), zap.Error(err))
				c = &domain.Contact{UserID: recipient}
			}
			contact = c
			return contact
		}

		for _, ch := range channels {
			if requeue {
				sent, err := d.deliveries.HasOutcome(ctx, n.ID, recipient, ch, domain.OutcomeSent)
				if err == nil && sent {
					continue
				}
			}

			rendered, err := d.templates.Render(n.Type, ch, pref.Language, template.Data(n, recipient))
			if err != nil {
				f.results = append(f.results, sender.Result{
					UserID:  recipient,
					Channel: ch,
					Outcome: domain.OutcomeRenderFail,
					Detail:  err.Error(),
				})
				continue
			}

			switch ch {
			case domain.ChannelRealtime:
				f.realtime = append(f.realtime, sender.RealtimeItem{
					UserID:  recipient,
					Payload: template.BuildRealtime(n, rendered),
				})
			case domain.ChannelPush:
				subs, err := d.contacts.ListPushSubscriptions(ctx, recipient)
				if err != nil {
					f.results = append(f.results, sender.Result{
						UserID:  recipient,
						Channel: ch,
						Outcome: domain.OutcomeFailed,
						Detail:  "subscription lookup: " + err.Error(),
					})
					continue
				}
				f.push = append(f.push, sender.PushItem{
					UserID:        recipient,
					Subscriptions: subs,
					Payload:       template.BuildPush(n, rendered),
				})
			case domain.ChannelEmail:
				c := loadContact()
				if c.Email == "" {
					f.results = append(f.results, sender.Result{
						UserID:  recipient,
						Channel: ch,
						Outcome: domain.OutcomePermanent,
						Detail:  "no email address on file",
					})
					continue
				}
				f.email = append(f.email, sender.EmailItem{
					UserID:  recipient,
					Address: c.Email,
					Payload: template.BuildEmail(rendered),
				})
			case domain.ChannelSMS:
				c := loadContact()
				if c.Phone == "" {
					f.results = append(f.results, sender.Result{
						UserID:  recipient,
						Channel: ch,
						Outcome: domain.OutcomePermanent,
						Detail:  "no phone number on file",
					})
					continue
				}
				f.sms = append(f.sms, sender.SMSItem{
					UserID:  recipient,
					Phone:   c.Phone,
					Payload: template.BuildSMS(rendered),
				})
			}
		}
	}
	return f
}

// send runs the four channel senders concurrently. A failure on one channel
// never blocks or aborts its siblings.
func (d *Dispatcher) send(ctx context.Context, n *domain.Notification, f *fanout) []sender.Result {
	var (
		mu      sync.Mutex
		results []sender.Result
		wg      sync.WaitGroup
	)
	collect := func(rs []sender.Result) {
		mu.Lock()
		results = append(results, rs...)
		mu.Unlock()
	}
	run := func(ch domain.Channel, fn func() []sender.Result) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.limiters.Wait(ctx, ch); err != nil {
				// Every item on this channel must still settle: an aborted
				// wait counts each one as failed, never as vanished.
				d.logger.Warn("rate limiter wait aborted, failing channel",
					zap.String("notification_id", n.ID),
					zap.String("channel", string(ch)), zap.Error(err))
				users := f.users(ch)
				rs := make([]sender.Result, 0, len(users))
				for _, userID := range users {
					rs = append(rs, sender.Result{
						UserID:  userID,
						Channel: ch,
						Outcome: domain.OutcomeFailed,
						Detail:  "rate limiter wait: " + err.Error(),
					})
				}
				collect(rs)
				return
			}
			collect(fn())
		}()
	}

	if len(f.realtime) > 0 {
		run(domain.ChannelRealtime, func() []sender.Result {
			return d.senders.Realtime.Send(ctx, n, f.realtime)
		})
	}
	if len(f.push) > 0 {
		run(domain.ChannelPush, func() []sender.Result {
			return d.senders.Push.Send(ctx, n, f.push)
		})
	}
	if len(f.email) > 0 {
		run(domain.ChannelEmail, func() []sender.Result {
			return d.senders.Email.Send(ctx, n, f.email)
		})
	}
	if len(f.sms) > 0 {
		run(domain.ChannelSMS, func() []sender.Result {
			return d.senders.SMS.Send(ctx, n, f.sms)
		})
	}

	wg.Wait()
	return results
}

// finish records delivery log entries and resolves the final status:
// delivered if at least one channel send succeeded anywhere, no_channel if no
// recipient had an eligible channel, failed otherwise.
func (d *Dispatcher) finish(ctx context.Context, n *domain.Notification, f *fanout, results []sender.Result, start time.Time) {
	now := d.now()
	anySent := false

	for _, r := range results {
		if r.Outcome == domain.OutcomeSent {
			anySent = true
		}
		if d.hooks.OnChannel != nil {
			d.hooks.OnChannel(r.Channel, r.Outcome == domain.OutcomeSent)
		}
		d.append(ctx, &domain.DeliveryEntry{
			NotificationID: n.ID,
			Recipient:      r.UserID,
			Type:           n.Type,
			Channel:        r.Channel,
			Outcome:        r.Outcome,
			Detail:         r.Detail,
			RetryCount:     r.Retries,
		})
	}
	for _, recipient := range f.noChannel {
		d.append(ctx, &domain.DeliveryEntry{
			NotificationID: n.ID,
			Recipient:      recipient,
			Type:           n.Type,
			Outcome:        domain.OutcomeNoChannel,
		})
	}

	var status domain.Status
	switch {
	case anySent:
		status = domain.StatusDelivered
		if err := d.notifications.MarkDelivered(ctx, n.ID, now); err != nil {
			d.logger.Error("failed to mark delivered",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
	case len(results) == 0 && len(f.noChannel) > 0:
		status = domain.StatusNoChannel
		d.setStatus(ctx, n.ID, status)
	case len(results) == 0:
		// Every pair was deduplicated on a requeue; the earlier pass already
		// delivered this notification.
		status = domain.StatusDelivered
		if err := d.notifications.MarkDelivered(ctx, n.ID, now); err != nil {
			d.logger.Error("failed to mark delivered",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
	default:
		status = domain.StatusFailed
		d.setStatus(ctx, n.ID, status)
	}

	if d.hooks.OnFinal != nil {
		d.hooks.OnFinal(n.Priority, status, now.Sub(start))
	}
	d.logger.Info("notification processed",
		zap.String("notification_id", n.ID),
		zap.String("type", n.Type),
		zap.String("priority", string(n.Priority)),
		zap.String("status", string(status)),
		zap.Int("recipients", len(n.Recipients)),
		zap.Duration("latency", now.Sub(start)),
	)
}

// expire marks a notification past its expiry and records one entry per
// recipient so the audit trail shows why nothing went out.
func (d *Dispatcher) expire(ctx context.Context, n *domain.Notification, start time.Time) {
	d.setStatus(ctx, n.ID, domain.StatusExpired)
	for _, recipient := range n.Recipients {
		d.append(ctx, &domain.DeliveryEntry{
			NotificationID: n.ID,
			Recipient:      recipient,
			Type:           n.Type,
			Outcome:        domain.OutcomeExpired,
		})
	}
	if d.hooks.OnFinal != nil {
		d.hooks.OnFinal(n.Priority, domain.StatusExpired, d.now().Sub(start))
	}
	d.logger.Info("notification expired before dispatch",
		zap.String("notification_id", n.ID), zap.String("type", n.Type))
}

func (d *Dispatcher) append(ctx context.Context, e *domain.DeliveryEntry) {
	e.ID = uuid.NewString()
	e.CreatedAt = d.now()
	if err := d.deliveries.Append(ctx, e); err != nil {
		d.logger.Error("failed to append delivery entry",
			zap.String("notification_id", e.NotificationID),
			zap.String("recipient", e.Recipient),
			zap.Error(err))
	}
}

func (d *Dispatcher) setStatus(ctx context.Context, id string, status domain.Status) {
	if err := d.notifications.UpdateStatus(ctx, id, status); err != nil {
		d.logger.Error("failed to update status",
			zap.String("notification_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
