package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/ratelimiter"
	"github.com/vowsuite/notify/internal/repository"
	"github.com/vowsuite/notify/internal/sender"
	"github.com/vowsuite/notify/internal/template"
)

type fakeRealtime struct {
	mu      sync.Mutex
	items   []sender.RealtimeItem
	outcome domain.Outcome
}

func (f *fakeRealtime) Send(_ context.Context, _ *domain.Notification, items []sender.RealtimeItem) []sender.Result {
	f.mu.Lock()
	f.items = append(f.items, items...)
	f.mu.Unlock()
	out := make([]sender.Result, len(items))
	for i, it := range items {
		out[i] = sender.Result{UserID: it.UserID, Channel: domain.ChannelRealtime, Outcome: f.outcome}
	}
	return out
}

type fakePush struct {
	mu      sync.Mutex
	items   []sender.PushItem
	outcome domain.Outcome
}

func (f *fakePush) Send(_ context.Context, _ *domain.Notification, items []sender.PushItem) []sender.Result {
	f.mu.Lock()
	f.items = append(f.items, items...)
	f.mu.Unlock()
	out := make([]sender.Result, len(items))
	for i, it := range items {
		out[i] = sender.Result{UserID: it.UserID, Channel: domain.ChannelPush, Outcome: f.outcome}
	}
	return out
}

type fakeEmail struct {
	mu      sync.Mutex
	items   []sender.EmailItem
	outcome domain.Outcome
}

func (f *fakeEmail) Send(_ context.Context, _ *domain.Notification, items []sender.EmailItem) []sender.Result {
	f.mu.Lock()
	f.items = append(f.items, items...)
	f.mu.Unlock()
	out := make([]sender.Result, len(items))
	for i, it := range items {
		out[i] = sender.Result{UserID: it.UserID, Channel: domain.ChannelEmail, Outcome: f.outcome}
	}
	return out
}

type fakeSMS struct {
	mu      sync.Mutex
	items   []sender.SMSItem
	outcome domain.Outcome
}

func (f *fakeSMS) Send(_ context.Context, _ *domain.Notification, items []sender.SMSItem) []sender.Result {
	f.mu.Lock()
	f.items = append(f.items, items...)
	f.mu.Unlock()
	out := make([]sender.Result, len(items))
	for i, it := range items {
		out[i] = sender.Result{UserID: it.UserID, Channel: domain.ChannelSMS, Outcome: f.outcome}
	}
	return out
}

type fixture struct {
	dispatcher    *Dispatcher
	notifications *repository.MockNotificationRepository
	deliveries    *repository.MockDeliveryRepository
	contacts      *repository.MockContactRepository
	prefRepo      *repository.MockPreferenceRepository
	realtime      *fakeRealtime
	push          *fakePush
	email         *fakeEmail
	sms           *fakeSMS
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		notifications: repository.NewMockNotificationRepository(),
		deliveries:    repository.NewMockDeliveryRepository(),
		contacts:      repository.NewMockContactRepository(),
		prefRepo:      repository.NewMockPreferenceRepository(),
		realtime:      &fakeRealtime{outcome: domain.OutcomeSent},
		push:          &fakePush{outcome: domain.OutcomeSent},
		email:         &fakeEmail{outcome: domain.OutcomeSent},
		sms:           &fakeSMS{outcome: domain.OutcomeSent},
	}
	f.dispatcher = NewDispatcher(
		f.notifications,
		f.deliveries,
		f.contacts,
		prefs.NewCache(f.prefRepo, logger),
		template.NewEngine(logger),
		ratelimiter.New(1000),
		Senders{Realtime: f.realtime, Push: f.push, Email: f.email, SMS: f.sms},
		Hooks{},
		logger,
	)
	return f
}

func (f *fixture) store(t *testing.T, n *domain.Notification) {
	t.Helper()
	if err := f.notifications.Create(context.Background(), n); err != nil {
		t.Fatalf("store notification: %v", err)
	}
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	n, err := f.notifications.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load notification: %v", err)
	}
	return n.Status
}

func baseNotification(id string) *domain.Notification {
	return &domain.Notification{
		ID:         id,
		Type:       "vendor_update",
		Priority:   domain.PriorityMedium,
		Title:      "Vendor updated",
		Body:       "The florist changed the delivery window.",
		Recipients: []string{"user-1"},
		Status:     domain.StatusQueued,
	}
}

func TestDispatcherDeliversOnFirstSuccessfulChannel(t *testing.T) {
	f := newFixture(t)
	n := baseNotification("n1")
	n.RequestedChannels = []domain.Channel{domain.ChannelRealtime}
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
	if len(f.realtime.items) != 1 || f.realtime.items[0].UserID != "user-1" {
		t.Fatalf("realtime items = %+v, want one for user-1", f.realtime.items)
	}
	entries := f.deliveries.Entries()
	if len(entries) != 1 {
		t.Fatalf("delivery entries = %d, want 1", len(entries))
	}
	if entries[0].Outcome != domain.OutcomeSent || entries[0].Channel != domain.ChannelRealtime {
		t.Fatalf("entry = %+v, want sent on realtime", entries[0])
	}
}

func TestDispatcherFansOutToContactChannels(t *testing.T) {
	f := newFixture(t)
	f.contacts.SetContact(&domain.Contact{UserID: "user-1", Email: "u1@example.com", Phone: "+15550001111"})
	f.contacts.AddPushSubscription(&domain.PushSubscription{ID: "sub-1", UserID: "user-1", Endpoint: "https://push", Token: "tok"})

	n := baseNotification("n1")
	n.Type = "payment_failed"
	n.Priority = domain.PriorityCritical
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
	if len(f.realtime.items) != 1 || len(f.push.items) != 1 || len(f.email.items) != 1 || len(f.sms.items) != 1 {
		t.Fatalf("fan-out counts = rt:%d push:%d email:%d sms:%d, want 1 each",
			len(f.realtime.items), len(f.push.items), len(f.email.items), len(f.sms.items))
	}
	if f.email.items[0].Address != "u1@example.com" {
		t.Fatalf("email address = %q", f.email.items[0].Address)
	}
	if f.sms.items[0].Phone != "+15550001111" {
		t.Fatalf("sms phone = %q", f.sms.items[0].Phone)
	}
	if len(f.deliveries.Entries()) != 4 {
		t.Fatalf("delivery entries = %d, want 4", len(f.deliveries.Entries()))
	}
}

func TestDispatcherMissingAddressesRecordedNotSent(t *testing.T) {
	f := newFixture(t)
	// No contact row at all: email and sms have nowhere to go.
	n := baseNotification("n1")
	n.Priority = domain.PriorityCritical
	n.Type = "emergency_alert"
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	// Realtime still succeeds, so the notification is delivered.
	if got := f.status(t, "n1"); got != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
	if len(f.email.items) != 0 || len(f.sms.items) != 0 {
		t.Fatalf("email/sms senders should not be called without addresses")
	}
	permanent := 0
	for _, e := range f.deliveries.Entries() {
		if e.Outcome == domain.OutcomePermanent {
			permanent++
		}
	}
	if permanent != 2 {
		t.Fatalf("permanent entries = %d, want 2 (email and sms)", permanent)
	}
}

func TestDispatcherAllChannelsFailedMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.realtime.outcome = domain.OutcomeFailed
	f.push.outcome = domain.OutcomeFailed

	n := baseNotification("n1")
	n.Priority = domain.PriorityHigh
	n.Type = "payment_due"
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestDispatcherAbortedLimiterWaitFailsChannel(t *testing.T) {
	f := newFixture(t)
	n := baseNotification("n1")
	n.RequestedChannels = []domain.Channel{domain.ChannelRealtime}
	f.store(t, n)

	// Cancelled before dispatch: the limiter wait aborts and no provider
	// call happens, but every (recipient, channel) pair must still settle.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.dispatcher.process(ctx, queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if len(f.realtime.items) != 0 {
		t.Fatalf("no send should have been attempted, got %+v", f.realtime.items)
	}
	entries := f.deliveries.Entries()
	if len(entries) != 1 {
		t.Fatalf("delivery entries = %d, want 1", len(entries))
	}
	if entries[0].Outcome != domain.OutcomeFailed || entries[0].Channel != domain.ChannelRealtime {
		t.Fatalf("entry = %+v, want failed on realtime", entries[0])
	}
}

func TestDispatcherNoEligibleChannel(t *testing.T) {
	f := newFixture(t)
	if err := f.prefRepo.Upsert(context.Background(), &domain.Preference{UserID: "user-1"}); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}

	n := baseNotification("n1") // medium: every channel gated by its flag
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusNoChannel {
		t.Fatalf("status = %s, want no_channel", got)
	}
	entries := f.deliveries.Entries()
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeNoChannel {
		t.Fatalf("entries = %+v, want one no_channel entry", entries)
	}
}

func TestDispatcherExpiredAtDequeue(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)
	n := baseNotification("n1")
	n.Recipients = []string{"user-1", "user-2"}
	n.ExpiresAt = &past
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusExpired {
		t.Fatalf("status = %s, want expired", got)
	}
	if len(f.realtime.items) != 0 {
		t.Fatalf("nothing should be sent for an expired notification")
	}
	entries := f.deliveries.Entries()
	if len(entries) != 2 {
		t.Fatalf("expired entries = %d, want one per recipient", len(entries))
	}
	for _, e := range entries {
		if e.Outcome != domain.OutcomeExpired {
			t.Fatalf("entry outcome = %s, want expired", e.Outcome)
		}
	}
}

func TestDispatcherSkipsCancelled(t *testing.T) {
	f := newFixture(t)
	n := baseNotification("n1")
	n.Status = domain.StatusCancelled
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled untouched", got)
	}
	if len(f.deliveries.Entries()) != 0 {
		t.Fatalf("cancelled notification must not produce delivery entries")
	}
}

func TestDispatcherRequeueSkipsAlreadySentChannels(t *testing.T) {
	f := newFixture(t)
	n := baseNotification("n1")
	n.RequestedChannels = []domain.Channel{domain.ChannelRealtime}
	n.Status = domain.StatusProcessing // crashed mid-flight last time
	f.store(t, n)

	if err := f.deliveries.Append(context.Background(), &domain.DeliveryEntry{
		ID:             "e1",
		NotificationID: "n1",
		Recipient:      "user-1",
		Type:           n.Type,
		Channel:        domain.ChannelRealtime,
		Outcome:        domain.OutcomeSent,
		CreatedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("seed delivery entry: %v", err)
	}

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if len(f.realtime.items) != 0 {
		t.Fatalf("already-sent channel must not be sent again on requeue")
	}
	if got := f.status(t, "n1"); got != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
}

func TestDispatcherDefersNotYetDue(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(time.Hour)
	n := baseNotification("n1")
	n.ScheduledAt = &future
	f.store(t, n)

	f.dispatcher.process(context.Background(), queue.Item{NotificationID: "n1", Priority: n.Priority})

	if got := f.status(t, "n1"); got != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled (re-deferred)", got)
	}
	if len(f.realtime.items) != 0 {
		t.Fatalf("nothing should be sent before the scheduled time")
	}
}

func TestPoolProcessesEnqueuedItems(t *testing.T) {
	f := newFixture(t)
	n := baseNotification("n1")
	n.RequestedChannels = []domain.Channel{domain.ChannelRealtime}
	f.store(t, n)

	lanes := queue.New()
	pool := NewPool(lanes, f.dispatcher, [domain.NumLanes]int{1, 1, 1, 1}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	if err := lanes.Enqueue(queue.Item{NotificationID: "n1", Priority: n.Priority}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.status(t, "n1") != domain.StatusDelivered {
		if time.Now().After(deadline) {
			t.Fatalf("notification never processed, status = %s", f.status(t, "n1"))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	pool.Wait()
}

func TestSchedulerEnqueuesDueOnly(t *testing.T) {
	f := newFixture(t)
	lanes := queue.New()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := baseNotification("due")
	due.Status = domain.StatusScheduled
	due.ScheduledAt = &past
	f.store(t, due)

	notDue := baseNotification("later")
	notDue.Status = domain.StatusScheduled
	notDue.ScheduledAt = &future
	f.store(t, notDue)

	s := NewScheduler(f.notifications, lanes, time.Second, nil, zap.NewNop())
	s.tick(context.Background())

	item, ok := lanes.Dequeue(contextWithTimeout(t, 100*time.Millisecond), domain.PriorityMedium)
	if !ok || item.NotificationID != "due" {
		t.Fatalf("dequeued = %+v ok=%v, want the due notification", item, ok)
	}
	if got := f.status(t, "due"); got != domain.StatusQueued {
		t.Fatalf("due status = %s, want queued", got)
	}
	if got := f.status(t, "later"); got != domain.StatusScheduled {
		t.Fatalf("later status = %s, want still scheduled", got)
	}
	if _, ok := lanes.Dequeue(contextWithTimeout(t, 50*time.Millisecond), domain.PriorityMedium); ok {
		t.Fatalf("only the due notification should be enqueued")
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
