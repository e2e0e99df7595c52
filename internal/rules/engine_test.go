package rules_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/repository"
	"github.com/vowsuite/notify/internal/rules"
)

func newEngine(ruleList []*domain.RoutingRule, deliveries *repository.MockDeliveryRepository) *rules.Engine {
	if deliveries == nil {
		deliveries = repository.NewMockDeliveryRepository()
	}
	cache := prefs.NewCache(repository.NewMockPreferenceRepository(), zap.NewNop())
	e := rules.NewEngine(&repository.MockRuleRepository{Rules: ruleList}, deliveries, cache, zap.NewNop())
	if err := e.Reload(context.Background()); err != nil {
		panic(err)
	}
	return e
}

func reminder() *domain.Notification {
	return &domain.Notification{
		ID:         "n1",
		Type:       "reminder_24h",
		Priority:   domain.PriorityMedium,
		Title:      "Tasting tomorrow",
		Recipients: []string{"u1"},
		Status:     domain.StatusPending,
	}
}

func TestEngine_InputNeverMutated(t *testing.T) {
	e := newEngine([]*domain.RoutingRule{{
		ID: "r1", Type: "reminder_24h", Active: true,
		Actions: domain.RuleActions{SetPriority: domain.PriorityHigh},
	}}, nil)

	in := reminder()
	out := e.Apply(context.Background(), in)

	if in.Priority != domain.PriorityMedium {
		t.Fatal("input notification was mutated")
	}
	if out.Priority != domain.PriorityHigh {
		t.Fatalf("expected promoted priority on the copy, got %s", out.Priority)
	}
}

func TestEngine_ActionsApplyCumulativelyLaterWins(t *testing.T) {
	e := newEngine([]*domain.RoutingRule{
		{
			ID: "r1", Type: "reminder_24h", Position: 0, Active: true,
			Actions: domain.RuleActions{
				SetPriority: domain.PriorityLow,
				AddChannels: []domain.Channel{domain.ChannelEmail},
			},
		},
		{
			ID: "r2", Type: "reminder_24h", Position: 1, Active: true,
			Actions: domain.RuleActions{
				SetPriority:    domain.PriorityHigh,
				RemoveChannels: []domain.Channel{domain.ChannelSMS},
				AggregateKey:   "daily-reminders",
			},
		},
	}, nil)

	out := e.Apply(context.Background(), reminder())

	if out.Priority != domain.PriorityHigh {
		t.Fatalf("later rule must win for priority, got %s", out.Priority)
	}
	if len(out.ForcedChannels) != 1 || out.ForcedChannels[0] != domain.ChannelEmail {
		t.Fatalf("expected forced email channel, got %v", out.ForcedChannels)
	}
	if len(out.ExcludedChannels) != 1 || out.ExcludedChannels[0] != domain.ChannelSMS {
		t.Fatalf("expected excluded sms channel, got %v", out.ExcludedChannels)
	}
	if out.AggregationKey != "daily-reminders" {
		t.Fatalf("expected aggregation key, got %q", out.AggregationKey)
	}
}

func TestEngine_FrequencyCapSuppressesSecondDelivery(t *testing.T) {
	deliveries := repository.NewMockDeliveryRepository()
	e := newEngine([]*domain.RoutingRule{{
		ID: "r1", Type: "reminder_24h", Active: true,
		Conditions: domain.RuleConditions{
			FrequencyWindow: 24 * time.Hour,
			FrequencyMax:    1,
		},
	}}, deliveries)

	// First pass: nothing sent yet, notification goes through untouched.
	out := e.Apply(context.Background(), reminder())
	if out.Status == domain.StatusSuppressed {
		t.Fatal("first notification within the window must not be suppressed")
	}

	// Record a sent delivery inside the window, then apply again.
	_ = deliveries.Append(context.Background(), &domain.DeliveryEntry{
		ID: "d1", NotificationID: "n0", Recipient: "u1", Type: "reminder_24h",
		Channel: domain.ChannelEmail, Outcome: domain.OutcomeSent,
		CreatedAt: time.Now().Add(-time.Hour),
	})

	out = e.Apply(context.Background(), reminder())
	if out.Status != domain.StatusSuppressed {
		t.Fatalf("second notification within the window must be suppressed, got %s", out.Status)
	}
}

func TestEngine_DelayActionDefersSchedule(t *testing.T) {
	e := newEngine([]*domain.RoutingRule{{
		ID: "r1", Type: "reminder_24h", Active: true,
		Actions: domain.RuleActions{Delay: 30 * time.Minute},
	}}, nil)

	before := time.Now()
	out := e.Apply(context.Background(), reminder())

	if out.ScheduledAt == nil {
		t.Fatal("expected delay action to set a scheduled time")
	}
	if out.ScheduledAt.Before(before.Add(29 * time.Minute)) {
		t.Fatalf("scheduled time too early: %v", out.ScheduledAt)
	}
}

func TestEngine_TimeWindowOutsideDoesNotMatch(t *testing.T) {
	// A window far away from any current wall-clock minute cannot be
	// constructed reliably, so build one around now and one inverted.
	now := time.Now()
	inside := now.Add(-time.Hour).Format("15:04")
	outsideStart := now.Add(time.Hour).Format("15:04")
	outsideEnd := now.Add(2 * time.Hour).Format("15:04")

	e := newEngine([]*domain.RoutingRule{
		{
			ID: "active", Type: "reminder_24h", Position: 0, Active: true,
			Conditions: domain.RuleConditions{TimeFrom: inside, TimeTo: now.Add(time.Hour).Format("15:04")},
			Actions:    domain.RuleActions{AggregateKey: "in-window"},
		},
		{
			ID: "inactive", Type: "reminder_24h", Position: 1, Active: true,
			Conditions: domain.RuleConditions{TimeFrom: outsideStart, TimeTo: outsideEnd},
			Actions:    domain.RuleActions{SetPriority: domain.PriorityCritical},
		},
	}, nil)

	out := e.Apply(context.Background(), reminder())
	if out.AggregationKey != "in-window" {
		t.Fatal("rule inside its time window must apply")
	}
	if out.Priority == domain.PriorityCritical {
		t.Fatal("rule outside its time window must not apply")
	}
}

func TestEngine_MalformedConditionFailsClosed(t *testing.T) {
	prefTrue := true
	e := newEngine([]*domain.RoutingRule{
		{
			ID: "bad-time", Type: "reminder_24h", Position: 0, Active: true,
			Conditions: domain.RuleConditions{TimeFrom: "25:99", TimeTo: "xx:yy"},
			Actions:    domain.RuleActions{SetPriority: domain.PriorityCritical},
		},
		{
			ID: "bad-pref", Type: "reminder_24h", Position: 1, Active: true,
			Conditions: domain.RuleConditions{PreferenceKey: "carrier_pigeon", PreferenceValue: &prefTrue},
			Actions:    domain.RuleActions{SetPriority: domain.PriorityCritical},
		},
	}, nil)

	out := e.Apply(context.Background(), reminder())
	if out.Priority != domain.PriorityMedium {
		t.Fatalf("malformed conditions must fail closed, got priority %s", out.Priority)
	}
}

func TestEngine_UnknownTransformerIgnored(t *testing.T) {
	e := newEngine([]*domain.RoutingRule{{
		ID: "r1", Type: "reminder_24h", Active: true,
		Actions: domain.RuleActions{Transformer: "does-not-exist", AggregateKey: "still-applies"},
	}}, nil)

	out := e.Apply(context.Background(), reminder())
	if out.AggregationKey != "still-applies" {
		t.Fatal("other actions must still apply when the transformer is unknown")
	}
}

func TestEngine_RegisteredTransformerRuns(t *testing.T) {
	e := newEngine([]*domain.RoutingRule{{
		ID: "r1", Type: "reminder_24h", Active: true,
		Actions: domain.RuleActions{Transformer: "tag"},
	}}, nil)
	e.RegisterTransformer("tag", func(n *domain.Notification) {
		if n.Metadata == nil {
			n.Metadata = map[string]string{}
		}
		n.Metadata["tagged"] = "yes"
	})

	out := e.Apply(context.Background(), reminder())
	if out.Metadata["tagged"] != "yes" {
		t.Fatal("registered transformer did not run")
	}
}
