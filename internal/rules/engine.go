package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/repository"
)

// Transformer rewrites a notification's payload in place. Registered by name
// so rules can reference transformers without the engine knowing their logic.
type Transformer func(*domain.Notification)

// Engine evaluates routing rules for a notification type, in declaration
// order, and applies the actions of every matching rule cumulatively onto a
// working copy. The input notification is never mutated.
//
// A rule with a malformed or unknown condition fails closed: it simply does
// not match. One bad rule must never block unrelated notifications.
type Engine struct {
	ruleRepo     repository.RuleRepository
	deliveries   repository.DeliveryRepository
	prefCache    *prefs.Cache
	transformers map[string]Transformer
	now          func() time.Time
	logger       *zap.Logger

	mu    sync.RWMutex
	rules map[string][]*domain.RoutingRule // keyed by notification type, ordered
}

func NewEngine(
	ruleRepo repository.RuleRepository,
	deliveries repository.DeliveryRepository,
	prefCache *prefs.Cache,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		ruleRepo:     ruleRepo,
		deliveries:   deliveries,
		prefCache:    prefCache,
		transformers: make(map[string]Transformer),
		now:          time.Now,
		rules:        make(map[string][]*domain.RoutingRule),
		logger:       logger,
	}
}

// RegisterTransformer adds a named payload transformer.
func (e *Engine) RegisterTransformer(name string, t Transformer) {
	e.transformers[name] = t
}

// Reload replaces the cached rule set from the repository. Called at startup
// and from the bus subscriber when rules change.
func (e *Engine) Reload(ctx context.Context) error {
	rules, err := e.ruleRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	byType := make(map[string][]*domain.RoutingRule)
	for _, r := range rules {
		byType[r.Type] = append(byType[r.Type], r)
	}
	e.mu.Lock()
	e.rules = byType
	e.mu.Unlock()
	e.logger.Info("routing rules loaded", zap.Int("count", len(rules)))
	return nil
}

// Apply evaluates all rules for the notification's type and returns a new
// notification with the matching rules' actions applied. A frequency-capped
// notification comes back with status suppressed; the caller decides whether
// to persist or drop it.
func (e *Engine) Apply(ctx context.Context, n *domain.Notification) *domain.Notification {
	out := n.Clone()

	e.mu.RLock()
	rules := e.rules[n.Type]
	e.mu.RUnlock()

	for _, rule := range rules {
		matched, capped := e.matches(ctx, rule, out)
		if !matched {
			continue
		}
		if capped {
			out.Status = domain.StatusSuppressed
			e.logger.Info("notification suppressed by frequency cap",
				zap.String("id", out.ID),
				zap.String("type", out.Type),
				zap.String("rule_id", rule.ID),
			)
			return out
		}
		e.applyActions(rule, out)
	}
	return out
}

// matches evaluates every condition on the rule. The second return value is
// true when a frequency cap was the deciding condition: the rule matched
// because the recipient already hit the cap.
func (e *Engine) matches(ctx context.Context, rule *domain.RoutingRule, n *domain.Notification) (matched, capped bool) {
	cond := rule.Conditions

	if cond.TimeFrom != "" || cond.TimeTo != "" {
		if !inWindow(cond.TimeFrom, cond.TimeTo, e.now()) {
			return false, false
		}
	}

	if cond.PreferenceKey != "" {
		if cond.PreferenceValue == nil {
			// Malformed: a key with no expected value. Fail closed.
			e.logger.Warn("rule has preference key without value, skipping",
				zap.String("rule_id", rule.ID))
			return false, false
		}
		for _, userID := range n.Recipients {
			p, err := e.prefCache.Get(ctx, userID)
			if err != nil {
				e.logger.Warn("preference lookup failed, rule fails closed",
					zap.String("rule_id", rule.ID), zap.Error(err))
				return false, false
			}
			got, ok := preferenceFlag(p, cond.PreferenceKey)
			if !ok {
				e.logger.Warn("rule references unknown preference key, skipping",
					zap.String("rule_id", rule.ID), zap.String("key", cond.PreferenceKey))
				return false, false
			}
			if got != *cond.PreferenceValue {
				return false, false
			}
		}
	}

	if cond.FrequencyMax > 0 && cond.FrequencyWindow > 0 {
		since := e.now().Add(-cond.FrequencyWindow)
		for _, userID := range n.Recipients {
			count, err := e.deliveries.CountSince(ctx, userID, n.Type, since)
			if err != nil {
				e.logger.Warn("frequency count failed, rule fails closed",
					zap.String("rule_id", rule.ID), zap.Error(err))
				return false, false
			}
			if count >= cond.FrequencyMax {
				return true, true
			}
		}
		// Under the cap: the frequency condition alone does not make
		// the rule match, it only arms the suppression path.
		if cond.TimeFrom == "" && cond.TimeTo == "" && cond.PreferenceKey == "" {
			return false, false
		}
	}

	return true, false
}

func (e *Engine) applyActions(rule *domain.RoutingRule, n *domain.Notification) {
	act := rule.Actions

	if act.SetPriority != "" {
		if act.SetPriority.IsValid() {
			n.Priority = act.SetPriority
		} else {
			e.logger.Warn("rule sets unknown priority, ignored",
				zap.String("rule_id", rule.ID), zap.String("priority", string(act.SetPriority)))
		}
	}
	for _, ch := range act.AddChannels {
		if ch.IsValid() {
			n.ForcedChannels = appendUnique(n.ForcedChannels, ch)
		}
	}
	for _, ch := range act.RemoveChannels {
		if ch.IsValid() {
			n.ExcludedChannels = appendUnique(n.ExcludedChannels, ch)
		}
	}
	if act.Delay > 0 {
		until := e.now().Add(act.Delay)
		if n.ScheduledAt == nil || n.ScheduledAt.Before(until) {
			n.ScheduledAt = &until
		}
	}
	if act.AggregateKey != "" {
		n.AggregationKey = act.AggregateKey
	}
	if act.Transformer != "" {
		if t, ok := e.transformers[act.Transformer]; ok {
			t(n)
		} else {
			e.logger.Warn("rule references unknown transformer, ignored",
				zap.String("rule_id", rule.ID), zap.String("transformer", act.Transformer))
		}
	}
}

// preferenceFlag resolves a rule's preference key to the user's flag value.
func preferenceFlag(p *domain.Preference, key string) (bool, bool) {
	switch key {
	case "realtime":
		return p.Realtime, true
	case "push":
		return p.Push, true
	case "email":
		return p.Email, true
	case "sms":
		return p.SMS, true
	case "digest":
		return p.Digest, true
	}
	return false, false
}

// inWindow reports whether now falls inside the "HH:MM" window, which may
// wrap midnight. Malformed bounds fail closed.
func inWindow(from, to string, now time.Time) bool {
	f, err1 := time.Parse("15:04", from)
	t, err2 := time.Parse("15:04", to)
	if err1 != nil || err2 != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	start := f.Hour()*60 + f.Minute()
	end := t.Hour()*60 + t.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

func appendUnique(list []domain.Channel, ch domain.Channel) []domain.Channel {
	for _, c := range list {
		if c == ch {
			return list
		}
	}
	return append(list, ch)
}
