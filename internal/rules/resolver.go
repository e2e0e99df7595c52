package rules

import (
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// Resolve computes the final channel set for one recipient by merging the
// rule overrides carried on the notification with the recipient's preferences.
//
// Tier defaults:
//
//	critical → all four channels, unconditionally. This deliberately
//	           overrides user opt-outs: critical alerts must reach the user.
//	high     → realtime + push always; email only if opted in.
//	medium   → every channel gated individually by its preference flag.
//	low      → realtime only, and only if opted in.
//
// Quiet hours suppress push and sms for non-critical priorities. Rule-forced
// channels are added first, rule-excluded channels are removed last, and the
// result is de-duplicated. An empty result is valid: the caller records a
// "no eligible channel" outcome rather than dropping silently.
func Resolve(n *domain.Notification, pref *domain.Preference, now time.Time) []domain.Channel {
	set := make(map[domain.Channel]bool, 4)

	for _, ch := range n.ForcedChannels {
		set[ch] = true
	}

	switch n.Priority {
	case domain.PriorityCritical:
		for _, ch := range domain.AllChannels() {
			set[ch] = true
		}
	case domain.PriorityHigh:
		set[domain.ChannelRealtime] = true
		set[domain.ChannelPush] = true
		if pref.Email {
			set[domain.ChannelEmail] = true
		}
	case domain.PriorityMedium:
		for _, ch := range domain.AllChannels() {
			if pref.Allows(ch) {
				set[ch] = true
			}
		}
	default: // low
		if pref.Realtime {
			set[domain.ChannelRealtime] = true
		}
	}

	// A caller-supplied channel list narrows the defaults (critical and
	// rule-forced channels are exempt from narrowing).
	if len(n.RequestedChannels) > 0 && n.Priority != domain.PriorityCritical {
		requested := make(map[domain.Channel]bool, len(n.RequestedChannels))
		for _, ch := range n.RequestedChannels {
			requested[ch] = true
		}
		for _, ch := range n.ForcedChannels {
			requested[ch] = true
		}
		for ch := range set {
			if !requested[ch] {
				delete(set, ch)
			}
		}
	}

	if n.Priority != domain.PriorityCritical && pref.InQuietHours(now) {
		delete(set, domain.ChannelPush)
		delete(set, domain.ChannelSMS)
	}

	for _, ch := range n.ExcludedChannels {
		delete(set, ch)
	}

	// Stable order for logging, persistence, and tests.
	var out []domain.Channel
	for _, ch := range domain.AllChannels() {
		if set[ch] {
			out = append(out, ch)
		}
	}
	return out
}
