package domain

import "time"

// Outcome is the terminal result of one channel attempt for one recipient.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"      // retries exhausted
	OutcomePermanent  Outcome = "permanent"   // not retryable (e.g. gone push token)
	OutcomeRenderFail Outcome = "render_fail" // no template at any fallback level
	OutcomeExpired    Outcome = "expired"
	OutcomeNoChannel  Outcome = "no_channel"
	OutcomeSuppressed Outcome = "suppressed"
)

// DeliveryEntry is an immutable record of one delivery attempt outcome.
// Entries are only ever appended; they feed auditing, the "already sent"
// dedup check, and the rule engine's frequency caps.
type DeliveryEntry struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	Recipient      string    `json:"recipient"`
	Type           string    `json:"type"`
	Channel        Channel   `json:"channel,omitempty"` // empty for notification-level outcomes
	Outcome        Outcome   `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	RetryCount     int       `json:"retry_count"`
	CreatedAt      time.Time `json:"created_at"`
}
