package domain

import "time"

// Channel is one delivery medium for a notification.
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelRealtime, ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// AllChannels is every channel the system knows about, in fan-out order.
// A resolved channel set is always a subset of this.
func AllChannels() []Channel {
	return []Channel{ChannelRealtime, ChannelPush, ChannelEmail, ChannelSMS}
}

// Priority selects the dispatch lane. Critical is processed first and with
// the largest concurrency budget.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// NumLanes is the number of dispatch lanes, one per priority tier.
const NumLanes = 4

// LaneIndex maps a priority to its dispatch lane. Lanes are an array indexed
// by priority so adding a tier does not require wiring a new named queue.
func (p Priority) LaneIndex() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Status tracks the lifecycle of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"  // at least one channel succeeded
	StatusFailed     Status = "failed"     // every resolved channel failed
	StatusExpired    Status = "expired"    // past expires_at at dequeue time
	StatusNoChannel  Status = "no_channel" // no eligible channel after resolution
	StatusSuppressed Status = "suppressed" // dropped by a frequency-cap rule
	StatusCancelled  Status = "cancelled"
)

// defaultPriorities maps well-known notification types to the priority they
// receive when the caller omits one. Unknown types default to medium.
var defaultPriorities = map[string]Priority{
	"payment_failed":    PriorityCritical,
	"emergency_alert":   PriorityCritical,
	"payment_due":       PriorityHigh,
	"task_overdue":      PriorityHigh,
	"rsvp_deadline":     PriorityHigh,
	"booking_confirmed": PriorityMedium,
	"reminder_24h":      PriorityMedium,
	"vendor_update":     PriorityMedium,
	"guest_update":      PriorityLow,
	"info":              PriorityLow,
}

// DefaultPriority returns the priority assigned to a notification type when
// the request does not set one explicitly.
func DefaultPriority(notificationType string) Priority {
	if p, ok := defaultPriorities[notificationType]; ok {
		return p
	}
	return PriorityMedium
}

// Notification is the unit of delivery intent.
type Notification struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Priority          Priority          `json:"priority"`
	Title             string            `json:"title"`
	Body              string            `json:"body"`
	Recipients        []string          `json:"recipients"`
	RequestedChannels []Channel         `json:"requested_channels,omitempty"`
	ResolvedChannels  []Channel         `json:"resolved_channels,omitempty"`
	ForcedChannels    []Channel         `json:"-"`
	ExcludedChannels  []Channel         `json:"-"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Status            Status            `json:"status"`
	AggregationKey    string            `json:"aggregation_key,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Clone returns a deep copy. The rule engine operates on a clone so the
// input notification is never mutated.
func (n *Notification) Clone() *Notification {
	c := *n
	c.Recipients = append([]string(nil), n.Recipients...)
	c.RequestedChannels = append([]Channel(nil), n.RequestedChannels...)
	c.ResolvedChannels = append([]Channel(nil), n.ResolvedChannels...)
	c.ForcedChannels = append([]Channel(nil), n.ForcedChannels...)
	c.ExcludedChannels = append([]Channel(nil), n.ExcludedChannels...)
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Expired reports whether the notification passed its expiry at the given time.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// Due reports whether the notification may be processed at the given time.
func (n *Notification) Due(now time.Time) bool {
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// SendRequest is the inbound payload for a single notification.
type SendRequest struct {
	Type        string            `json:"type"`
	Priority    Priority          `json:"priority,omitempty"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Recipients  []string          `json:"recipients"`
	Channels    []Channel         `json:"channels,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

func (r *SendRequest) Validate() error {
	if r.Type == "" {
		return ErrInvalidType
	}
	if r.Priority != "" && !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if len(r.Recipients) == 0 {
		return ErrNoRecipients
	}
	for _, u := range r.Recipients {
		if u == "" {
			return ErrNoRecipients
		}
	}
	if r.Title == "" && r.Body == "" {
		return ErrEmptyContent
	}
	if len(r.Body) > 8192 {
		return ErrContentTooLong
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
	}
	if r.ExpiresAt != nil && r.ScheduledAt != nil && r.ExpiresAt.Before(*r.ScheduledAt) {
		return ErrExpiryBeforeSchedule
	}
	return nil
}

// BulkRequest wraps a slice of send requests.
type BulkRequest struct {
	Notifications []SendRequest `json:"notifications"`
}

// Ack is returned from Send: the chosen lane and resolved channel set,
// not a delivery guarantee.
type Ack struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Priority Priority  `json:"priority"`
	Channels []Channel `json:"channels"`
}

// BulkResult is the per-item outcome of SendBulk. Never all-or-nothing:
// a validation failure on one item does not affect its siblings.
type BulkResult struct {
	Index    int    `json:"index"`
	Queued   bool   `json:"queued"`
	Ack      *Ack   `json:"ack,omitempty"`
	ErrorMsg string `json:"error,omitempty"`
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	Status   *Status
	Type     *string
	Priority *Priority
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}
