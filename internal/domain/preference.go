package domain

import "time"

// Preference is a user's channel opt-in/opt-out and quiet-hours configuration.
// Cached process-locally and invalidated by change events, not by TTL:
// staleness between invalidation events is acceptable, serving an entry after
// its invalidation event is not.
type Preference struct {
	UserID    string    `json:"user_id"`
	Realtime  bool      `json:"realtime"`
	Push      bool      `json:"push"`
	Email     bool      `json:"email"`
	SMS       bool      `json:"sms"`
	Digest    bool      `json:"digest"`
	Language  string    `json:"language"`
	QuietFrom string    `json:"quiet_from,omitempty"` // "HH:MM", empty = no quiet hours
	QuietTo   string    `json:"quiet_to,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreference is used when a user has never saved preferences.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:   userID,
		Realtime: true,
		Push:     true,
		Email:    true,
		SMS:      false,
		Language: "en",
	}
}

// Allows reports the opt-in flag for a single channel.
func (p *Preference) Allows(ch Channel) bool {
	switch ch {
	case ChannelRealtime:
		return p.Realtime
	case ChannelPush:
		return p.Push
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	}
	return false
}

// InQuietHours reports whether the given time falls inside the user's quiet
// window. Windows may wrap midnight ("22:00" → "07:00").
func (p *Preference) InQuietHours(now time.Time) bool {
	if p.QuietFrom == "" || p.QuietTo == "" {
		return false
	}
	from, err1 := time.Parse("15:04", p.QuietFrom)
	to, err2 := time.Parse("15:04", p.QuietTo)
	if err1 != nil || err2 != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	start := from.Hour()*60 + from.Minute()
	end := to.Hour()*60 + to.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// Contact holds a user's delivery addresses, read from the relational store.
type Contact struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// PushSubscription is one registered push endpoint for a user. Pruned
// permanently when the provider reports the subscription gone.
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
