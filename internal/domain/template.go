package domain

import "time"

// DefaultLanguage is the fallback language when a recipient's language has
// no template registered.
const DefaultLanguage = "en"

// Template is a message template identified by (type, channel, language).
// Subject is used by email; other channels use Body only. A template must
// compile before it is registered — invalid syntax never enters the active set.
type Template struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Channel   Channel   `json:"channel"`
	Language  string    `json:"language"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SMSEncoding classifies the character set a rendered SMS requires.
// UCS-2 halves the per-segment character budget and raises provider cost.
type SMSEncoding string

const (
	EncodingGSM7 SMSEncoding = "gsm7"
	EncodingUCS2 SMSEncoding = "ucs2"
)

// EmailPayload is the rendered per-channel output for email.
type EmailPayload struct {
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	PlainText string `json:"plain_text"`
}

// SMSPayload is the rendered per-channel output for SMS.
// Text is always at most 160 characters.
type SMSPayload struct {
	Text     string      `json:"text"`
	Encoding SMSEncoding `json:"encoding"`
}

// PushPayload is the rendered per-channel output for mobile/web push.
type PushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// RealtimePayload is the structured payload written to a live socket.
type RealtimePayload struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}
