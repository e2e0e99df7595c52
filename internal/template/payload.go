package template

import (
	"strings"
	"unicode/utf8"

	"github.com/vowsuite/notify/internal/domain"
)

// SMSMaxLength is the hard cap on a rendered SMS body.
const SMSMaxLength = 160

// emailLayout wraps rendered content into the base email frame.
const (
	emailHeader = `<html><body><div class="header"><h2>{{subject}}</h2></div><div class="content">`
	emailFooter = `</div><div class="footer"><p>You are receiving this because of your notification settings.</p></div></body></html>`
)

// BuildEmail wraps the rendered content body into the base layout and derives
// a plain-text fallback by stripping markup.
func BuildEmail(r *Rendered) domain.EmailPayload {
	header := strings.Replace(emailHeader, "{{subject}}", r.Subject, 1)
	return domain.EmailPayload{
		Subject:   r.Subject,
		HTML:      header + r.Body + emailFooter,
		PlainText: StripTags(r.Body),
	}
}

// BuildSMS truncates the rendered text to SMSMaxLength characters and tags it
// with the detected encoding class. The encoding affects provider cost and
// segment counting: UCS-2 halves the per-segment budget.
func BuildSMS(r *Rendered) domain.SMSPayload {
	text := StripTags(r.Body)
	if utf8.RuneCountInString(text) > SMSMaxLength {
		// The marker must stay inside GSM-7: a multibyte ellipsis would
		// flip the encoding class and halve the segment budget.
		runes := []rune(text)
		text = string(runes[:SMSMaxLength-3]) + "..."
	}
	return domain.SMSPayload{
		Text:     text,
		Encoding: DetectEncoding(text),
	}
}

// BuildPush derives the {title, body, icon, data} push structure.
func BuildPush(n *domain.Notification, r *Rendered) domain.PushPayload {
	title := r.Subject
	if title == "" {
		title = n.Title
	}
	return domain.PushPayload{
		Title: title,
		Body:  r.Body,
		Icon:  n.Metadata["icon"],
		Data: map[string]string{
			"notification_id": n.ID,
			"type":            n.Type,
			"priority":        string(n.Priority),
		},
	}
}

// BuildRealtime derives the structured payload written to a live socket.
func BuildRealtime(n *domain.Notification, r *Rendered) domain.RealtimePayload {
	title := r.Subject
	if title == "" {
		title = n.Title
	}
	return domain.RealtimePayload{
		Type:     n.Type,
		Title:    title,
		Message:  r.Body,
		Severity: string(n.Priority),
	}
}

// StripTags removes markup from rendered content, collapsing it to plain text.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// gsm7Set is the GSM 03.38 basic character set plus the common extension
// characters reachable with an escape.
var gsm7Set = func() map[rune]bool {
	const basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	const extension = "^{}\\[~]|€"
	set := make(map[rune]bool, len(basic)+len(extension))
	for _, r := range basic {
		set[r] = true
	}
	for _, r := range extension {
		set[r] = true
	}
	return set
}()

// DetectEncoding classifies text as GSM-7 when every rune is representable in
// the GSM 03.38 alphabet, otherwise UCS-2.
func DetectEncoding(text string) domain.SMSEncoding {
	for _, r := range text {
		if !gsm7Set[r] {
			return domain.EncodingUCS2
		}
	}
	return domain.EncodingGSM7
}
