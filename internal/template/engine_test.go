package template_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/template"
)

func newEngine(t *testing.T, templates ...*domain.Template) *template.Engine {
	t.Helper()
	e := template.NewEngine(zap.NewNop())
	for _, tpl := range templates {
		if err := e.Register(tpl); err != nil {
			t.Fatalf("register template: %v", err)
		}
	}
	return e
}

func TestEngine_InvalidTemplateNeverRegistered(t *testing.T) {
	e := template.NewEngine(zap.NewNop())
	err := e.Register(&domain.Template{
		Type: "reminder_24h", Channel: domain.ChannelEmail, Language: "en",
		Body: "{{.broken", // unclosed action
	})
	if err == nil {
		t.Fatal("expected compile error for invalid syntax")
	}

	// The generic fallback must still serve renders for this key.
	r, renderErr := e.Render("reminder_24h", domain.ChannelEmail, "en",
		map[string]string{"title": "Hi", "body": "there"})
	if renderErr != nil {
		t.Fatalf("generic fallback should serve: %v", renderErr)
	}
	if r.Body == "" {
		t.Fatal("expected non-empty generic render")
	}
}

func TestEngine_LanguageFallbackChain(t *testing.T) {
	e := newEngine(t,
		&domain.Template{Type: "rsvp_deadline", Channel: domain.ChannelSMS, Language: "en",
			Body: "RSVP closes {{.deadline}}"},
		&domain.Template{Type: "rsvp_deadline", Channel: domain.ChannelSMS, Language: "tr",
			Body: "LCV son tarihi {{.deadline}}"},
	)

	r, err := e.Render("rsvp_deadline", domain.ChannelSMS, "tr", map[string]string{"deadline": "1 Haziran"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.Body, "LCV") {
		t.Fatalf("expected Turkish template, got %q", r.Body)
	}

	// Unregistered language falls back to the default language.
	r, err = e.Render("rsvp_deadline", domain.ChannelSMS, "fr", map[string]string{"deadline": "June 1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.Body, "RSVP closes") {
		t.Fatalf("expected default-language template, got %q", r.Body)
	}

	// Unknown type falls all the way back to the generic per-channel template.
	r, err = e.Render("unknown_type", domain.ChannelSMS, "en",
		map[string]string{"title": "Heads up", "body": "venue changed"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Body, "Heads up") {
		t.Fatalf("expected generic render with static text, got %q", r.Body)
	}
}

func TestEngine_MissingVariablesRenderEmpty(t *testing.T) {
	e := newEngine(t, &domain.Template{
		Type: "payment_due", Channel: domain.ChannelEmail, Language: "en",
		Subject: "Payment due",
		Body:    "Hello {{.first_name}}, your balance of {{.amount}} is due.",
	})

	r, err := e.Render("payment_due", domain.ChannelEmail, "en", nil)
	if err != nil {
		t.Fatalf("missing variables must not fail the render: %v", err)
	}
	if r.Body != "Hello , your balance of  is due." {
		t.Fatalf("expected empty substitutions, got %q", r.Body)
	}
	// Static text survives with no personalization supplied at all.
	if r.Subject != "Payment due" {
		t.Fatalf("expected static subject, got %q", r.Subject)
	}
}

func TestEngine_HelperFunctions(t *testing.T) {
	e := newEngine(t, &domain.Template{
		Type: "guest_update", Channel: domain.ChannelSMS, Language: "en",
		Body: `{{.count}} {{pluralize 2 "guest" "guests"}} — {{upper .name}} — {{default "friend" .nickname}}`,
	})

	r, err := e.Render("guest_update", domain.ChannelSMS, "en",
		map[string]string{"count": "2", "name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"guests", "ADA", "friend"} {
		if !strings.Contains(r.Body, want) {
			t.Fatalf("expected %q in %q", want, r.Body)
		}
	}
}

func TestBuildEmail_LayoutAndPlainText(t *testing.T) {
	p := template.BuildEmail(&template.Rendered{
		Subject: "Tasting confirmed",
		Body:    "<p>See you <b>Saturday</b> at noon.</p>",
	})

	if !strings.Contains(p.HTML, "Tasting confirmed") {
		t.Fatal("layout must carry the subject into the header")
	}
	if !strings.Contains(p.HTML, "footer") {
		t.Fatal("layout must append the footer")
	}
	if strings.ContainsAny(p.PlainText, "<>") {
		t.Fatalf("plain text must be stripped of markup, got %q", p.PlainText)
	}
	if p.PlainText != "See you Saturday at noon." {
		t.Fatalf("unexpected plain text %q", p.PlainText)
	}
}

func TestBuildSMS_TruncationAndEncoding(t *testing.T) {
	long := strings.Repeat("All the details you could ever need. ", 20)
	p := template.BuildSMS(&template.Rendered{Body: long})

	if got := utf8.RuneCountInString(p.Text); got > template.SMSMaxLength {
		t.Fatalf("sms text length %d exceeds %d", got, template.SMSMaxLength)
	}
	if p.Encoding != domain.EncodingGSM7 {
		// Truncating a GSM-7 message must not flip it to UCS-2.
		t.Fatalf("expected gsm7 after truncation, got %s", p.Encoding)
	}
	if !strings.HasSuffix(p.Text, "...") {
		t.Fatalf("truncated text should end with the marker, got %q", p.Text)
	}

	short := template.BuildSMS(&template.Rendered{Body: "Dinner at 7pm"})
	if short.Encoding != domain.EncodingGSM7 {
		t.Fatalf("plain ASCII must classify as gsm7, got %s", short.Encoding)
	}

	unicodeMsg := template.BuildSMS(&template.Rendered{Body: "Düğün yarın 🎉"})
	if unicodeMsg.Encoding != domain.EncodingUCS2 {
		t.Fatalf("emoji must classify as ucs2, got %s", unicodeMsg.Encoding)
	}
}

func TestBuildPushAndRealtime(t *testing.T) {
	n := &domain.Notification{
		ID: "n1", Type: "task_overdue", Priority: domain.PriorityHigh,
		Title: "Task overdue", Metadata: map[string]string{"icon": "/icons/task.png"},
	}
	r := &template.Rendered{Subject: "Task overdue", Body: "Book the florist"}

	push := template.BuildPush(n, r)
	if push.Title != "Task overdue" || push.Icon != "/icons/task.png" {
		t.Fatalf("unexpected push payload: %+v", push)
	}
	if push.Data["notification_id"] != "n1" || push.Data["priority"] != "high" {
		t.Fatalf("push data missing identifiers: %+v", push.Data)
	}

	rt := template.BuildRealtime(n, r)
	if rt.Type != "task_overdue" || rt.Severity != "high" || rt.Message != "Book the florist" {
		t.Fatalf("unexpected realtime payload: %+v", rt)
	}
}
