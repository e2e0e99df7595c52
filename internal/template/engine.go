package template

import (
	"context"
	"fmt"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/repository"
)

// funcMap holds the helper functions available to every template.
var funcMap = texttemplate.FuncMap{
	"date": func(layout string, t time.Time) string {
		return t.Format(layout)
	},
	"currency": func(amount float64) string {
		return fmt.Sprintf("$%.2f", amount)
	},
	"pluralize": func(n int, singular, plural string) string {
		if n == 1 {
			return singular
		}
		return plural
	},
	"upper": strings.ToUpper,
	"default": func(fallback, value string) string {
		if value == "" {
			return fallback
		}
		return value
	},
}

type compiled struct {
	subject *texttemplate.Template
	body    *texttemplate.Template
}

type key struct {
	typ     string
	channel domain.Channel
	lang    string
}

// Rendered is the channel-agnostic output of template resolution: a subject
// line (email only) and a body. Payload builders shape it per channel.
type Rendered struct {
	Subject string
	Body    string
}

// Engine compiles and renders message templates keyed by
// (type, channel, language). Resolution falls back in order:
// requested language → default language → a built-in generic per-channel
// template. Only templates that compile are ever registered.
type Engine struct {
	logger *zap.Logger

	mu        sync.RWMutex
	templates map[key]compiled
	generic   map[domain.Channel]compiled
}

func NewEngine(logger *zap.Logger) *Engine {
	e := &Engine{
		logger:    logger,
		templates: make(map[key]compiled),
		generic:   make(map[domain.Channel]compiled),
	}
	e.registerGenerics()
	return e
}

// registerGenerics installs the built-in last-resort template per channel.
// These render the notification's own title and body verbatim.
func (e *Engine) registerGenerics() {
	specs := map[domain.Channel]struct{ subject, body string }{
		domain.ChannelEmail:    {subject: "{{.title}}", body: "<p>{{.body}}</p>"},
		domain.ChannelSMS:      {body: "{{.title}}{{if .body}}: {{.body}}{{end}}"},
		domain.ChannelPush:     {subject: "{{.title}}", body: "{{.body}}"},
		domain.ChannelRealtime: {subject: "{{.title}}", body: "{{.body}}"},
	}
	for ch, spec := range specs {
		c, err := compile("generic/"+string(ch), spec.subject, spec.body)
		if err != nil {
			// Built-ins are static text; a compile failure here is a
			// programming error.
			panic(err)
		}
		e.generic[ch] = c
	}
}

// Register compiles and installs one template. A template that fails to
// compile is rejected and never enters the active set.
func (e *Engine) Register(t *domain.Template) error {
	if !t.Channel.IsValid() {
		return domain.ErrInvalidChannel
	}
	c, err := compile(t.Type+"/"+string(t.Channel)+"/"+t.Language, t.Subject, t.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTemplateInvalid, err)
	}
	lang := t.Language
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	e.mu.Lock()
	e.templates[key{t.Type, t.Channel, lang}] = c
	e.mu.Unlock()
	return nil
}

// Reload replaces the active template set from the repository. Templates that
// fail to compile are skipped with a log line; they must not evict a working
// set wholesale.
func (e *Engine) Reload(ctx context.Context, repo repository.TemplateRepository) error {
	templates, err := repo.ListActive(ctx)
	if err != nil {
		return err
	}
	loaded := 0
	for _, t := range templates {
		if err := e.Register(t); err != nil {
			e.logger.Warn("skipping invalid template",
				zap.String("id", t.ID),
				zap.String("type", t.Type),
				zap.String("channel", string(t.Channel)),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}
	e.logger.Info("templates loaded", zap.Int("count", loaded))
	return nil
}

// Render resolves a template through the fallback chain and executes it with
// the given data. Missing variables render empty — degraded personalization
// is acceptable output. Only a completely missing template is an error, and
// that error is scoped to the one channel being rendered.
func (e *Engine) Render(typ string, ch domain.Channel, lang string, data map[string]string) (*Rendered, error) {
	c, ok := e.lookup(typ, ch, lang)
	if !ok {
		return nil, fmt.Errorf("%w: type=%s channel=%s", domain.ErrTemplateNotFound, typ, ch)
	}
	if data == nil {
		data = map[string]string{}
	}

	var out Rendered
	if c.subject != nil {
		var sb strings.Builder
		if err := c.subject.Execute(&sb, data); err != nil {
			return nil, fmt.Errorf("render subject: %w", err)
		}
		out.Subject = sb.String()
	}
	var bb strings.Builder
	if err := c.body.Execute(&bb, data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	out.Body = bb.String()
	return &out, nil
}

func (e *Engine) lookup(typ string, ch domain.Channel, lang string) (compiled, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if lang != "" {
		if c, ok := e.templates[key{typ, ch, lang}]; ok {
			return c, true
		}
	}
	if c, ok := e.templates[key{typ, ch, domain.DefaultLanguage}]; ok {
		return c, true
	}
	c, ok := e.generic[ch]
	return c, ok
}

func compile(name, subject, body string) (compiled, error) {
	var c compiled
	if subject != "" {
		t, err := texttemplate.New(name + "#subject").
			Funcs(funcMap).Option("missingkey=zero").Parse(subject)
		if err != nil {
			return c, err
		}
		c.subject = t
	}
	t, err := texttemplate.New(name + "#body").
		Funcs(funcMap).Option("missingkey=zero").Parse(body)
	if err != nil {
		return c, err
	}
	c.body = t
	return c, nil
}

// Data builds the variable map for a notification: the metadata bag merged
// with the notification's own fields. Metadata never shadows the core fields.
func Data(n *domain.Notification, recipient string) map[string]string {
	data := make(map[string]string, len(n.Metadata)+4)
	for k, v := range n.Metadata {
		data[k] = v
	}
	data["title"] = n.Title
	data["body"] = n.Body
	data["type"] = n.Type
	data["recipient"] = recipient
	return data
}
