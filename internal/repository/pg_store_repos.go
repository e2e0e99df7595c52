package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vowsuite/notify/internal/domain"
)

// pgPreferenceRepository reads and writes per-user preferences.
type pgPreferenceRepository struct {
	pool *pgxpool.Pool
}

func NewPgPreferenceRepository(pool *pgxpool.Pool) PreferenceRepository {
	return &pgPreferenceRepository{pool: pool}
}

func (r *pgPreferenceRepository) Get(ctx context.Context, userID string) (*domain.Preference, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, realtime, push, email, sms, digest, language, quiet_from, quiet_to, updated_at
		FROM preferences WHERE user_id = $1`, userID)

	var p domain.Preference
	err := row.Scan(&p.UserID, &p.Realtime, &p.Push, &p.Email, &p.SMS,
		&p.Digest, &p.Language, &p.QuietFrom, &p.QuietTo, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (r *pgPreferenceRepository) Upsert(ctx context.Context, p *domain.Preference) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO preferences
			(user_id, realtime, push, email, sms, digest, language, quiet_from, quiet_to, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id) DO UPDATE SET
			realtime = EXCLUDED.realtime, push = EXCLUDED.push,
			email = EXCLUDED.email, sms = EXCLUDED.sms,
			digest = EXCLUDED.digest, language = EXCLUDED.language,
			quiet_from = EXCLUDED.quiet_from, quiet_to = EXCLUDED.quiet_to,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Realtime, p.Push, p.Email, p.SMS, p.Digest,
		p.Language, p.QuietFrom, p.QuietTo, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// pgRuleRepository loads routing rules.
type pgRuleRepository struct {
	pool *pgxpool.Pool
}

func NewPgRuleRepository(pool *pgxpool.Pool) RuleRepository {
	return &pgRuleRepository{pool: pool}
}

func (r *pgRuleRepository) ListActive(ctx context.Context) ([]*domain.RoutingRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, position, time_from, time_to, pref_key, pref_value,
		       freq_window_ms, freq_max, set_priority, add_channels, remove_channels,
		       delay_ms, aggregate_key, transformer, active, created_at
		FROM routing_rules
		WHERE active = TRUE
		ORDER BY type, position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.RoutingRule
	for rows.Next() {
		var (
			rule         domain.RoutingRule
			freqWindowMs int64
			delayMs      int64
			addChs       []string
			removeChs    []string
			setPriority  string
		)
		if err := rows.Scan(&rule.ID, &rule.Type, &rule.Position,
			&rule.Conditions.TimeFrom, &rule.Conditions.TimeTo,
			&rule.Conditions.PreferenceKey, &rule.Conditions.PreferenceValue,
			&freqWindowMs, &rule.Conditions.FrequencyMax,
			&setPriority, &addChs, &removeChs,
			&delayMs, &rule.Actions.AggregateKey, &rule.Actions.Transformer,
			&rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Conditions.FrequencyWindow = time.Duration(freqWindowMs) * time.Millisecond
		rule.Actions.Delay = time.Duration(delayMs) * time.Millisecond
		rule.Actions.SetPriority = domain.Priority(setPriority)
		rule.Actions.AddChannels = channelsFromStrings(addChs)
		rule.Actions.RemoveChannels = channelsFromStrings(removeChs)
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// pgTemplateRepository loads message templates.
type pgTemplateRepository struct {
	pool *pgxpool.Pool
}

func NewPgTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &pgTemplateRepository{pool: pool}
}

func (r *pgTemplateRepository) ListActive(ctx context.Context) ([]*domain.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, channel, language, subject, body, active, updated_at
		FROM templates WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Type, &t.Channel, &t.Language,
			&t.Subject, &t.Body, &t.Active, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

// pgContactRepository reads delivery addresses and push subscriptions.
type pgContactRepository struct {
	pool *pgxpool.Pool
}

func NewPgContactRepository(pool *pgxpool.Pool) ContactRepository {
	return &pgContactRepository{pool: pool}
}

func (r *pgContactRepository) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, email, phone FROM contacts WHERE user_id = $1`, userID)

	var c domain.Contact
	err := row.Scan(&c.UserID, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (r *pgContactRepository) ListPushSubscriptions(ctx context.Context, userID string) ([]*domain.PushSubscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, endpoint, token, created_at
		FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.PushSubscription
	for rows.Next() {
		var s domain.PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.Token, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

func (r *pgContactRepository) DeletePushSubscription(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return err
}
