package domain

import "time"

// RuleConditions gate whether a routing rule's actions apply. All set
// conditions must pass. An unknown or malformed condition fails closed:
// the rule does not match, the notification is unaffected.
type RuleConditions struct {
	// TimeWindow: rule is active only between From and To ("HH:MM", may wrap midnight).
	TimeFrom string `json:"time_from,omitempty"`
	TimeTo   string `json:"time_to,omitempty"`

	// Preference match: the named preference flag must equal the given value.
	PreferenceKey   string `json:"preference_key,omitempty"`
	PreferenceValue *bool  `json:"preference_value,omitempty"`

	// Frequency cap: at most Max deliveries of this type per recipient within Window.
	FrequencyWindow time.Duration `json:"frequency_window,omitempty"`
	FrequencyMax    int           `json:"frequency_max,omitempty"`
}

// RuleActions are applied cumulatively, in rule declaration order; a later
// matching rule overrides an earlier one for the same field.
type RuleActions struct {
	SetPriority    Priority      `json:"set_priority,omitempty"`
	AddChannels    []Channel     `json:"add_channels,omitempty"`
	RemoveChannels []Channel     `json:"remove_channels,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
	AggregateKey   string        `json:"aggregate_key,omitempty"`
	Transformer    string        `json:"transformer,omitempty"`
}

// RoutingRule is a conditional policy keyed by notification type.
type RoutingRule struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Position   int            `json:"position"` // evaluation order within the type
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
}
