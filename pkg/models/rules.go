package models

import "time"

// RuleKind classifies what a notification rule reacts to.
type RuleKind string

const (
	RuleActivity  RuleKind = "activity"
	RuleThreshold RuleKind = "threshold"
	RuleSchedule  RuleKind = "schedule"
	RuleAIInsight RuleKind = "ai_insight"
)

// RuleConditions are the matchers of a notification rule. Empty lists
// are wildcards; thresholds compare with >=.
type RuleConditions struct {
	EventKinds []ActivityKind     `json:"event_kinds,omitempty"`
	Repos      []string           `json:"repositories,omitempty"`
	Authors    []string           `json:"authors,omitempty"`
	Keywords   []string           `json:"keywords,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// RuleActions say what happens when a rule matches.
type RuleActions struct {
	Realtime         bool     `json:"realtime"`
	Email            bool     `json:"email"`
	ExternalChannels []string `json:"external_channels,omitempty"`
}

// NotificationRule is a user-owned matcher evaluated against every event.
type NotificationRule struct {
	ID          string         `json:"id"`
	OwnerUserID int64          `json:"owner_user_id"`
	Name        string         `json:"name"`
	Kind        RuleKind       `json:"kind"`
	Conditions  RuleConditions `json:"conditions"`
	Actions     RuleActions    `json:"actions"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
}
