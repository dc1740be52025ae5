package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/github-sentinel/sentinel/pkg/models"
)

func TestRuleMatches(t *testing.T) {
	baseEvent := Event{
		Kind:   "issue",
		Repo:   "acme/widget",
		Author: "octocat",
		Title:  "Crash when parsing config",
		Body:   "Stack trace attached",
	}

	tests := []struct {
		name string
		rule models.NotificationRule
		ev   Event
		want bool
	}{
		{
			name: "no conditions matches every event",
			rule: models.NotificationRule{Enabled: true},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "no conditions matches any kind",
			rule: models.NotificationRule{Enabled: true},
			ev:   Event{Kind: "report"},
			want: true,
		},
		{
			name: "disabled rule never matches",
			rule: models.NotificationRule{Enabled: false},
			ev:   baseEvent,
			want: false,
		},
		{
			name: "event kind match",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{EventKinds: []models.ActivityKind{models.KindIssue}},
			},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "event kind mismatch",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{EventKinds: []models.ActivityKind{models.KindRelease}},
			},
			ev:   baseEvent,
			want: false,
		},
		{
			name: "repo match is case-insensitive",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Repos: []string{"ACME/Widget"}},
			},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "author mismatch",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Authors: []string{"someone-else"}},
			},
			ev:   baseEvent,
			want: false,
		},
		{
			name: "keyword matches title case-insensitively",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Keywords: []string{"CRASH", "panic"}},
			},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "keyword matches body",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Keywords: []string{"stack trace"}},
			},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "no keyword present",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Keywords: []string{"regression"}},
			},
			ev:   baseEvent,
			want: false,
		},
		{
			name: "threshold met",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Thresholds: map[string]float64{"commits": 5}},
			},
			ev:   Event{Kind: "report", Metrics: map[string]float64{"commits": 7}},
			want: true,
		},
		{
			name: "threshold below bound",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Thresholds: map[string]float64{"commits": 5}},
			},
			ev:   Event{Kind: "report", Metrics: map[string]float64{"commits": 3}},
			want: false,
		},
		{
			name: "threshold metric absent",
			rule: models.NotificationRule{
				Enabled:    true,
				Conditions: models.RuleConditions{Thresholds: map[string]float64{"commits": 1}},
			},
			ev:   baseEvent,
			want: false,
		},
		{
			name: "all populated conditions must match",
			rule: models.NotificationRule{
				Enabled: true,
				Conditions: models.RuleConditions{
					EventKinds: []models.ActivityKind{models.KindIssue},
					Repos:      []string{"acme/widget"},
					Authors:    []string{"octocat"},
					Keywords:   []string{"crash"},
				},
			},
			ev:   baseEvent,
			want: true,
		},
		{
			name: "one failing condition rejects",
			rule: models.NotificationRule{
				Enabled: true,
				Conditions: models.RuleConditions{
					EventKinds: []models.ActivityKind{models.KindIssue},
					Authors:    []string{"not-octocat"},
				},
			},
			ev:   baseEvent,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RuleMatches(tt.rule, tt.ev))
		})
	}
}
