// Package notify implements the notification engine: rule evaluation
// and concurrent fan-out to email, chat-webhook, and generic-webhook
// channels.
package notify

import (
	"github.com/github-sentinel/sentinel/pkg/models"
)

// NewActivityEvent is emitted by the collector for every inserted
// activity.
type NewActivityEvent struct {
	Activity     models.Activity
	Subscription models.Subscription
}

// ReportReadyEvent is emitted by the report orchestrator when a report
// completes.
type ReportReadyEvent struct {
	Report       models.Report
	Subscription models.Subscription
}

// Event is the normalized shape rules are evaluated against.
type Event struct {
	Kind    string
	Repo    string
	Author  string
	Title   string
	Body    string
	Metrics map[string]float64
}

func (e NewActivityEvent) toEvent() Event {
	return Event{
		Kind:   string(e.Activity.Kind),
		Repo:   e.Subscription.Repo,
		Author: e.Activity.Author.Login,
		Title:  e.Activity.Title,
		Body:   e.Activity.Body,
	}
}

func (e ReportReadyEvent) toEvent() Event {
	return Event{
		Kind:  "report",
		Repo:  e.Subscription.Repo,
		Title: e.Report.Title,
		Body:  e.Report.Summary,
		Metrics: map[string]float64{
			"activities":    float64(e.Report.Stats.Activities),
			"commits":       float64(e.Report.Stats.Commits),
			"issues":        float64(e.Report.Stats.Issues),
			"pull_requests": float64(e.Report.Stats.PullRequests),
			"releases":      float64(e.Report.Stats.Releases),
		},
	}
}

// DeliverySummary records per-channel outcomes for one event.
type DeliverySummary struct {
	Email   *bool `json:"email,omitempty"`
	Chat    *bool `json:"chat,omitempty"`
	Webhook *bool `json:"webhook,omitempty"`
}

func outcome(ok bool) *bool {
	return &ok
}
