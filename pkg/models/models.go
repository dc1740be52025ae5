// Package models defines the persisted entities and shared value types
// used across the collector, store, notification, and report layers.
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

var repoRefPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// ValidateRepoRef checks that ref has the "owner/name" shape.
func ValidateRepoRef(ref string) error {
	if !repoRefPattern.MatchString(ref) {
		return fmt.Errorf("repository reference %q must match owner/name", ref)
	}
	return nil
}

// User owns subscriptions and reports.
type User struct {
	ID          int64            `json:"id"`
	Username    string           `json:"username"`
	Email       string           `json:"email"`
	FullName    string           `json:"full_name,omitempty"`
	Active      bool             `json:"is_active"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	LastLoginAt *time.Time       `json:"last_login_at,omitempty"`
}

// UserPreferences holds per-user channel toggles applied as defaults
// when a subscription does not override them.
type UserPreferences struct {
	EmailEnabled    bool `json:"email_enabled"`
	ChatEnabled     bool `json:"chat_enabled"`
	WebhookEnabled  bool `json:"webhook_enabled"`
	RealtimeEnabled bool `json:"realtime_enabled"`
}

// WatchSet selects which upstream event kinds a subscription tracks.
type WatchSet struct {
	Commits      bool `json:"commits"`
	Issues       bool `json:"issues"`
	PullRequests bool `json:"pull_requests"`
	Releases     bool `json:"releases"`
	Discussions  bool `json:"discussions"`
}

// Any reports whether at least one kind is watched.
func (w WatchSet) Any() bool {
	return w.Commits || w.Issues || w.PullRequests || w.Releases || w.Discussions
}

// SubscriptionFilters narrow which upstream items are ingested.
// Empty lists impose no constraint.
type SubscriptionFilters struct {
	ExcludeAuthors []string `json:"exclude_authors,omitempty"`
	IncludeLabels  []string `json:"include_labels,omitempty"`
	ExcludeLabels  []string `json:"exclude_labels,omitempty"`
}

// DeliveryConfig declares where a subscription's notifications go.
type DeliveryConfig struct {
	EmailEnabled   bool     `json:"email_enabled"`
	ChatEnabled    bool     `json:"chat_enabled"`
	WebhookEnabled bool     `json:"webhook_enabled"`
	Emails         []string `json:"emails,omitempty"`
	ChatHooks      []string `json:"chat_hooks,omitempty"`
	WebhookURLs    []string `json:"webhook_urls,omitempty"`
	WebhookSecret  string   `json:"webhook_secret,omitempty"`
}

// Subscription is a user's declared interest in one repository.
type Subscription struct {
	ID          int64               `json:"id"`
	OwnerUserID int64               `json:"owner_user_id"`
	Repo        string              `json:"repository"`
	Status      SubscriptionStatus  `json:"status"`
	Cadence     Cadence             `json:"frequency"`
	Watches     WatchSet            `json:"monitor_types"`
	Filters     SubscriptionFilters `json:"filters"`
	Delivery    DeliveryConfig      `json:"delivery"`

	// Repository metadata refreshed at creation and sync time.
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Language    string   `json:"language,omitempty"`
	Stars       int      `json:"stars"`
	Forks       int      `json:"forks"`
	Topics      []string `json:"topics,omitempty"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Author identifies who produced an upstream event.
type Author struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Activity is a single normalized upstream event. The triple
// (SubscriptionID, Kind, ExternalID) is unique; re-ingesting the same
// triple updates mutable fields in place.
type Activity struct {
	ID              int64           `json:"id"`
	SubscriptionID  int64           `json:"subscription_id"`
	Kind            ActivityKind    `json:"kind"`
	ExternalID      string          `json:"external_id"`
	Title           string          `json:"title"`
	Body            string          `json:"body,omitempty"`
	URL             string          `json:"url"`
	Author          Author          `json:"author"`
	Labels          []string        `json:"labels,omitempty"`
	State           string          `json:"state,omitempty"`
	Extras          json.RawMessage `json:"extras,omitempty"`
	SourceCreatedAt *time.Time      `json:"source_created_at,omitempty"`
	SourceUpdatedAt *time.Time      `json:"source_updated_at,omitempty"`
	IngestedAt      time.Time       `json:"ingested_at"`
}

// ReportStats summarizes the activity aggregated into a report.
type ReportStats struct {
	Repos        int `json:"repositories"`
	Activities   int `json:"total_activities"`
	Commits      int `json:"commits"`
	Issues       int `json:"issues"`
	PullRequests int `json:"pull_requests"`
	Releases     int `json:"releases"`
}

// Report is a generated activity document for one or more subscriptions.
type Report struct {
	ID              int64        `json:"id"`
	OwnerUserID     int64        `json:"owner_user_id"`
	SubscriptionIDs []int64      `json:"subscription_ids"`
	Title           string       `json:"title"`
	Kind            ReportKind   `json:"report_type"`
	Status          ReportStatus `json:"status"`
	Format          ReportFormat `json:"format"`
	PeriodStart     time.Time    `json:"period_start"`
	PeriodEnd       time.Time    `json:"period_end"`
	Summary         string       `json:"summary,omitempty"`
	Body            string       `json:"content,omitempty"`
	AIAnalysis      string       `json:"ai_analysis,omitempty"`
	Stats           ReportStats  `json:"stats"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	GeneratedAt     *time.Time   `json:"generated_at,omitempty"`
}

// TaskExecution records one run of a scheduled or one-shot job.
type TaskExecution struct {
	ID              int64      `json:"id"`
	Name            string     `json:"task_name"`
	Kind            string     `json:"task_kind"`
	Status          TaskStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	SuccessCount    int        `json:"success_count"`
	ErrorCount      int        `json:"error_count"`
	ProcessedCount  int        `json:"processed_count"`
	Details         string     `json:"details,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// CollectionResult is what one collector pass over a subscription produced.
type CollectionResult struct {
	SubscriptionID int64      `json:"subscription_id"`
	Repo           string     `json:"repository"`
	Fetched        int        `json:"fetched"`
	Inserted       int        `json:"inserted"`
	Updated        int        `json:"updated"`
	Filtered       int        `json:"filtered"`
	Errors         int        `json:"errors"`
	Watermark      *time.Time `json:"watermark,omitempty"`
	NewActivities  []Activity `json:"-"`
}

// ActivityListParams narrows an activity listing.
type ActivityListParams struct {
	Kind   ActivityKind
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// ReportListParams narrows a report listing.
type ReportListParams struct {
	OwnerUserID int64
	Kind        ReportKind
	Status      ReportStatus
	Limit       int
	Offset      int
}
