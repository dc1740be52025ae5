package models

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPaused, SubscriptionInactive:
		return true
	}
	return false
}

// Cadence is how often a subscription's report is generated.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// ActivityKind is the normalized type of an upstream event.
type ActivityKind string

const (
	KindCommit      ActivityKind = "commit"
	KindIssue       ActivityKind = "issue"
	KindPullRequest ActivityKind = "pull_request"
	KindRelease     ActivityKind = "release"
)

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case KindCommit, KindIssue, KindPullRequest, KindRelease:
		return true
	}
	return false
}

// ReportKind is the time-window class of a report.
type ReportKind string

const (
	ReportDaily   ReportKind = "daily"
	ReportWeekly  ReportKind = "weekly"
	ReportMonthly ReportKind = "monthly"
	ReportCustom  ReportKind = "custom"
)

// Valid reports whether k is a known report kind.
func (k ReportKind) Valid() bool {
	switch k {
	case ReportDaily, ReportWeekly, ReportMonthly, ReportCustom:
		return true
	}
	return false
}

// ReportStatus is the lifecycle state of a report.
// Terminal states (completed, failed) are immutable except for deletion.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportGenerating ReportStatus = "generating"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportGenerating, ReportCompleted, ReportFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// ReportFormat is the rendering format of a report body.
type ReportFormat string

const (
	FormatHTML     ReportFormat = "html"
	FormatMarkdown ReportFormat = "markdown"
)

// Valid reports whether f is a known report format.
func (f ReportFormat) Valid() bool {
	return f == FormatHTML || f == FormatMarkdown
}

// TaskStatus is the lifecycle state of a scheduled or one-shot task run.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)
