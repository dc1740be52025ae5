// Package report runs the staged report pipeline: resolve the window,
// ingest fresh activity, enrich through the LLM adapter, render, and
// persist. Progress is streamed to the realtime hub per stage.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/notify"
	"github.com/github-sentinel/sentinel/pkg/store"
)

// ErrCancelled marks a pipeline aborted at a stage boundary.
var ErrCancelled = errors.New("report generation cancelled")

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetSubscription(ctx context.Context, id int64) (*models.Subscription, error)
	ListActiveSubscriptionsByCadence(ctx context.Context, cadence models.Cadence) ([]models.Subscription, error)
	ListActivities(ctx context.Context, subscriptionID int64, params models.ActivityListParams) ([]models.Activity, error)
	CreateReport(ctx context.Context, r *models.Report) (*models.Report, error)
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	MarkReportGenerating(ctx context.Context, id int64) error
	CompleteReport(ctx context.Context, r *models.Report) (*models.Report, error)
	FailReport(ctx context.Context, id int64, reason string) error
}

// Collector refreshes activity for the report window before the store
// read. A nil collector skips the refresh and renders what is stored.
type Collector interface {
	CollectForSubscription(ctx context.Context, sub models.Subscription, window time.Duration) (*models.CollectionResult, error)
}

// Enricher produces the AI paragraphs. Implementations never fail; a
// deterministic fallback is still a successful enrichment.
type Enricher interface {
	SummarizeRepository(ctx context.Context, repo string, stats models.ReportStats, highlights []string) string
	AnalyzeTrends(ctx context.Context, repo string, stats models.ReportStats) string
}

// Progress receives stage updates keyed by task id.
type Progress interface {
	SubscribeProgress(taskID string, userID int64)
	PublishProgress(taskID string, progress int, status, message string, data map[string]any)
	NotifyTaskCancelled(taskID, reason string)
}

// Notifier fans the completed report out to the delivery channels.
type Notifier interface {
	HandleReportReady(ctx context.Context, ev notify.ReportReadyEvent)
}

// Jobs dispatches the pipeline as a background one-shot with
// at-most-one-in-flight per job key. A nil Jobs runs synchronously.
type Jobs interface {
	SubmitOneShot(jobKey, name, kind string, fn func(ctx context.Context) error) error
}

// Service orchestrates report generation.
type Service struct {
	store     Store
	collector Collector
	enricher  Enricher
	progress  Progress
	notifier  Notifier
	jobs      Jobs
	logger    *slog.Logger
}

// NewService wires the orchestrator. collector, progress, notifier, and
// jobs may be nil; the corresponding step is skipped or inlined.
func NewService(st Store, collector Collector, enricher Enricher, progress Progress, notifier Notifier, jobs Jobs) *Service {
	return &Service{
		store:     st,
		collector: collector,
		enricher:  enricher,
		progress:  progress,
		notifier:  notifier,
		jobs:      jobs,
		logger:    slog.With("component", "report"),
	}
}

// SetJobs attaches the background job runner after construction. The
// scheduler depends on this service for cadenced runs, so the two are
// wired in sequence at startup.
func (s *Service) SetJobs(jobs Jobs) {
	s.jobs = jobs
}

// TaskID names the one-shot job for a report.
func TaskID(reportID int64) string {
	return fmt.Sprintf("report:%d", reportID)
}

// GenerateReport creates the report row and dispatches the pipeline.
// Returns the task id streaming progress frames for this run.
func (s *Service) GenerateReport(ctx context.Context, subscriptionID int64, kind models.ReportKind, format models.ReportFormat) (string, *models.Report, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	periodStart, periodEnd := store.ReportWindow(kind, now)
	r, err := s.store.CreateReport(ctx, &models.Report{
		OwnerUserID:     sub.OwnerUserID,
		SubscriptionIDs: []int64{sub.ID},
		Title:           reportTitle(kind, sub.Repo),
		Kind:            kind,
		Format:          format,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
	})
	if err != nil {
		return "", nil, err
	}

	taskID := TaskID(r.ID)
	if s.progress != nil {
		s.progress.SubscribeProgress(taskID, sub.OwnerUserID)
	}

	run := func(ctx context.Context) error {
		return s.run(ctx, r.ID, taskID)
	}
	if s.jobs != nil {
		if err := s.jobs.SubmitOneShot(taskID, "report_generation", "report", run); err != nil {
			return taskID, r, err
		}
		return taskID, r, nil
	}
	return taskID, r, run(ctx)
}

// RunScheduled generates reports for every active subscription on the
// given cadence. Returns processed and failed counts for the task row.
func (s *Service) RunScheduled(ctx context.Context, kind models.ReportKind) (processed, failed int, err error) {
	cadence := models.Cadence(kind)
	subs, err := s.store.ListActiveSubscriptionsByCadence(ctx, cadence)
	if err != nil {
		return 0, 0, err
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}
		if _, _, genErr := s.GenerateReport(ctx, sub.ID, kind, models.FormatHTML); genErr != nil {
			s.logger.Warn("Scheduled report failed",
				"subscription_id", sub.ID, "kind", kind, "error", genErr)
			failed++
			continue
		}
		processed++
	}
	return processed, failed, nil
}

// run executes the stage pipeline for one report. Cancellation is
// observed at every stage boundary.
func (s *Service) run(ctx context.Context, reportID int64, taskID string) error {
	fail := func(reason string, cause error) error {
		if err := s.store.FailReport(context.WithoutCancel(ctx), reportID, reason); err != nil {
			s.logger.Warn("Report failure record lost", "report_id", reportID, "error", err)
		}
		if reason == "cancelled" {
			s.publish(taskID, 100, "cancelled", "Report generation cancelled", nil)
			if s.progress != nil {
				s.progress.NotifyTaskCancelled(taskID, "cancelled")
			}
			return ErrCancelled
		}
		s.publish(taskID, 100, "failed", reason, nil)
		return cause
	}
	boundary := func() error {
		if ctx.Err() != nil {
			return fail("cancelled", ctx.Err())
		}
		return nil
	}

	// Stage: start.
	if err := s.store.MarkReportGenerating(ctx, reportID); err != nil {
		return fail("start stage failed", err)
	}
	s.publish(taskID, 0, "running", "Report generation started", nil)
	if err := boundary(); err != nil {
		return err
	}

	// Stage: resolve.
	r, sub, err := s.resolve(ctx, reportID)
	if err != nil {
		return fail("resolve stage failed", err)
	}
	s.publish(taskID, 20, "running", "Resolved subscription and period", map[string]any{
		"repository":   sub.Repo,
		"period_start": r.PeriodStart.Format(time.RFC3339),
		"period_end":   r.PeriodEnd.Format(time.RFC3339),
	})
	if err := boundary(); err != nil {
		return err
	}

	// Stage: ingest.
	activities, stats, err := s.ingest(ctx, r, sub)
	if err != nil {
		return fail("ingest stage failed", err)
	}
	s.publish(taskID, 50, "running", "Activity ingested", map[string]any{
		"activities": stats.Activities,
	})
	if err := boundary(); err != nil {
		return err
	}

	// Stage: enrich. Best effort; a fallback paragraph still succeeds.
	summary, trends := s.enrich(ctx, sub.Repo, stats, activities)
	s.publish(taskID, 80, "running", "AI enrichment finished", nil)
	if err := boundary(); err != nil {
		return err
	}

	// Stage: render.
	body, err := render(r.Format, renderData(r, sub, stats, summary, trends, activities))
	if err != nil {
		return fail("render stage failed", err)
	}
	s.publish(taskID, 95, "running", "Report rendered", nil)
	if err := boundary(); err != nil {
		return err
	}

	// Stage: finalize.
	now := time.Now().UTC()
	r.Summary = summary
	r.AIAnalysis = trends
	r.Body = body
	r.Stats = stats
	r.GeneratedAt = &now
	completed, err := s.store.CompleteReport(ctx, r)
	if err != nil {
		return fail("finalize stage failed", err)
	}
	s.publish(taskID, 100, "completed", "Report completed", map[string]any{
		"report_id": completed.ID,
	})

	if s.notifier != nil {
		s.notifier.HandleReportReady(ctx, notify.ReportReadyEvent{
			Report:       *completed,
			Subscription: *sub,
		})
	}

	s.logger.Info("Report generated",
		"report_id", completed.ID, "repository", sub.Repo,
		"kind", completed.Kind, "activities", stats.Activities)
	return nil
}

func (s *Service) resolve(ctx context.Context, reportID int64) (*models.Report, *models.Subscription, error) {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	if len(r.SubscriptionIDs) == 0 {
		return nil, nil, fmt.Errorf("report %d has no subscription", reportID)
	}
	sub, err := s.store.GetSubscription(ctx, r.SubscriptionIDs[0])
	if err != nil {
		return nil, nil, err
	}
	return r, sub, nil
}

func (s *Service) ingest(ctx context.Context, r *models.Report, sub *models.Subscription) ([]models.Activity, models.ReportStats, error) {
	if s.collector != nil {
		window := time.Now().UTC().Sub(r.PeriodStart)
		if _, err := s.collector.CollectForSubscription(ctx, *sub, window); err != nil {
			s.logger.Warn("Window refresh failed, rendering stored activity",
				"subscription_id", sub.ID, "error", err)
		}
	}

	activities, err := s.store.ListActivities(ctx, sub.ID, models.ActivityListParams{
		Since: &r.PeriodStart,
		Until: &r.PeriodEnd,
	})
	if err != nil {
		return nil, models.ReportStats{}, err
	}

	stats := models.ReportStats{Repos: 1, Activities: len(activities)}
	for _, a := range activities {
		switch a.Kind {
		case models.KindCommit:
			stats.Commits++
		case models.KindIssue:
			stats.Issues++
		case models.KindPullRequest:
			stats.PullRequests++
		case models.KindRelease:
			stats.Releases++
		}
	}
	return activities, stats, nil
}

func (s *Service) enrich(ctx context.Context, repo string, stats models.ReportStats, activities []models.Activity) (summary, trends string) {
	if s.enricher == nil {
		return "", ""
	}
	highlights := make([]string, 0, len(activities))
	for _, a := range activities {
		highlights = append(highlights, a.Title)
	}
	summary = s.enricher.SummarizeRepository(ctx, repo, stats, highlights)
	trends = s.enricher.AnalyzeTrends(ctx, repo, stats)
	return summary, trends
}

func (s *Service) publish(taskID string, progress int, status, message string, data map[string]any) {
	if s.progress == nil {
		return
	}
	s.progress.PublishProgress(taskID, progress, status, message, data)
}

var reportTitleByKind = map[models.ReportKind]string{
	models.ReportDaily:   "Daily",
	models.ReportWeekly:  "Weekly",
	models.ReportMonthly: "Monthly",
	models.ReportCustom:  "Custom",
}

func reportTitle(kind models.ReportKind, repo string) string {
	label, ok := reportTitleByKind[kind]
	if !ok {
		label = "Activity"
	}
	return fmt.Sprintf("%s report for %s", label, repo)
}
