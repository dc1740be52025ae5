// Package scheduler owns time-triggered dispatch: the per-minute
// collection sweep, daily and weekly report generation, hourly cleanup,
// and user-initiated one-shots. Every run is recorded as a task
// execution, and each job key has at most one run in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/github-sentinel/sentinel/pkg/collector"
	"github.com/github-sentinel/sentinel/pkg/config"
	"github.com/github-sentinel/sentinel/pkg/models"
)

// ErrJobInFlight rejects a submission whose job key is already running.
var ErrJobInFlight = errors.New("job already in flight")

const stopGrace = 30 * time.Second

// Store records task executions and serves the cleanup job.
type Store interface {
	StartTaskExecution(ctx context.Context, name, kind string) (*models.TaskExecution, error)
	FinishTaskExecution(ctx context.Context, te *models.TaskExecution) error
	MarkStaleExecutionsCancelled(ctx context.Context, cutoff time.Time) (int64, error)
	PruneActivities(ctx context.Context, cutoff time.Time) (int64, error)
	PruneTaskExecutions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs one collection sweep over all active subscriptions.
type Sweeper interface {
	CollectAll(ctx context.Context, window time.Duration) (*collector.SweepResult, error)
}

// Reporter generates the scheduled reports for one cadence.
type Reporter interface {
	RunScheduled(ctx context.Context, kind models.ReportKind) (processed, failed int, err error)
}

// Result carries job counters back into the task execution row.
type Result struct {
	Processed int
	Success   int
	Errors    int
	Details   string
}

// JobFunc is one unit of scheduled or one-shot work.
type JobFunc func(ctx context.Context) (Result, error)

// Scheduler dispatches jobs on the configured timezone.
type Scheduler struct {
	store    Store
	sweeper  Sweeper
	reporter Reporter
	schedule config.ScheduleConfig
	retain   config.RetentionConfig
	logger   *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds a scheduler. Start must be called before jobs fire.
func New(st Store, sweeper Sweeper, reporter Reporter, schedule config.ScheduleConfig, retain config.RetentionConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    st,
		sweeper:  sweeper,
		reporter: reporter,
		schedule: schedule,
		retain:   retain,
		logger:   slog.With("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]bool),
	}
}

// Start registers the time-triggered jobs and runs the cron loop.
// Absent local times are skipped and doubled ones run once, following
// the cron library's location handling.
func (s *Scheduler) Start() error {
	if !s.schedule.Enabled {
		s.logger.Info("Scheduler disabled by configuration")
		return nil
	}

	loc := s.schedule.Location()
	s.cron = cron.New(cron.WithLocation(loc))

	entries := []struct {
		spec   string
		jobKey string
		kind   string
		fn     JobFunc
	}{
		{"* * * * *", "collection_sweep", "collection", s.sweepJob},
		{clockToCron(s.schedule.DailyTime, -1), "daily_report", "report", s.reportJob(models.ReportDaily)},
		{clockToCron(s.schedule.WeeklyTime, s.schedule.WeeklyDay), "weekly_report", "report", s.reportJob(models.ReportWeekly)},
		{"0 * * * *", "hourly_cleanup", "cleanup", s.cleanupJob},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, func() {
			s.dispatch(e.jobKey, e.jobKey, e.kind, e.fn)
		}); err != nil {
			return fmt.Errorf("register job %s: %w", e.jobKey, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		"timezone", loc.String(),
		"daily_time", s.schedule.DailyTime,
		"weekly_day", s.schedule.WeeklyDay,
		"weekly_time", s.schedule.WeeklyTime)
	return nil
}

// SubmitOneShot runs fn once in the background under the given job key.
// A key already in flight is rejected with ErrJobInFlight.
func (s *Scheduler) SubmitOneShot(jobKey, name, kind string, fn func(ctx context.Context) error) error {
	wrapped := func(ctx context.Context) (Result, error) {
		err := fn(ctx)
		if err != nil {
			return Result{Errors: 1}, err
		}
		return Result{Processed: 1, Success: 1}, nil
	}

	if !s.claim(jobKey) {
		s.logger.Warn("One-shot dropped, job key in flight", "job_key", jobKey)
		return ErrJobInFlight
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(jobKey)
		s.execute(jobKey, name, kind, wrapped)
	}()
	return nil
}

// Stop shuts the scheduler down: no new dispatches, in-flight contexts
// cancelled, bounded wait, stragglers marked cancelled in the store.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := stopGrace
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < grace {
			grace = until
		}
	}

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
	case <-time.After(grace):
		n, err := s.store.MarkStaleExecutionsCancelled(context.WithoutCancel(ctx), time.Now().UTC())
		if err != nil {
			s.logger.Warn("Marking stale executions failed", "error", err)
		}
		s.logger.Warn("Scheduler stopped with stragglers", "cancelled_executions", n)
	}
}

// dispatch runs a scheduled tick, dropping it when the key is busy.
func (s *Scheduler) dispatch(jobKey, name, kind string, fn JobFunc) {
	if !s.claim(jobKey) {
		s.logger.Warn("Scheduled run dropped, previous run still in flight", "job_key", jobKey)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.release(jobKey)
	s.execute(jobKey, name, kind, fn)
}

func (s *Scheduler) claim(jobKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[jobKey] {
		return false
	}
	s.inFlight[jobKey] = true
	return true
}

func (s *Scheduler) release(jobKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, jobKey)
}

// execute wraps one run in a task execution row.
func (s *Scheduler) execute(jobKey, name, kind string, fn JobFunc) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	te, err := s.store.StartTaskExecution(ctx, name, kind)
	if err != nil {
		s.logger.Warn("Task execution start failed", "job_key", jobKey, "error", err)
		return
	}

	result, runErr := fn(ctx)

	te.ProcessedCount = result.Processed
	te.SuccessCount = result.Success
	te.ErrorCount = result.Errors
	te.Details = result.Details
	switch {
	case runErr == nil:
		te.Status = models.TaskCompleted
	case errors.Is(runErr, context.Canceled):
		te.Status = models.TaskCancelled
		te.Error = "cancelled"
	default:
		te.Status = models.TaskFailed
		te.Error = runErr.Error()
	}

	if err := s.store.FinishTaskExecution(context.WithoutCancel(ctx), te); err != nil {
		s.logger.Warn("Task execution finish failed", "job_key", jobKey, "error", err)
	}
	s.logger.Info("Job finished",
		"job_key", jobKey, "status", te.Status,
		"processed", te.ProcessedCount, "errors", te.ErrorCount)
}

func (s *Scheduler) sweepJob(ctx context.Context) (Result, error) {
	sweep, err := s.sweeper.CollectAll(ctx, collector.DefaultWindow)
	if err != nil {
		return Result{Errors: 1}, err
	}
	return Result{
		Processed: sweep.Subscriptions,
		Success:   sweep.Subscriptions - sweep.Errors,
		Errors:    sweep.Errors,
		Details:   fmt.Sprintf("inserted=%d updated=%d", sweep.Inserted, sweep.Updated),
	}, nil
}

func (s *Scheduler) reportJob(kind models.ReportKind) JobFunc {
	return func(ctx context.Context) (Result, error) {
		processed, failed, err := s.reporter.RunScheduled(ctx, kind)
		return Result{
			Processed: processed + failed,
			Success:   processed,
			Errors:    failed,
		}, err
	}
}

// cleanupJob prunes activities and task executions past retention.
func (s *Scheduler) cleanupJob(ctx context.Context) (Result, error) {
	now := time.Now().UTC()

	activities, err := s.store.PruneActivities(ctx, now.AddDate(0, 0, -s.retain.ActivityDays))
	if err != nil {
		return Result{Errors: 1}, err
	}
	executions, err := s.store.PruneTaskExecutions(ctx, now.AddDate(0, 0, -s.retain.TaskExecutionDays))
	if err != nil {
		return Result{Errors: 1}, err
	}

	return Result{
		Processed: int(activities + executions),
		Success:   int(activities + executions),
		Details:   fmt.Sprintf("activities=%d executions=%d", activities, executions),
	}, nil
}

// clockToCron converts "HH:MM" plus an optional weekday (1=Monday …
// 7=Sunday, -1 for every day) to a cron spec.
func clockToCron(clock string, weekday int) string {
	hh, mm, ok := strings.Cut(clock, ":")
	if !ok {
		hh, mm = "0", "0"
	}
	hh = strings.TrimPrefix(hh, "0")
	if hh == "" {
		hh = "0"
	}
	mm = strings.TrimPrefix(mm, "0")
	if mm == "" {
		mm = "0"
	}
	if weekday < 0 {
		return fmt.Sprintf("%s %s * * *", mm, hh)
	}
	return fmt.Sprintf("%s %s * * %d", mm, hh, weekday%7)
}
