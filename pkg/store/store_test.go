package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github-sentinel/sentinel/pkg/database"
	"github.com/github-sentinel/sentinel/pkg/models"
)

// testStore opens the database named by TEST_DATABASE_URL, applies
// migrations, and truncates all tables. Tests skip when the variable is
// unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(db, "sentinel_test"))
	_, err = db.Exec(`TRUNCATE users, subscriptions, activities, reports, task_executions RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return New(db)
}

func createTestUser(t *testing.T, s *Store) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), &models.User{
		Username: "alice",
		Email:    "alice@example.com",
		Active:   true,
	})
	require.NoError(t, err)
	return u
}

func createTestSubscription(t *testing.T, s *Store, ownerID int64) *models.Subscription {
	t.Helper()
	sub, err := s.CreateSubscription(context.Background(), &models.Subscription{
		OwnerUserID: ownerID,
		Repo:        "acme/widget",
		Status:      models.SubscriptionActive,
		Cadence:     models.CadenceDaily,
		Watches:     models.WatchSet{Commits: true, Issues: true},
	})
	require.NoError(t, err)
	return sub
}

func TestUserCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := createTestUser(t, s)
	assert.NotZero(t, u.ID)
	assert.True(t, u.Active)

	_, err := s.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	got.FullName = "Alice Liddell"
	updated, err := s.UpdateUser(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.FullName)

	total, active, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 1, active)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionConstraints(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := createTestUser(t, s)

	sub := createTestSubscription(t, s, u.ID)
	assert.NotZero(t, sub.ID)
	assert.True(t, sub.Watches.Commits)

	_, err := s.CreateSubscription(ctx, &models.Subscription{
		OwnerUserID: u.ID,
		Repo:        "acme/widget",
		Status:      models.SubscriptionActive,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.CreateSubscription(ctx, &models.Subscription{
		OwnerUserID: u.ID,
		Repo:        "not-a-repo-ref",
	})
	assert.Error(t, err)

	// Deleting the user cascades to the subscription.
	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertActivityIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := createTestUser(t, s)
	sub := createTestSubscription(t, s, u.ID)

	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	candidate := &models.Activity{
		SubscriptionID:  sub.ID,
		Kind:            models.KindIssue,
		ExternalID:      "42",
		Title:           "Widget breaks on Tuesdays",
		State:           "open",
		Labels:          []string{"bug"},
		SourceCreatedAt: &created,
		SourceUpdatedAt: &created,
	}

	first, inserted, err := s.UpsertActivity(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	// Same triple again with mutated fields updates in place.
	candidate.Title = "Widget breaks on Tuesdays (confirmed)"
	candidate.State = "closed"
	second, inserted, err := s.UpsertActivity(ctx, candidate)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "closed", second.State)
	assert.Equal(t, "Widget breaks on Tuesdays (confirmed)", second.Title)

	activities, err := s.ListActivities(ctx, sub.ID, models.ActivityListParams{})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, []string{"bug"}, activities[0].Labels)
}

func TestAdvanceLastSyncMonotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := createTestUser(t, s)
	sub := createTestSubscription(t, s, u.ID)
	require.Nil(t, sub.LastSyncAt)

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AdvanceLastSync(ctx, sub.ID, t1))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(t1))

	// An earlier timestamp never moves the watermark backwards.
	require.NoError(t, s.AdvanceLastSync(ctx, sub.ID, t1.Add(-time.Hour)))
	got, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSyncAt.Equal(t1))

	t2 := t1.Add(time.Hour)
	require.NoError(t, s.AdvanceLastSync(ctx, sub.ID, t2))
	got, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSyncAt.Equal(t2))
}

func TestReportLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := createTestUser(t, s)
	sub := createTestSubscription(t, s, u.ID)

	start, end := ReportWindow(models.ReportDaily, time.Now())
	r, err := s.CreateReport(ctx, &models.Report{
		OwnerUserID:     u.ID,
		SubscriptionIDs: []int64{sub.ID},
		Kind:            models.ReportDaily,
		Format:          models.FormatMarkdown,
		PeriodStart:     start,
		PeriodEnd:       end,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, r.Status)

	require.NoError(t, s.MarkReportGenerating(ctx, r.ID))

	r.Title = "Daily report"
	r.Summary = "Summary"
	r.Body = "# Daily report"
	r.Stats = models.ReportStats{Repos: 1, Activities: 5, Commits: 3, Issues: 2}
	completed, err := s.CompleteReport(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, models.ReportCompleted, completed.Status)
	require.NotNil(t, completed.GeneratedAt)
	assert.Equal(t, 5, completed.Stats.Activities)

	// Terminal reports admit no further transitions.
	err = s.FailReport(ctx, r.ID, "late failure")
	assert.ErrorIs(t, err, ErrTerminalReport)
	err = s.MarkReportGenerating(ctx, r.ID)
	assert.ErrorIs(t, err, ErrTerminalReport)

	// Deletion still works.
	require.NoError(t, s.DeleteReport(ctx, r.ID))
}

func TestTaskExecutionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	te, err := s.StartTaskExecution(ctx, "collection_sweep", "scheduled")
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, te.Status)

	te.Status = models.TaskCompleted
	te.SuccessCount = 3
	te.ProcessedCount = 3
	require.NoError(t, s.FinishTaskExecution(ctx, te))

	got, err := s.GetTaskExecution(ctx, te.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Equal(t, 3, got.SuccessCount)
	require.NotNil(t, got.FinishedAt)

	// Finishing twice is rejected.
	err = s.FinishTaskExecution(ctx, te)
	assert.ErrorIs(t, err, ErrNotFound)
}
