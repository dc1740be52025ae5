package collector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github-sentinel/sentinel/pkg/github"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/notify"
)

type fakePlatform struct {
	mu sync.Mutex

	repo     *github.Repo
	commits  []github.Commit
	issues   []github.Issue
	prs      []github.PullRequest
	releases []github.Release

	commitsErr error
	issuesErr  error

	commitsSince time.Time
	issuesSince  time.Time
}

func (p *fakePlatform) GetRepo(ctx context.Context, ref string) (*github.Repo, error) {
	if p.repo == nil {
		return nil, github.ErrNotFound
	}
	return p.repo, nil
}

func (p *fakePlatform) ListCommits(ctx context.Context, ref string, since time.Time) ([]github.Commit, error) {
	p.mu.Lock()
	p.commitsSince = since
	p.mu.Unlock()
	return p.commits, p.commitsErr
}

func (p *fakePlatform) ListIssues(ctx context.Context, ref string, since time.Time, states []string) ([]github.Issue, error) {
	p.mu.Lock()
	p.issuesSince = since
	p.mu.Unlock()
	return p.issues, p.issuesErr
}

func (p *fakePlatform) ListPullRequests(ctx context.Context, ref string, sinceUpdated time.Time, states []string) ([]github.PullRequest, error) {
	return p.prs, nil
}

func (p *fakePlatform) ListReleases(ctx context.Context, ref string, limit int) ([]github.Release, error) {
	return p.releases, nil
}

type activityKey struct {
	subscriptionID int64
	kind           models.ActivityKind
	externalID     string
}

type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	activities map[activityKey]*models.Activity
	lastSync   map[int64]time.Time
	subs       []models.Subscription
	upsertErr  error
}

func newFakeStore(subs ...models.Subscription) *fakeStore {
	return &fakeStore{
		activities: make(map[activityKey]*models.Activity),
		lastSync:   make(map[int64]time.Time),
		subs:       subs,
	}
}

func (s *fakeStore) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var active []models.Subscription
	for _, sub := range s.subs {
		if sub.Status == models.SubscriptionActive {
			active = append(active, sub)
		}
	}
	return active, nil
}

func (s *fakeStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	return sub, nil
}

func (s *fakeStore) UpsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, false, s.upsertErr
	}

	key := activityKey{a.SubscriptionID, a.Kind, a.ExternalID}
	if existing, ok := s.activities[key]; ok {
		existing.Title = a.Title
		existing.Body = a.Body
		existing.State = a.State
		existing.Labels = a.Labels
		existing.SourceUpdatedAt = a.SourceUpdatedAt
		out := *existing
		return &out, false, nil
	}

	s.nextID++
	stored := *a
	stored.ID = s.nextID
	stored.IngestedAt = time.Now().UTC()
	s.activities[key] = &stored
	out := stored
	return &out, true, nil
}

func (s *fakeStore) AdvanceLastSync(ctx context.Context, id int64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.lastSync[id]) {
		s.lastSync[id] = ts
	}
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []notify.NewActivityEvent
}

func (f *fakeSink) HandleNewActivity(ctx context.Context, ev notify.NewActivityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func upstreamCommit(sha, message, login, date string) github.Commit {
	var c github.Commit
	c.SHA = sha
	c.HTMLURL = "https://example.test/commit/" + sha
	c.Commit.Message = message
	c.Commit.Author.Name = "Dev"
	c.Commit.Author.Date = date
	c.Author = &github.Account{Login: login}
	return c
}

func upstreamIssue(number int, title, state, login string, labels []string, updated string) github.Issue {
	issue := github.Issue{
		Number:    number,
		Title:     title,
		State:     state,
		HTMLURL:   "https://example.test/issues/1",
		User:      &github.Account{Login: login},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	for _, l := range labels {
		issue.Labels = append(issue.Labels, github.Label{Name: l})
	}
	return issue
}

func watchedSubscription() models.Subscription {
	return models.Subscription{
		ID:          7,
		OwnerUserID: 1,
		Repo:        "acme/widget",
		Status:      models.SubscriptionActive,
		Watches:     models.WatchSet{Commits: true, Issues: true},
	}
}

func TestFirstSyncIngestsEverything(t *testing.T) {
	platform := &fakePlatform{
		commits: []github.Commit{
			upstreamCommit("c1", "Fix parser", "alice", "2026-08-26T10:00:00Z"),
			upstreamCommit("c2", "Add cache", "bob", "2026-08-26T10:10:00Z"),
			upstreamCommit("c3", "Tidy docs", "alice", "2026-08-26T10:20:00Z"),
		},
		issues: []github.Issue{
			upstreamIssue(1, "Crash on start", "open", "carol", nil, "2026-08-26T10:30:00Z"),
			upstreamIssue(2, "Slow queries", "closed", "dave", nil, "2026-08-26T10:40:00Z"),
		},
	}
	st := newFakeStore()
	sink := &fakeSink{}
	svc := NewService(platform, st, sink, 0)

	res, err := svc.CollectForSubscription(context.Background(), watchedSubscription(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 5, sink.count())

	// Watermark lands on the newest upstream update.
	want := time.Date(2026, 8, 26, 10, 40, 0, 0, time.UTC)
	require.NotNil(t, res.Watermark)
	assert.Equal(t, want, *res.Watermark)
	assert.Equal(t, want, st.lastSync[7])
}

func TestResyncIsNoOp(t *testing.T) {
	platform := &fakePlatform{
		commits: []github.Commit{
			upstreamCommit("c1", "Fix parser", "alice", "2026-08-26T10:00:00Z"),
		},
		issues: []github.Issue{
			upstreamIssue(1, "Crash on start", "open", "carol", nil, "2026-08-26T10:30:00Z"),
		},
	}
	st := newFakeStore()
	sink := &fakeSink{}
	svc := NewService(platform, st, sink, 0)
	sub := watchedSubscription()

	first, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)

	before := st.lastSync[7]
	second, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 2, sink.count(), "no events on re-sync")
	assert.False(t, st.lastSync[7].Before(before), "watermark never regresses")
}

func TestExcludeLabelFilter(t *testing.T) {
	platform := &fakePlatform{
		issues: []github.Issue{
			upstreamIssue(3, "Old request", "open", "carol",
				[]string{"bug", "wontfix"}, "2026-08-26T10:00:00Z"),
			upstreamIssue(4, "Real bug", "open", "carol",
				[]string{"bug"}, "2026-08-26T10:05:00Z"),
		},
	}
	st := newFakeStore()
	sink := &fakeSink{}
	svc := NewService(platform, st, sink, 0)
	sub := watchedSubscription()
	sub.Watches = models.WatchSet{Issues: true}
	sub.Filters.ExcludeLabels = []string{"wontfix"}

	res, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, "4", sink.events[0].Activity.ExternalID)
}

func TestIncludeLabelRequiresIntersection(t *testing.T) {
	platform := &fakePlatform{
		issues: []github.Issue{
			upstreamIssue(5, "Docs typo", "open", "carol",
				[]string{"docs"}, "2026-08-26T10:00:00Z"),
		},
		commits: []github.Commit{
			upstreamCommit("c9", "Unlabeled work", "alice", "2026-08-26T10:01:00Z"),
		},
	}
	st := newFakeStore()
	svc := NewService(platform, st, nil, 0)
	sub := watchedSubscription()
	sub.Filters.IncludeLabels = []string{"bug"}

	res, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)

	// The unlabeled commit passes; label filters bind issues and PRs only.
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Filtered)
}

func TestExcludeAuthorFilter(t *testing.T) {
	platform := &fakePlatform{
		commits: []github.Commit{
			upstreamCommit("c1", "Bump deps", "Renovate-Bot", "2026-08-26T10:00:00Z"),
			upstreamCommit("c2", "Fix bug", "alice", "2026-08-26T10:01:00Z"),
		},
	}
	st := newFakeStore()
	svc := NewService(platform, st, nil, 0)
	sub := watchedSubscription()
	sub.Watches = models.WatchSet{Commits: true}
	sub.Filters.ExcludeAuthors = []string{"renovate-bot"}

	res, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Filtered)
}

func TestInactiveSubscriptionReturnsEmpty(t *testing.T) {
	platform := &fakePlatform{
		commits: []github.Commit{
			upstreamCommit("c1", "Fix parser", "alice", "2026-08-26T10:00:00Z"),
		},
	}
	st := newFakeStore()
	svc := NewService(platform, st, nil, 0)
	sub := watchedSubscription()
	sub.Status = models.SubscriptionPaused

	res, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)
	assert.Empty(t, st.activities)
}

func TestSinceUsesWatermarkWhenNewer(t *testing.T) {
	platform := &fakePlatform{}
	st := newFakeStore()
	svc := NewService(platform, st, nil, 0)

	last := time.Now().UTC().Add(-1 * time.Hour)
	sub := watchedSubscription()
	sub.LastSyncAt = &last

	_, err := svc.CollectForSubscription(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, last, platform.commitsSince)
	assert.Equal(t, last, platform.issuesSince)
}

func TestFetchErrorProceedsToNextKind(t *testing.T) {
	platform := &fakePlatform{
		commitsErr: errors.New("upstream down"),
		issues: []github.Issue{
			upstreamIssue(1, "Crash on start", "open", "carol", nil, "2026-08-26T10:30:00Z"),
		},
	}
	st := newFakeStore()
	svc := NewService(platform, st, nil, 0)

	res, err := svc.CollectForSubscription(context.Background(), watchedSubscription(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Inserted, "issue ingestion survives the commit failure")
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	good := watchedSubscription()
	bad := watchedSubscription()
	bad.ID = 8
	bad.Repo = "acme/broken"
	paused := watchedSubscription()
	paused.ID = 9
	paused.Status = models.SubscriptionPaused

	platform := &fakePlatform{
		commits: []github.Commit{
			upstreamCommit("c1", "Fix parser", "alice", "2026-08-26T10:00:00Z"),
		},
		issuesErr: errors.New("upstream down"),
	}
	st := newFakeStore(good, bad, paused)
	svc := NewService(platform, st, nil, 2)

	sweep, err := svc.CollectAll(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, sweep.Subscriptions, "paused subscription not swept")
	assert.Equal(t, 2, sweep.Inserted, "one commit per active subscription")
	assert.Equal(t, 2, sweep.Errors, "one issue failure per active subscription")
}

func TestNormalizationBoundsAndShapes(t *testing.T) {
	longBody := make([]byte, maxBodyLen+200)
	for i := range longBody {
		longBody[i] = 'x'
	}

	issue := upstreamIssue(42, "Crash", "open", "carol", []string{"bug"}, "2026-08-26T10:00:00Z")
	issue.Body = string(longBody)
	issue.Assignees = []github.Account{{Login: "dave"}}
	a := normalizeIssue(7, issue)
	assert.Equal(t, "42", a.ExternalID)
	assert.Len(t, a.Body, maxBodyLen)
	assert.JSONEq(t, `{"assignees":["dave"]}`, string(a.Extras))

	commit := upstreamCommit("abc123", "Fix parser\n\nHandle empty input.", "alice", "2026-08-26T10:00:00Z")
	c := normalizeCommit(7, commit)
	assert.Equal(t, "abc123", c.ExternalID)
	assert.Equal(t, "Fix parser", c.Title)
	assert.Equal(t, "Handle empty input.", c.Body)
	assert.Equal(t, "alice", c.Author.Login)

	release := github.Release{
		ID:          9001,
		TagName:     "v1.2.0",
		HTMLURL:     "https://example.test/releases/v1.2.0",
		PublishedAt: "2026-08-26T09:00:00Z",
	}
	r := normalizeRelease(7, release)
	assert.Equal(t, "9001", r.ExternalID)
	assert.Equal(t, "v1.2.0", r.Title, "tag name stands in for a missing release name")
}

func TestTruncationKeepsRuneBoundaries(t *testing.T) {
	// 400 three-byte runes = 1200 bytes; the 1000-byte bound falls
	// mid-rune, so the cut must back up to the previous boundary.
	issue := upstreamIssue(42, "Crash", "open", "carol", nil, "2026-08-26T10:00:00Z")
	issue.Body = strings.Repeat("汉", 400)
	a := normalizeIssue(7, issue)

	assert.True(t, utf8.ValidString(a.Body))
	assert.LessOrEqual(t, len(a.Body), maxBodyLen)
	assert.Equal(t, 999, len(a.Body))
	assert.True(t, strings.HasSuffix(a.Body, "汉"))

	ascii := strings.Repeat("x", maxTitleLen+10)
	issue.Title = ascii
	b := normalizeIssue(7, issue)
	assert.Len(t, b.Title, maxTitleLen, "pure ASCII still cuts exactly at the bound")
}

func TestActivityExtrasMarshalInline(t *testing.T) {
	release := github.Release{
		ID:          9001,
		TagName:     "v1.2.0",
		Prerelease:  true,
		PublishedAt: "2026-08-26T09:00:00Z",
	}
	a := normalizeRelease(7, release)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"extras":{`, "extras is a JSON object, not base64")

	var decoded struct {
		Extras map[string]any `json:"extras"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "v1.2.0", decoded.Extras["tag"])
	assert.Equal(t, true, decoded.Extras["prerelease"])
}
