// Package collector pulls windowed deltas from the platform, normalizes
// them into activities, upserts them, and advances the per-subscription
// watermark. New activities are handed to the notification engine.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/github-sentinel/sentinel/pkg/github"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/notify"
)

const (
	// DefaultWindow bounds how far back a collection pass looks when a
	// subscription has never been synced.
	DefaultWindow = 24 * time.Hour

	// DefaultFanOut caps how many subscriptions one sweep collects
	// concurrently.
	DefaultFanOut = 8

	releaseFetchLimit = 20
)

// Platform is the subset of the platform client the collector calls.
type Platform interface {
	GetRepo(ctx context.Context, ref string) (*github.Repo, error)
	ListCommits(ctx context.Context, ref string, since time.Time) ([]github.Commit, error)
	ListIssues(ctx context.Context, ref string, since time.Time, states []string) ([]github.Issue, error)
	ListPullRequests(ctx context.Context, ref string, sinceUpdated time.Time, states []string) ([]github.PullRequest, error)
	ListReleases(ctx context.Context, ref string, limit int) ([]github.Release, error)
}

// Store is the persistence surface the collector needs.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	UpsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, bool, error)
	AdvanceLastSync(ctx context.Context, id int64, ts time.Time) error
}

// Sink receives a NewActivity event for every freshly inserted activity.
type Sink interface {
	HandleNewActivity(ctx context.Context, ev notify.NewActivityEvent)
}

// Service runs collection passes. A nil sink disables event emission.
type Service struct {
	platform Platform
	store    Store
	sink     Sink
	fanOut   int
	logger   *slog.Logger
}

// NewService builds a collector. fanOut <= 0 selects DefaultFanOut.
func NewService(platform Platform, store Store, sink Sink, fanOut int) *Service {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Service{
		platform: platform,
		store:    store,
		sink:     sink,
		fanOut:   fanOut,
		logger:   slog.With("component", "collector"),
	}
}

// CollectForSubscription runs one collection pass: fetch each watched
// kind since max(lastSyncAt, now-window), filter, normalize, upsert,
// advance the watermark, and emit events for inserts only. Inactive
// subscriptions return an empty result.
func (s *Service) CollectForSubscription(ctx context.Context, sub models.Subscription, window time.Duration) (*models.CollectionResult, error) {
	res := &models.CollectionResult{SubscriptionID: sub.ID, Repo: sub.Repo}
	if sub.Status != models.SubscriptionActive {
		s.logger.Debug("Skipping inactive subscription",
			"subscription_id", sub.ID, "status", sub.Status)
		return res, nil
	}
	if window <= 0 {
		window = DefaultWindow
	}

	now := time.Now().UTC()
	since := now.Add(-window)
	if sub.LastSyncAt != nil && sub.LastSyncAt.After(since) {
		since = *sub.LastSyncAt
	}

	s.refreshRepoMetadata(ctx, &sub)

	candidates := s.fetch(ctx, sub, since, res)

	var maxUpdated time.Time
	for i := range candidates {
		c := &candidates[i]
		if c.SourceUpdatedAt != nil && c.SourceUpdatedAt.After(maxUpdated) {
			maxUpdated = *c.SourceUpdatedAt
		}
		stored, inserted, err := s.store.UpsertActivity(ctx, c)
		if err != nil {
			s.logger.Warn("Activity upsert failed",
				"subscription_id", sub.ID, "kind", c.Kind,
				"external_id", c.ExternalID, "error", err)
			res.Errors++
			continue
		}
		if inserted {
			res.Inserted++
			res.NewActivities = append(res.NewActivities, *stored)
		} else {
			res.Updated++
		}
	}

	watermark := maxUpdated
	if watermark.IsZero() {
		watermark = now
	}
	if err := s.store.AdvanceLastSync(ctx, sub.ID, watermark); err != nil {
		s.logger.Warn("Watermark advance failed",
			"subscription_id", sub.ID, "error", err)
		res.Errors++
	} else {
		res.Watermark = &watermark
	}

	if s.sink != nil {
		for _, a := range res.NewActivities {
			s.sink.HandleNewActivity(ctx, notify.NewActivityEvent{
				Activity:     a,
				Subscription: sub,
			})
		}
	}

	s.logger.Info("Collection pass finished",
		"subscription_id", sub.ID, "repository", sub.Repo,
		"fetched", res.Fetched, "inserted", res.Inserted,
		"updated", res.Updated, "filtered", res.Filtered,
		"errors", res.Errors)
	return res, nil
}

// SweepResult aggregates one CollectAll pass.
type SweepResult struct {
	Subscriptions int `json:"subscriptions"`
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	Errors        int `json:"errors"`
}

// CollectAll sweeps every active subscription concurrently, bounded by
// the configured fan-out. One failing subscription never aborts the
// sweep; it counts as an error.
func (s *Service) CollectAll(ctx context.Context, window time.Duration) (*SweepResult, error) {
	subs, err := s.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		sweep = SweepResult{Subscriptions: len(subs)}
		g     errgroup.Group
	)
	g.SetLimit(s.fanOut)

	for _, sub := range subs {
		g.Go(func() error {
			res, err := s.CollectForSubscription(ctx, sub, window)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("Subscription collection failed",
					"subscription_id", sub.ID, "repository", sub.Repo, "error", err)
				sweep.Errors++
				return nil
			}
			sweep.Inserted += res.Inserted
			sweep.Updated += res.Updated
			sweep.Errors += res.Errors
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Collection sweep finished",
		"subscriptions", sweep.Subscriptions, "inserted", sweep.Inserted,
		"updated", sweep.Updated, "errors", sweep.Errors)
	return &sweep, nil
}

// fetch pulls each watched kind, applies the subscription's filters,
// and returns normalized candidates. Per-kind failures are counted and
// the pass proceeds to the next kind.
func (s *Service) fetch(ctx context.Context, sub models.Subscription, since time.Time, res *models.CollectionResult) []models.Activity {
	var candidates []models.Activity

	keep := func(a models.Activity) {
		res.Fetched++
		if excluded(sub.Filters, a) {
			res.Filtered++
			return
		}
		candidates = append(candidates, a)
	}
	fail := func(kind models.ActivityKind, err error) {
		s.logger.Warn("Fetch failed",
			"subscription_id", sub.ID, "repository", sub.Repo,
			"kind", kind, "error", err)
		res.Errors++
	}

	if sub.Watches.Commits {
		commits, err := s.platform.ListCommits(ctx, sub.Repo, since)
		if err != nil {
			fail(models.KindCommit, err)
		}
		for _, c := range commits {
			keep(normalizeCommit(sub.ID, c))
		}
	}
	if sub.Watches.Issues {
		issues, err := s.platform.ListIssues(ctx, sub.Repo, since, nil)
		if err != nil {
			fail(models.KindIssue, err)
		}
		for _, i := range issues {
			keep(normalizeIssue(sub.ID, i))
		}
	}
	if sub.Watches.PullRequests {
		prs, err := s.platform.ListPullRequests(ctx, sub.Repo, since, nil)
		if err != nil {
			fail(models.KindPullRequest, err)
		}
		for _, p := range prs {
			keep(normalizePullRequest(sub.ID, p))
		}
	}
	if sub.Watches.Releases {
		releases, err := s.platform.ListReleases(ctx, sub.Repo, releaseFetchLimit)
		if err != nil {
			fail(models.KindRelease, err)
		}
		for _, r := range releases {
			if t := r.PublishedAtTime(); t != nil && t.Before(since) {
				continue
			}
			keep(normalizeRelease(sub.ID, r))
		}
	}
	return candidates
}

// refreshRepoMetadata updates the subscription's cached repository
// fields. Best effort; a failure never blocks collection.
func (s *Service) refreshRepoMetadata(ctx context.Context, sub *models.Subscription) {
	repo, err := s.platform.GetRepo(ctx, sub.Repo)
	if err != nil {
		s.logger.Debug("Repository metadata refresh failed",
			"repository", sub.Repo, "error", err)
		return
	}
	sub.Description = repo.Description
	sub.URL = repo.HTMLURL
	sub.Language = repo.Language
	sub.Stars = repo.StargazersCount
	sub.Forks = repo.ForksCount
	sub.Topics = repo.Topics
	if _, err := s.store.UpdateSubscription(ctx, sub); err != nil {
		s.logger.Debug("Repository metadata persist failed",
			"subscription_id", sub.ID, "error", err)
	}
}
