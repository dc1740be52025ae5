// Package github implements the rate-limited, retrying client for the
// platform REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/github-sentinel/sentinel/pkg/config"
)

const (
	perPage        = 50
	requestTimeout = 30 * time.Second
)

// Client is safe for concurrent use. The token bucket is process-global
// to the client and guards every outbound request.
type Client struct {
	baseURL    string
	token      string
	retries    int
	retryDelay time.Duration
	maxPages   int
	waitLimit  time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a client from configuration. The token bucket is
// sized to the platform's declared hourly quota with a small burst so
// short sweeps are not throttled artificially.
func NewClient(cfg config.GitHubConfig) *Client {
	perSecond := rate.Limit(float64(cfg.MaxRequestsPerHour) / 3600.0)
	burst := cfg.MaxRequestsPerHour / 100
	if burst < 10 {
		burst = 10
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		maxPages:   cfg.MaxPages,
		waitLimit:  cfg.RateWaitCeiling,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(perSecond, burst),
		logger:     slog.With("component", "github_client"),
	}
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, ref string) (*Repo, error) {
	var repo Repo
	endpoint := fmt.Sprintf("/repos/%s", ref)
	if err := c.getJSON(ctx, endpoint, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListCommits lists commits newer than since.
func (c *Client) ListCommits(ctx context.Context, ref string, since time.Time) ([]Commit, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("/repos/%s/commits", ref)

	var commits []Commit
	err := c.paginate(ctx, endpoint, params, func(body []byte) (int, error) {
		var page []Commit
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		commits = append(commits, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// ListIssues lists issues updated since the given time. The endpoint
// also returns pull requests; those are filtered out here.
func (c *Client) ListIssues(ctx context.Context, ref string, since time.Time, states []string) ([]Issue, error) {
	endpoint := fmt.Sprintf("/repos/%s/issues", ref)

	var issues []Issue
	for _, state := range statesOrDefault(states) {
		params := url.Values{}
		params.Set("state", state)
		params.Set("since", since.UTC().Format(time.RFC3339))
		params.Set("sort", "updated")
		params.Set("direction", "desc")

		err := c.paginate(ctx, endpoint, params, func(body []byte) (int, error) {
			var page []Issue
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			for _, issue := range page {
				if issue.PullRequest != nil {
					continue
				}
				issues = append(issues, issue)
			}
			return len(page), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// ListPullRequests lists pull requests updated since the given time.
// The endpoint has no since parameter; pagination stops at the first
// page whose newest item predates the cutoff.
func (c *Client) ListPullRequests(ctx context.Context, ref string, sinceUpdated time.Time, states []string) ([]PullRequest, error) {
	endpoint := fmt.Sprintf("/repos/%s/pulls", ref)

	var prs []PullRequest
	for _, state := range statesOrDefault(states) {
		params := url.Values{}
		params.Set("state", state)
		params.Set("sort", "updated")
		params.Set("direction", "desc")

		err := c.paginate(ctx, endpoint, params, func(body []byte) (int, error) {
			var page []PullRequest
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			fresh := 0
			for _, pr := range page {
				updated := pr.UpdatedAtTime()
				if updated == nil || !updated.After(sinceUpdated) {
					continue
				}
				prs = append(prs, pr)
				fresh++
			}
			return fresh, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return prs, nil
}

// ListReleases lists the most recent releases, bounded by limit.
func (c *Client) ListReleases(ctx context.Context, ref string, limit int) ([]Release, error) {
	if limit <= 0 || limit > perPage {
		limit = perPage
	}
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("/repos/%s/releases", ref)

	var releases []Release
	if err := c.getJSON(ctx, endpoint, params, &releases); err != nil {
		return nil, err
	}
	if len(releases) > limit {
		releases = releases[:limit]
	}
	return releases, nil
}

func statesOrDefault(states []string) []string {
	if len(states) == 0 {
		return []string{"open", "closed"}
	}
	return states
}

// paginate fetches endpoint pages following the Link header until the
// handler reports no fresh items, the continuation ends, or the page cap
// is reached.
func (c *Client) paginate(ctx context.Context, endpoint string, params url.Values, handle func(body []byte) (int, error)) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("per_page", strconv.Itoa(perPage))

	next := c.baseURL + endpoint + "?" + params.Encode()
	for page := 0; page < c.maxPages && next != ""; page++ {
		body, links, err := c.do(ctx, next)
		if err != nil {
			return err
		}
		fresh, err := handle(body)
		if err != nil {
			return &MalformedError{Endpoint: endpoint, Err: err}
		}
		if fresh == 0 {
			return nil
		}
		next = links["next"]
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, target any) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, _, err := c.do(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &MalformedError{Endpoint: endpoint, Err: err}
	}
	return nil
}

// do performs one logical GET with rate limiting and retries. Transient
// failures (network errors, 5xx, 429) are retried with exponential
// backoff and jitter; 429 honors the Retry-After hint.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, map[string]string, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, nil, err
	}

	var (
		lastErr error
		delay   time.Duration
	)
	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, nil, err
		}

		body, links, retryAfter, err := c.attempt(ctx, rawURL)
		if err == nil {
			return body, links, nil
		}
		if !isTransient(err) {
			return nil, nil, err
		}
		lastErr = err

		if retryAfter > 0 {
			c.logger.Warn("Rate limited by upstream, honoring Retry-After",
				"url", rawURL, "retry_after", retryAfter)
			delay = retryAfter
		} else {
			delay = c.backoff(attempt + 1)
		}
	}
	return nil, nil, &TransientError{Attempts: attempts, Err: lastErr}
}

// errTransientStatus marks retryable HTTP statuses internally.
type errTransientStatus struct {
	status int
}

func (e *errTransientStatus) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

func isTransient(err error) bool {
	var ts *errTransientStatus
	if errors.As(err, &ts) {
		return true
	}
	// Network-level errors are transient; taxonomy errors are not.
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) attempt(ctx context.Context, rawURL string) (body []byte, links map[string]string, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, nil, 0, err
		}
		return data, parseLinkHeader(resp.Header.Get("Link")), 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, 0, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, 0, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, parseRetryAfter(resp.Header.Get("Retry-After")), &errTransientStatus{status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, nil, 0, &errTransientStatus{status: resp.StatusCode}
	default:
		return nil, nil, 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
}

// acquire blocks on the token bucket up to the wait ceiling. Depletion
// past the ceiling fails with ErrRateLimitExhausted rather than queueing
// callers indefinitely.
func (c *Client) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitLimit)
	defer cancel()

	if err := c.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimitExhausted
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	base := c.retryDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// parseLinkHeader extracts rel → URL pairs from an RFC 5988 Link header.
func parseLinkHeader(header string) map[string]string {
	links := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(strings.TrimSpace(part), ";")
		if len(sections) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, attr := range sections[1:] {
			attr = strings.TrimSpace(attr)
			if rel, ok := strings.CutPrefix(attr, `rel="`); ok {
				links[strings.TrimSuffix(rel, `"`)] = target
			}
		}
	}
	return links
}
