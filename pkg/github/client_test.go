package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/github-sentinel/sentinel/pkg/config"
)

func newTestClient(baseURL string, retries int) *Client {
	return NewClient(config.GitHubConfig{
		APIURL:             baseURL,
		Token:              "test-token",
		Retries:            retries,
		RetryDelay:         10 * time.Millisecond,
		MaxRequestsPerHour: 5000,
		MaxPages:           10,
		RateWaitCeiling:    time.Second,
	})
}

func TestGetRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"full_name":"acme/widget","description":"widgets","html_url":"https://example.com/acme/widget","language":"Go","stargazers_count":42,"forks_count":7,"topics":["tooling"]}`)
	}))
	defer srv.Close()

	repo, err := newTestClient(srv.URL, 0).GetRepo(context.Background(), "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", repo.FullName)
	assert.Equal(t, "Go", repo.Language)
	assert.Equal(t, 42, repo.StargazersCount)
	assert.Equal(t, []string{"tooling"}, repo.Topics)
}

func TestListCommits_FollowsLinkHeader(t *testing.T) {
	var pagesServed atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch pagesServed.Add(1) {
		case 1:
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widget/commits?page=2>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"sha":"c1","commit":{"message":"first","author":{"name":"a","date":"2026-03-01T10:00:00Z"}}},{"sha":"c2","commit":{"message":"second","author":{"name":"a","date":"2026-03-01T11:00:00Z"}}}]`)
		default:
			fmt.Fprint(w, `[{"sha":"c3","commit":{"message":"third","author":{"name":"a","date":"2026-03-01T12:00:00Z"}}}]`)
		}
	}))
	defer srv.Close()

	commits, err := newTestClient(srv.URL, 0).ListCommits(context.Background(),
		"acme/widget", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, "c1", commits[0].SHA)
	assert.Equal(t, "c3", commits[2].SHA)
	assert.EqualValues(t, 2, pagesServed.Load())
}

func TestListIssues_SkipsPullRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") == "closed" {
			fmt.Fprint(w, `[]`)
			return
		}
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		fmt.Fprint(w, `[{"number":1,"title":"real issue","state":"open","updated_at":"2026-03-01T10:00:00Z"},{"number":2,"title":"actually a PR","state":"open","pull_request":{"url":"https://example.com/pulls/2"}}]`)
	}))
	defer srv.Close()

	issues, err := newTestClient(srv.URL, 0).ListIssues(context.Background(),
		"acme/widget", time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Number)
}

func TestListPullRequests_StopsAtSince(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("state") == "closed" {
			fmt.Fprint(w, `[]`)
			return
		}
		// Everything on this page predates the cutoff; no second page
		// should be requested for this state.
		w.Header().Set("Link", `<https://example.invalid/next>; rel="next"`)
		fmt.Fprint(w, `[{"number":9,"title":"old pr","state":"open","updated_at":"2020-01-01T00:00:00Z"}]`)
	}))
	defer srv.Close()

	prs, err := newTestClient(srv.URL, 0).ListPullRequests(context.Background(),
		"acme/widget", time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	assert.Empty(t, prs)
	assert.EqualValues(t, 2, requests.Load()) // one page per state
}

func TestRetryAfterHonored(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL, 2).ListIssues(context.Background(),
		"acme/widget", time.Now().Add(-time.Hour), []string{"open"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.EqualValues(t, 2, requests.Load())
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "forbidden maps to unauthorized",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "retries exhausted on 5xx",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var te *TransientError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 2, te.Attempts)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"not":"a repo`,
			check: func(t *testing.T, err error) {
				var me *MalformedError
				assert.ErrorAs(t, err, &me)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, 1).GetRepo(context.Background(), "acme/widget")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	c.waitLimit = 50 * time.Millisecond

	// First request consumes the only token; the second cannot be
	// granted within the wait ceiling.
	_, err := c.GetRepo(context.Background(), "acme/widget")
	require.NoError(t, err)
	_, err = c.GetRepo(context.Background(), "acme/widget")
	assert.ErrorIs(t, err, ErrRateLimitExhausted)
}

func TestStrictTimeParsing(t *testing.T) {
	issue := Issue{CreatedAt: "2026-03-01T10:00:00Z", UpdatedAt: "yesterday-ish"}
	require.NotNil(t, issue.CreatedAtTime())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *issue.CreatedAtTime())
	assert.Nil(t, issue.UpdatedAtTime())

	rel := Release{PublishedAt: "", CreatedAt: "2026-03-01T09:00:00+08:00"}
	require.NotNil(t, rel.PublishedAtTime())
	assert.Equal(t, time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC), *rel.PublishedAtTime())
}

func TestParseLinkHeader(t *testing.T) {
	links := parseLinkHeader(`<https://api.example.com/x?page=2>; rel="next", <https://api.example.com/x?page=5>; rel="last"`)
	assert.Equal(t, "https://api.example.com/x?page=2", links["next"])
	assert.Equal(t, "https://api.example.com/x?page=5", links["last"])
	assert.Empty(t, parseLinkHeader(""))
}
