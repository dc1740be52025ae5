package github

import (
	"log/slog"
	"time"
)

// Wire structs keep timestamps as strings so one bad value drops that
// field instead of failing the whole document.

// Repo is the repository metadata returned by GetRepo.
type Repo struct {
	FullName        string   `json:"full_name"`
	Description     string   `json:"description"`
	HTMLURL         string   `json:"html_url"`
	Language        string   `json:"language"`
	StargazersCount int      `json:"stargazers_count"`
	ForksCount      int      `json:"forks_count"`
	WatchersCount   int      `json:"watchers_count"`
	OpenIssuesCount int      `json:"open_issues_count"`
	Topics          []string `json:"topics"`
}

// Account identifies a platform user on a commit, issue, or release.
type Account struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Commit is one entry from the commit listing.
type Commit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *Account `json:"author"`
}

// CommittedAt returns the strictly parsed commit time, nil when absent
// or unparseable.
func (c Commit) CommittedAt() *time.Time {
	return parseTime(c.Commit.Author.Date)
}

// Label is an issue or pull request label.
type Label struct {
	Name string `json:"name"`
}

// Issue is one entry from the issue listing. The platform reports pull
// requests on the same endpoint; those carry a pull_request key and are
// skipped.
type Issue struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	State       string   `json:"state"`
	HTMLURL     string   `json:"html_url"`
	User        *Account `json:"user"`
	Labels      []Label  `json:"labels"`
	Assignees   []Account `json:"assignees"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// PullRequest is one entry from the pull request listing.
type PullRequest struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Draft     bool     `json:"draft"`
	HTMLURL   string   `json:"html_url"`
	User      *Account `json:"user"`
	Labels    []Label  `json:"labels"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	MergedAt  string   `json:"merged_at"`
}

// Release is one entry from the release listing.
type Release struct {
	ID          int64    `json:"id"`
	TagName     string   `json:"tag_name"`
	Name        string   `json:"name"`
	Body        string   `json:"body"`
	HTMLURL     string   `json:"html_url"`
	Author      *Account `json:"author"`
	Draft       bool     `json:"draft"`
	Prerelease  bool     `json:"prerelease"`
	CreatedAt   string   `json:"created_at"`
	PublishedAt string   `json:"published_at"`
}

// CreatedAtTime returns the strictly parsed creation time.
func (i Issue) CreatedAtTime() *time.Time { return parseTime(i.CreatedAt) }

// UpdatedAtTime returns the strictly parsed update time.
func (i Issue) UpdatedAtTime() *time.Time { return parseTime(i.UpdatedAt) }

// CreatedAtTime returns the strictly parsed creation time.
func (p PullRequest) CreatedAtTime() *time.Time { return parseTime(p.CreatedAt) }

// UpdatedAtTime returns the strictly parsed update time.
func (p PullRequest) UpdatedAtTime() *time.Time { return parseTime(p.UpdatedAt) }

// PublishedAtTime returns the strictly parsed publication time, falling
// back to the creation time for drafts.
func (r Release) PublishedAtTime() *time.Time {
	if t := parseTime(r.PublishedAt); t != nil {
		return t
	}
	return parseTime(r.CreatedAt)
}

// parseTime parses an RFC3339 timestamp (with Z or numeric offset).
// Unparseable values are logged and dropped, never replaced with "now".
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		slog.Warn("Dropping unparseable upstream timestamp", "value", s)
		return nil
	}
	utc := t.UTC()
	return &utc
}

// LabelNames flattens labels to their names.
func LabelNames(labels []Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}
