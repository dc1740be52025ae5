package collector

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/github-sentinel/sentinel/pkg/github"
	"github.com/github-sentinel/sentinel/pkg/models"
)

// Normalization bounds. Longer upstream text is truncated, never
// rejected.
const (
	maxTitleLen = 500
	maxBodyLen  = 1000
)

func normalizeCommit(subscriptionID int64, c github.Commit) models.Activity {
	title, body := splitCommitMessage(c.Commit.Message)
	a := models.Activity{
		SubscriptionID: subscriptionID,
		Kind:           models.KindCommit,
		ExternalID:     c.SHA,
		Title:          truncate(title, maxTitleLen),
		Body:           truncate(body, maxBodyLen),
		URL:            c.HTMLURL,
		Author:         models.Author{Name: c.Commit.Author.Name},
	}
	if c.Author != nil {
		a.Author.Login = c.Author.Login
		a.Author.AvatarURL = c.Author.AvatarURL
	}
	at := c.CommittedAt()
	a.SourceCreatedAt = at
	a.SourceUpdatedAt = at
	return a
}

func normalizeIssue(subscriptionID int64, i github.Issue) models.Activity {
	a := models.Activity{
		SubscriptionID:  subscriptionID,
		Kind:            models.KindIssue,
		ExternalID:      strconv.Itoa(i.Number),
		Title:           truncate(i.Title, maxTitleLen),
		Body:            truncate(i.Body, maxBodyLen),
		URL:             i.HTMLURL,
		Labels:          github.LabelNames(i.Labels),
		State:           i.State,
		SourceCreatedAt: i.CreatedAtTime(),
		SourceUpdatedAt: i.UpdatedAtTime(),
	}
	if i.User != nil {
		a.Author = models.Author{Login: i.User.Login, AvatarURL: i.User.AvatarURL}
	}
	if len(i.Assignees) > 0 {
		logins := make([]string, 0, len(i.Assignees))
		for _, as := range i.Assignees {
			logins = append(logins, as.Login)
		}
		a.Extras = encodeExtras(map[string]any{"assignees": logins})
	}
	return a
}

func normalizePullRequest(subscriptionID int64, p github.PullRequest) models.Activity {
	a := models.Activity{
		SubscriptionID:  subscriptionID,
		Kind:            models.KindPullRequest,
		ExternalID:      strconv.Itoa(p.Number),
		Title:           truncate(p.Title, maxTitleLen),
		Body:            truncate(p.Body, maxBodyLen),
		URL:             p.HTMLURL,
		Labels:          github.LabelNames(p.Labels),
		State:           p.State,
		SourceCreatedAt: p.CreatedAtTime(),
		SourceUpdatedAt: p.UpdatedAtTime(),
	}
	if p.User != nil {
		a.Author = models.Author{Login: p.User.Login, AvatarURL: p.User.AvatarURL}
	}
	extras := map[string]any{}
	if p.Draft {
		extras["draft"] = true
	}
	if p.MergedAt != "" {
		extras["merged_at"] = p.MergedAt
	}
	if len(extras) > 0 {
		a.Extras = encodeExtras(extras)
	}
	return a
}

func normalizeRelease(subscriptionID int64, r github.Release) models.Activity {
	title := r.Name
	if title == "" {
		title = r.TagName
	}
	a := models.Activity{
		SubscriptionID:  subscriptionID,
		Kind:            models.KindRelease,
		ExternalID:      strconv.FormatInt(r.ID, 10),
		Title:           truncate(title, maxTitleLen),
		Body:            truncate(r.Body, maxBodyLen),
		URL:             r.HTMLURL,
		SourceCreatedAt: r.PublishedAtTime(),
		SourceUpdatedAt: r.PublishedAtTime(),
	}
	if r.Author != nil {
		a.Author = models.Author{Login: r.Author.Login, AvatarURL: r.Author.AvatarURL}
	}
	extras := map[string]any{"tag": r.TagName}
	if r.Prerelease {
		extras["prerelease"] = true
	}
	a.Extras = encodeExtras(extras)
	return a
}

// excluded applies the subscription's filters to a normalized
// candidate. Label filters only constrain labeled kinds; commits and
// releases carry no labels and pass through them.
func excluded(f models.SubscriptionFilters, a models.Activity) bool {
	for _, author := range f.ExcludeAuthors {
		if strings.EqualFold(author, a.Author.Login) {
			return true
		}
	}
	if a.Kind == models.KindIssue || a.Kind == models.KindPullRequest {
		if intersects(a.Labels, f.ExcludeLabels) {
			return true
		}
		if len(f.IncludeLabels) > 0 && !intersects(a.Labels, f.IncludeLabels) {
			return true
		}
	}
	return false
}

func intersects(labels, filter []string) bool {
	for _, l := range labels {
		for _, f := range filter {
			if strings.EqualFold(l, f) {
				return true
			}
		}
	}
	return false
}

func splitCommitMessage(message string) (title, body string) {
	title, body, _ = strings.Cut(message, "\n")
	return strings.TrimSpace(title), strings.TrimSpace(body)
}

// truncate bounds s to at most limit bytes without splitting a rune;
// a cut mid-rune would leave invalid UTF-8 behind.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func encodeExtras(m map[string]any) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
