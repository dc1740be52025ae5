package notify

import (
	"strings"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// RuleMatches evaluates one rule against one event. Every populated
// condition must match; empty condition lists are wildcards, so a rule
// with no conditions matches every event of any kind.
func RuleMatches(rule models.NotificationRule, ev Event) bool {
	if !rule.Enabled {
		return false
	}
	c := rule.Conditions

	if len(c.EventKinds) > 0 && !containsKind(c.EventKinds, ev.Kind) {
		return false
	}
	if len(c.Repos) > 0 && !containsFold(c.Repos, ev.Repo) {
		return false
	}
	if len(c.Authors) > 0 && !containsFold(c.Authors, ev.Author) {
		return false
	}
	if len(c.Keywords) > 0 && !anyKeyword(c.Keywords, ev.Title, ev.Body) {
		return false
	}
	for metric, bound := range c.Thresholds {
		value, ok := ev.Metrics[metric]
		if !ok || value < bound {
			return false
		}
	}
	return true
}

func containsKind(kinds []models.ActivityKind, kind string) bool {
	for _, k := range kinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// anyKeyword reports whether at least one keyword appears
// case-insensitively in the title or body.
func anyKeyword(keywords []string, title, body string) bool {
	title = strings.ToLower(title)
	body = strings.ToLower(body)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) || strings.Contains(body, kw) {
			return true
		}
	}
	return false
}
