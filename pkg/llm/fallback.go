package llm

import (
	"fmt"
	"strings"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// fallbackSummary synthesizes a deterministic summary from activity
// statistics. Used whenever the provider is unavailable or fails.
func fallbackSummary(repo string, stats models.ReportStats) string {
	if repo == "" {
		repo = "the repository"
	}

	var parts []string
	if stats.Commits > 0 {
		parts = append(parts, fmt.Sprintf("%d new commits", stats.Commits))
	}
	if stats.Issues > 0 {
		parts = append(parts, fmt.Sprintf("%d issue updates", stats.Issues))
	}
	if stats.PullRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d pull requests", stats.PullRequests))
	}
	if stats.Releases > 0 {
		parts = append(parts, fmt.Sprintf("%d new releases", stats.Releases))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("No new activity in %s during this period.", repo)
	}
	return fmt.Sprintf("During this period %s saw %s.", repo, joinList(parts))
}

// fallbackTrendAnalysis synthesizes a deterministic trend paragraph from
// activity statistics.
func fallbackTrendAnalysis(stats models.ReportStats) string {
	var parts []string

	switch {
	case stats.Commits > 10:
		parts = append(parts, "Commit activity is high, indicating active development")
	case stats.Commits > 0:
		parts = append(parts, "Commit activity is steady, with development progressing at a moderate pace")
	default:
		parts = append(parts, "Few commits landed in this period")
	}

	if stats.Issues > 5 {
		parts = append(parts, "issue activity is lively, suggesting good community engagement")
	} else if stats.Issues > 0 {
		parts = append(parts, "there is some issue activity")
	}

	if stats.PullRequests > 3 {
		parts = append(parts, "a healthy number of pull requests shows strong collaboration")
	} else if stats.PullRequests > 0 {
		parts = append(parts, "contributions are flowing through pull requests")
	}

	if stats.Activities == 0 {
		return "Activity was low in this period. Consider increasing development pace and encouraging community participation."
	}
	return strings.Join(parts, "; ") +
		". Keeping the current development rhythm while watching code quality and documentation is recommended."
}

func joinList(parts []string) string {
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}
