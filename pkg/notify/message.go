package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/github-sentinel/sentinel/pkg/models"
)

const maxBlockTextLength = 2900

var kindEmoji = map[models.ActivityKind]string{
	models.KindCommit:      ":hammer_and_wrench:",
	models.KindIssue:       ":beetle:",
	models.KindPullRequest: ":twisted_rightwards_arrows:",
	models.KindRelease:     ":rocket:",
}

var kindLabel = map[models.ActivityKind]string{
	models.KindCommit:      "New Commit",
	models.KindIssue:       "Issue Update",
	models.KindPullRequest: "Pull Request Update",
	models.KindRelease:     "New Release",
}

// BuildActivityMessage creates Block Kit blocks for an activity
// notification.
func BuildActivityMessage(ev NewActivityEvent) []goslack.Block {
	a := ev.Activity
	emoji := kindEmoji[a.Kind]
	if emoji == "" {
		emoji = ":bell:"
	}
	label := kindLabel[a.Kind]
	if label == "" {
		label = "Repository Update"
	}

	header := fmt.Sprintf("%s *%s* — %s", emoji, label, ev.Subscription.Repo)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Title:*\n%s", truncateForChat(a.Title)), false, false),
	}
	if a.Author.Login != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Author:*\n%s", a.Author.Login), false, false))
	}
	if a.State != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*State:*\n%s", a.State), false, false))
	}
	blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	blocks = append(blocks, goslack.NewDividerBlock())

	if a.URL != "" {
		link := fmt.Sprintf("<%s|View on the platform>", a.URL)
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, link, false, false),
			nil, nil,
		))
	}
	return blocks
}

// BuildReportMessage creates Block Kit blocks for a report-ready
// notification: header, stats fields, divider, and summary.
func BuildReportMessage(ev ReportReadyEvent) []goslack.Block {
	r := ev.Report
	header := fmt.Sprintf(":bar_chart: *%s*", r.Title)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Activities:*\n%d", r.Stats.Activities), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Commits:*\n%d", r.Stats.Commits), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Issues:*\n%d", r.Stats.Issues), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Pull Requests:*\n%d", r.Stats.PullRequests), false, false),
	}
	blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	blocks = append(blocks, goslack.NewDividerBlock())

	if r.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForChat(r.Summary), false, false),
			nil, nil,
		))
	}
	return blocks
}

func truncateForChat(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
