package report

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// templateData feeds both renderers. The output is deterministic for a
// given report row and activity set.
type templateData struct {
	Title       string
	Repo        string
	PeriodStart string
	PeriodEnd   string
	Stats       models.ReportStats
	Summary     string
	Trends      string
	Sections    []section
	GeneratedAt string
}

type section struct {
	Heading string
	Items   []models.Activity
}

var sectionOrder = []struct {
	kind    models.ActivityKind
	heading string
}{
	{models.KindCommit, "Commits"},
	{models.KindIssue, "Issues"},
	{models.KindPullRequest, "Pull Requests"},
	{models.KindRelease, "Releases"},
}

func renderData(r *models.Report, sub *models.Subscription, stats models.ReportStats, summary, trends string, activities []models.Activity) templateData {
	byKind := make(map[models.ActivityKind][]models.Activity)
	for _, a := range activities {
		byKind[a.Kind] = append(byKind[a.Kind], a)
	}

	var sections []section
	for _, def := range sectionOrder {
		if items := byKind[def.kind]; len(items) > 0 {
			sections = append(sections, section{Heading: def.heading, Items: items})
		}
	}

	return templateData{
		Title:       r.Title,
		Repo:        sub.Repo,
		PeriodStart: r.PeriodStart.Format("2006-01-02 15:04"),
		PeriodEnd:   r.PeriodEnd.Format("2006-01-02 15:04"),
		Stats:       stats,
		Summary:     summary,
		Trends:      trends,
		Sections:    sections,
		GeneratedAt: time.Now().UTC().Format("2006-01-02 15:04"),
	}
}

func render(format models.ReportFormat, data templateData) (string, error) {
	var sb strings.Builder
	switch format {
	case models.FormatMarkdown:
		if err := markdownTemplate.Execute(&sb, data); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
	case models.FormatHTML:
		if err := htmlTemplate.Execute(&sb, data); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
	return sb.String(), nil
}

var markdownTemplate = texttemplate.Must(texttemplate.New("markdown").Parse(`# {{.Title}}

**Repository:** {{.Repo}}
**Period:** {{.PeriodStart}} – {{.PeriodEnd}} UTC

## Summary

{{.Summary}}

## Statistics

| Metric | Count |
|--------|-------|
| Activities | {{.Stats.Activities}} |
| Commits | {{.Stats.Commits}} |
| Issues | {{.Stats.Issues}} |
| Pull Requests | {{.Stats.PullRequests}} |
| Releases | {{.Stats.Releases}} |
{{range .Sections}}
## {{.Heading}}
{{range .Items}}
- [{{.Title}}]({{.URL}}){{if .Author.Login}} by @{{.Author.Login}}{{end}}{{if .State}} ({{.State}}){{end}}{{end}}
{{end}}
## Trends

{{.Trends}}

---
Generated at {{.GeneratedAt}} UTC
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p><strong>Repository:</strong> {{.Repo}}<br>
<strong>Period:</strong> {{.PeriodStart}} – {{.PeriodEnd}} UTC</p>
<h2>Summary</h2>
<p>{{.Summary}}</p>
<h2>Statistics</h2>
<table border="1" cellpadding="4">
<tr><th>Metric</th><th>Count</th></tr>
<tr><td>Activities</td><td>{{.Stats.Activities}}</td></tr>
<tr><td>Commits</td><td>{{.Stats.Commits}}</td></tr>
<tr><td>Issues</td><td>{{.Stats.Issues}}</td></tr>
<tr><td>Pull Requests</td><td>{{.Stats.PullRequests}}</td></tr>
<tr><td>Releases</td><td>{{.Stats.Releases}}</td></tr>
</table>
{{range .Sections}}
<h2>{{.Heading}}</h2>
<ul>
{{range .Items}}<li><a href="{{.URL}}">{{.Title}}</a>{{if .Author.Login}} by {{.Author.Login}}{{end}}{{if .State}} ({{.State}}){{end}}</li>
{{end}}</ul>
{{end}}
<h2>Trends</h2>
<p>{{.Trends}}</p>
<hr>
<p><small>Generated at {{.GeneratedAt}} UTC</small></p>
</body>
</html>
`))
