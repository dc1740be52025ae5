package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"

	goslack "github.com/slack-go/slack"

	"github.com/github-sentinel/sentinel/pkg/config"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/realtime"
)

// systemRulesUserID owns process-wide rules evaluated for every event in
// addition to the subscription owner's rules.
const systemRulesUserID = 0

// Realtime is the hub surface the engine needs.
type Realtime interface {
	SendToUser(userID int64, f realtime.Frame) int
	BroadcastChannel(channel string, f realtime.Frame) int
	BroadcastSystem(f realtime.Frame) int
	IsSubscribed(userID int64, channel string) bool
	RulesForUser(userID int64) []models.NotificationRule
}

// Service is the notification engine. A nil *Service is valid and drops
// every event, so callers never need nil checks.
type Service struct {
	cfg     config.NotificationConfig
	email   *EmailNotifier
	chat    *ChatNotifier
	webhook *WebhookNotifier
	hub     Realtime
	logger  *slog.Logger
}

// NewService wires the three delivery channels and the realtime hub.
func NewService(cfg config.NotificationConfig, hub Realtime) *Service {
	return &Service{
		cfg:     cfg,
		email:   NewEmailNotifier(cfg.Email),
		chat:    NewChatNotifier(),
		webhook: NewWebhookNotifier(),
		hub:     hub,
		logger:  slog.With("component", "notify"),
	}
}

// HandleNewActivity evaluates rules and fans the activity out to the
// subscription's channels. Never returns an error; per-channel failures
// are logged and isolated.
func (s *Service) HandleNewActivity(ctx context.Context, ev NewActivityEvent) {
	if s == nil {
		return
	}

	s.sendRealtimeActivity(ev)
	s.evaluateRules(ev.Subscription.OwnerUserID, ev.toEvent())

	summary := s.fanOut(ctx, fanOutInput{
		delivery:  ev.Subscription.Delivery,
		eventType: "new_activity",
		subject: fmt.Sprintf("[%s] %s: %s",
			ev.Subscription.Repo, kindLabel[ev.Activity.Kind], ev.Activity.Title),
		htmlBody: activityEmailBody(ev),
		blocks:   BuildActivityMessage(ev),
		data:     activityPayload(ev),
	})

	s.logger.Info("Activity notification processed",
		"subscription_id", ev.Subscription.ID,
		"activity_kind", ev.Activity.Kind,
		"external_id", ev.Activity.ExternalID,
		"email", formatOutcome(summary.Email),
		"chat", formatOutcome(summary.Chat),
		"webhook", formatOutcome(summary.Webhook))
}

// HandleReportReady fans a completed report out to the subscription's
// channels; email carries the rendered body inline, coerced to HTML.
func (s *Service) HandleReportReady(ctx context.Context, ev ReportReadyEvent) {
	if s == nil {
		return
	}

	if s.hub != nil {
		frame := realtime.ReportFrame(reportPayload(ev))
		s.hub.SendToUser(ev.Report.OwnerUserID, frame)
	}
	s.evaluateRules(ev.Report.OwnerUserID, ev.toEvent())

	summary := s.fanOut(ctx, fanOutInput{
		delivery:  ev.Subscription.Delivery,
		eventType: "report_ready",
		subject:   fmt.Sprintf("[%s] %s", ev.Subscription.Repo, ev.Report.Title),
		htmlBody:  reportEmailBody(ev.Report),
		blocks:    BuildReportMessage(ev),
		data:      reportPayload(ev),
	})

	s.logger.Info("Report notification processed",
		"report_id", ev.Report.ID,
		"email", formatOutcome(summary.Email),
		"chat", formatOutcome(summary.Chat),
		"webhook", formatOutcome(summary.Webhook))
}

// Announce broadcasts a system announcement to all connected users.
func (s *Service) Announce(message string) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.BroadcastSystem(realtime.AnnouncementFrame(message))
}

// sendRealtimeActivity delivers the activity frame once per interested
// user: repository-channel subscribers, plus the owner when they are not
// already covered by that channel.
func (s *Service) sendRealtimeActivity(ev NewActivityEvent) {
	if s.hub == nil {
		return
	}
	frame := realtime.ActivityFrame(activityPayload(ev))
	channel := realtime.RepositoryChannel(ev.Subscription.Repo)
	s.hub.BroadcastChannel(channel, frame)
	owner := ev.Subscription.OwnerUserID
	if !s.hub.IsSubscribed(owner, channel) {
		s.hub.SendToUser(owner, frame)
	}
}

// evaluateRules runs the owner's rules plus system rules against the
// event and executes matching actions.
func (s *Service) evaluateRules(ownerID int64, ev Event) {
	if s.hub == nil {
		return
	}
	rules := s.hub.RulesForUser(ownerID)
	if ownerID != systemRulesUserID {
		rules = append(rules, s.hub.RulesForUser(systemRulesUserID)...)
	}
	for _, rule := range rules {
		if !RuleMatches(rule, ev) {
			continue
		}
		s.logger.Info("Notification rule matched",
			"rule_id", rule.ID, "rule_name", rule.Name, "event_kind", ev.Kind)
		if rule.Actions.Realtime {
			s.hub.SendToUser(ownerID, realtime.RuleTriggeredFrame(rule.ID, rule.Name, map[string]any{
				"event_kind": ev.Kind,
				"repository": ev.Repo,
				"title":      ev.Title,
			}))
		}
	}
}

type fanOutInput struct {
	delivery  models.DeliveryConfig
	eventType string
	subject   string
	htmlBody  string
	blocks    []goslack.Block
	data      any
}

// fanOut dispatches the three channels concurrently. Channel outcomes
// are independent: one failure never skips or aborts another channel.
func (s *Service) fanOut(ctx context.Context, in fanOutInput) DeliverySummary {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary DeliverySummary
	)

	record := func(set func(*DeliverySummary)) {
		mu.Lock()
		set(&summary)
		mu.Unlock()
	}

	if s.cfg.Email.Enabled && in.delivery.EmailEnabled && len(in.delivery.Emails) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.email.Send(ctx, in.delivery.Emails, in.subject, in.htmlBody)
			if err != nil {
				s.logger.Warn("Email channel failed", "error", err)
			}
			record(func(d *DeliverySummary) { d.Email = outcome(err == nil) })
		}()
	}

	hooks := s.chatHooks(in.delivery)
	if len(hooks) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.chat.Send(ctx, hooks, in.blocks)
			if err != nil {
				s.logger.Warn("Chat channel failed", "error", err)
			}
			record(func(d *DeliverySummary) { d.Chat = outcome(err == nil) })
		}()
	}

	urls, secret := s.webhookTargets(in.delivery)
	if len(urls) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.webhook.Send(ctx, urls, in.eventType, in.data, secret)
			if err != nil {
				s.logger.Warn("Webhook channel failed", "error", err)
			}
			record(func(d *DeliverySummary) { d.Webhook = outcome(err == nil) })
		}()
	}

	wg.Wait()
	return summary
}

func (s *Service) chatHooks(d models.DeliveryConfig) []string {
	var hooks []string
	if d.ChatEnabled {
		hooks = append(hooks, d.ChatHooks...)
	}
	if s.cfg.Chat.Enabled && s.cfg.Chat.WebhookURL != "" {
		hooks = append(hooks, s.cfg.Chat.WebhookURL)
	}
	return hooks
}

func (s *Service) webhookTargets(d models.DeliveryConfig) ([]string, string) {
	var urls []string
	if d.WebhookEnabled {
		urls = append(urls, d.WebhookURLs...)
	}
	if s.cfg.Webhook.Enabled {
		urls = append(urls, s.cfg.Webhook.URLs...)
	}
	secret := d.WebhookSecret
	if secret == "" {
		secret = s.cfg.Webhook.Secret
	}
	return urls, secret
}

func activityPayload(ev NewActivityEvent) map[string]any {
	a := ev.Activity
	payload := map[string]any{
		"activity_id":     a.ID,
		"subscription_id": a.SubscriptionID,
		"repository":      ev.Subscription.Repo,
		"kind":            string(a.Kind),
		"external_id":     a.ExternalID,
		"title":           a.Title,
		"url":             a.URL,
		"author":          a.Author.Login,
		"state":           a.State,
	}
	if len(a.Labels) > 0 {
		payload["labels"] = a.Labels
	}
	return payload
}

func reportPayload(ev ReportReadyEvent) map[string]any {
	r := ev.Report
	return map[string]any{
		"report_id":   r.ID,
		"title":       r.Title,
		"report_type": string(r.Kind),
		"repository":  ev.Subscription.Repo,
		"summary":     r.Summary,
		"stats": map[string]any{
			"activities":    r.Stats.Activities,
			"commits":       r.Stats.Commits,
			"issues":        r.Stats.Issues,
			"pull_requests": r.Stats.PullRequests,
			"releases":      r.Stats.Releases,
		},
	}
}

func activityEmailBody(ev NewActivityEvent) string {
	a := ev.Activity
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s — %s</h2>", html.EscapeString(ev.Subscription.Repo),
		html.EscapeString(kindLabel[a.Kind]))
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>", html.EscapeString(a.Title))
	if a.Author.Login != "" {
		fmt.Fprintf(&b, "<p>Author: %s</p>", html.EscapeString(a.Author.Login))
	}
	if a.Body != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(a.Body))
	}
	if a.URL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">View on the platform</a></p>`, a.URL)
	}
	return b.String()
}

// reportEmailBody inlines the rendered report. HTML reports pass
// through; markdown is wrapped in a pre block.
func reportEmailBody(r models.Report) string {
	if r.Format == models.FormatHTML {
		return r.Body
	}
	return "<pre>" + html.EscapeString(r.Body) + "</pre>"
}

func formatOutcome(o *bool) string {
	if o == nil {
		return "skipped"
	}
	if *o {
		return "ok"
	}
	return "failed"
}
