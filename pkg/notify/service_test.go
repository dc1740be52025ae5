package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github-sentinel/sentinel/pkg/config"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/realtime"
)

// fakeHub captures frames instead of opening sockets.
type fakeHub struct {
	mu         sync.Mutex
	personal   map[int64][]realtime.Frame
	broadcasts map[string][]realtime.Frame
	subscribed map[string]bool
	rules      map[int64][]models.NotificationRule
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		personal:   make(map[int64][]realtime.Frame),
		broadcasts: make(map[string][]realtime.Frame),
		subscribed: make(map[string]bool),
		rules:      make(map[int64][]models.NotificationRule),
	}
}

func (f *fakeHub) SendToUser(userID int64, fr realtime.Frame) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personal[userID] = append(f.personal[userID], fr)
	return 1
}

func (f *fakeHub) BroadcastChannel(channel string, fr realtime.Frame) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts[channel] = append(f.broadcasts[channel], fr)
	return 1
}

func (f *fakeHub) BroadcastSystem(fr realtime.Frame) int {
	return f.BroadcastChannel("system", fr)
}

func (f *fakeHub) IsSubscribed(userID int64, channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[channel]
}

func (f *fakeHub) RulesForUser(userID int64) []models.NotificationRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationRule(nil), f.rules[userID]...)
}

func (f *fakeHub) personalFrames(userID int64) []realtime.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Frame(nil), f.personal[userID]...)
}

func testActivityEvent(delivery models.DeliveryConfig) NewActivityEvent {
	return NewActivityEvent{
		Activity: models.Activity{
			ID:             11,
			SubscriptionID: 7,
			Kind:           models.KindIssue,
			ExternalID:     "42",
			Title:          "Crash when parsing config",
			Author:         models.Author{Login: "octocat"},
			State:          "open",
		},
		Subscription: models.Subscription{
			ID:          7,
			OwnerUserID: 1,
			Repo:        "acme/widget",
			Delivery:    delivery,
		},
	}
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	s.HandleNewActivity(context.Background(), testActivityEvent(models.DeliveryConfig{}))
	s.HandleReportReady(context.Background(), ReportReadyEvent{})
	s.Announce("ignored")
}

func TestHandleNewActivity_RealtimeFrames(t *testing.T) {
	hub := newFakeHub()
	s := NewService(config.NotificationConfig{}, hub)

	s.HandleNewActivity(context.Background(), testActivityEvent(models.DeliveryConfig{}))

	channel := realtime.RepositoryChannel("acme/widget")
	require.Len(t, hub.broadcasts[channel], 1)
	frame := hub.broadcasts[channel][0]
	assert.Equal(t, realtime.TypeActivityNotification, frame["type"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "42", data["external_id"])

	// Owner not subscribed to the repository channel gets a personal copy.
	require.Len(t, hub.personalFrames(1), 1)
}

func TestHandleNewActivity_NoDuplicateForChannelSubscriber(t *testing.T) {
	hub := newFakeHub()
	hub.subscribed[realtime.RepositoryChannel("acme/widget")] = true
	s := NewService(config.NotificationConfig{}, hub)

	s.HandleNewActivity(context.Background(), testActivityEvent(models.DeliveryConfig{}))
	assert.Empty(t, hub.personalFrames(1))
}

func TestRuleActionsTriggerRealtime(t *testing.T) {
	hub := newFakeHub()
	hub.rules[1] = []models.NotificationRule{
		{
			ID:      "r1",
			Name:    "issues",
			Enabled: true,
			Conditions: models.RuleConditions{
				EventKinds: []models.ActivityKind{models.KindIssue},
			},
			Actions: models.RuleActions{Realtime: true},
		},
		{
			ID:      "r2",
			Name:    "releases only",
			Enabled: true,
			Conditions: models.RuleConditions{
				EventKinds: []models.ActivityKind{models.KindRelease},
			},
			Actions: models.RuleActions{Realtime: true},
		},
	}
	s := NewService(config.NotificationConfig{}, hub)

	s.HandleNewActivity(context.Background(), testActivityEvent(models.DeliveryConfig{}))

	var triggered []realtime.Frame
	for _, fr := range hub.personalFrames(1) {
		if fr["type"] == realtime.TypeRuleTriggered {
			triggered = append(triggered, fr)
		}
	}
	require.Len(t, triggered, 1)
	assert.Equal(t, "r1", triggered[0]["rule_id"])
}

func TestWebhookEnvelopeAndSignature(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotEventType string
		gotDelivery  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Signature")
		gotEventType = r.Header.Get("X-Event-Type")
		gotDelivery = r.Header.Get("X-Delivery-Id")
	}))
	defer srv.Close()

	hub := newFakeHub()
	s := NewService(config.NotificationConfig{}, hub)
	s.HandleNewActivity(context.Background(), testActivityEvent(models.DeliveryConfig{
		WebhookEnabled: true,
		WebhookURLs:    []string{srv.URL},
		WebhookSecret:  "s3cret",
	}))

	require.NotEmpty(t, gotBody)
	var env Envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "new_activity", env.EventType)
	assert.Equal(t, "sentinel", env.Source)
	assert.NotEmpty(t, env.Timestamp)
	assert.Equal(t, "new_activity", gotEventType)
	assert.NotEmpty(t, gotDelivery)

	want := "sha256=" + Sign(gotBody, "s3cret")
	assert.True(t, hmac.Equal([]byte(want), []byte(gotSignature)))
}

func TestChannelIsolation(t *testing.T) {
	// Chat hook fails; the generic webhook must still be attempted and
	// succeed.
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer chatSrv.Close()

	webhookCalled := false
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalled = true
	}))
	defer hookSrv.Close()

	s := NewService(config.NotificationConfig{}, newFakeHub())
	summary := s.fanOut(context.Background(), fanOutInput{
		delivery: models.DeliveryConfig{
			ChatEnabled:    true,
			ChatHooks:      []string{chatSrv.URL},
			WebhookEnabled: true,
			WebhookURLs:    []string{hookSrv.URL},
		},
		eventType: "new_activity",
		blocks:    BuildActivityMessage(testActivityEvent(models.DeliveryConfig{})),
		data:      map[string]any{"x": 1},
	})

	assert.True(t, webhookCalled)
	require.NotNil(t, summary.Chat)
	assert.False(t, *summary.Chat)
	require.NotNil(t, summary.Webhook)
	assert.True(t, *summary.Webhook)
	assert.Nil(t, summary.Email)
}

func TestReportEmailBodyCoercion(t *testing.T) {
	md := models.Report{Format: models.FormatMarkdown, Body: "# Title\n*bold*"}
	assert.Equal(t, "<pre># Title\n*bold*</pre>", reportEmailBody(md))

	htmlReport := models.Report{Format: models.FormatHTML, Body: "<h1>Title</h1>"}
	assert.Equal(t, "<h1>Title</h1>", reportEmailBody(htmlReport))
}
