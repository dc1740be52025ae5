package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// dialHub starts a test server that hands accepted sockets to the hub as
// the given user, and returns a connected client.
func dialHub(t *testing.T, h *Hub, userID int64) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.HandleConnection(r.Context(), conn, userID)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// waitForUserSessions blocks until the hub registers n sessions for the
// user, guarding against races between dial and addSession.
func waitForUserSessions(t *testing.T, h *Hub, userID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := len(h.sessions[userID])
		h.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %d never reached %d sessions", userID, n)
}

func TestConnectionEstablished(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)

	frame := readFrame(t, conn)
	assert.Equal(t, TypeConnectionEstablished, frame["type"])
	assert.EqualValues(t, 1, frame["user_id"])
	assert.NotEmpty(t, frame["session_id"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestPingPong(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn) // connection_established

	writeFrame(t, conn, map[string]any{"type": "ping"})
	frame := readFrame(t, conn)
	assert.Equal(t, TypePong, frame["type"])
}

func TestSubscribeAndBroadcast(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn) // connection_established

	channel := RepositoryChannel("acme/widget")
	writeFrame(t, conn, map[string]any{"type": "subscribe", "channel": channel})
	frame := readFrame(t, conn)
	assert.Equal(t, TypeSubscriptionSuccess, frame["type"])
	assert.Equal(t, channel, frame["channel"])

	sent := h.BroadcastChannel(channel, ActivityFrame(map[string]any{
		"external_id": "42",
		"kind":        "issue",
	}))
	assert.Equal(t, 1, sent)

	frame = readFrame(t, conn)
	assert.Equal(t, TypeActivityNotification, frame["type"])
	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", data["external_id"])
}

func TestUnsubscribeStopsBroadcast(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn)

	channel := RepositoryChannel("acme/widget")
	writeFrame(t, conn, map[string]any{"type": "subscribe", "channel": channel})
	readFrame(t, conn)

	writeFrame(t, conn, map[string]any{"type": "unsubscribe", "channel": channel})
	frame := readFrame(t, conn)
	assert.Equal(t, TypeUnsubscriptionSuccess, frame["type"])

	assert.Equal(t, 0, h.BroadcastChannel(channel, AnnouncementFrame("hello")))
}

func TestPersonalChannelAutoSubscribed(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 7)
	readFrame(t, conn)
	waitForUserSessions(t, h, 7, 1)

	sent := h.BroadcastChannel(UserChannel(7), AnnouncementFrame("direct"))
	assert.Equal(t, 1, sent)
	frame := readFrame(t, conn)
	assert.Equal(t, TypeSystemAnnouncement, frame["type"])
	assert.Equal(t, "direct", frame["message"])
}

func TestGetStatus(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn)

	writeFrame(t, conn, map[string]any{"type": "get_status"})
	frame := readFrame(t, conn)
	assert.Equal(t, TypeStatus, frame["type"])
	stats, ok := frame["stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats["connections"])
}

func TestUnknownFrameIgnored(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn)

	writeFrame(t, conn, map[string]any{"type": "dance"})
	// Connection stays usable.
	writeFrame(t, conn, map[string]any{"type": "ping"})
	frame := readFrame(t, conn)
	assert.Equal(t, TypePong, frame["type"])
}

func TestProgressSubscription(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, 1)
	readFrame(t, conn)
	waitForUserSessions(t, h, 1, 1)

	h.SubscribeProgress("task-1", 1)
	h.PublishProgress("task-1", 50, "generating", "ingesting activity", nil)

	frame := readFrame(t, conn)
	assert.Equal(t, TypeProgressUpdate, frame["type"])
	assert.Equal(t, "task-1", frame["task_id"])
	assert.EqualValues(t, 50, frame["progress"])
	assert.Equal(t, "generating", frame["status"])

	// Terminal progress clears the subscriber set.
	h.PublishProgress("task-1", 100, "completed", "done", nil)
	readFrame(t, conn)
	assert.Equal(t, 0, h.Stats().ActiveTasks)
}

func TestRuleStateSurvivesReconnect(t *testing.T) {
	h := NewHub()

	rule := h.AddRule(models.NotificationRule{
		OwnerUserID: 1,
		Name:        "releases only",
		Kind:        models.RuleActivity,
		Conditions:  models.RuleConditions{EventKinds: []models.ActivityKind{models.KindRelease}},
		Enabled:     true,
	})
	require.NotEmpty(t, rule.ID)

	conn := dialHub(t, h, 1)
	readFrame(t, conn)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	waitForUserSessions(t, h, 1, 0)

	// Rules and channels remain after the socket is gone.
	rules := h.RulesForUser(1)
	require.Len(t, rules, 1)
	assert.Equal(t, "releases only", rules[0].Name)

	assert.True(t, h.RemoveRule(1, rule.ID))
	assert.False(t, h.RemoveRule(1, rule.ID))
}

func TestSendToUserMultipleSessions(t *testing.T) {
	h := NewHub()
	conn1 := dialHub(t, h, 1)
	readFrame(t, conn1)
	conn2 := dialHub(t, h, 1)
	readFrame(t, conn2)
	waitForUserSessions(t, h, 1, 2)

	sent := h.SendToUser(1, AnnouncementFrame("both"))
	assert.Equal(t, 2, sent)
	assert.Equal(t, "both", readFrame(t, conn1)["message"])
	assert.Equal(t, "both", readFrame(t, conn2)["message"])
}
