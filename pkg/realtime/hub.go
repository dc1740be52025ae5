// Package realtime implements the websocket hub: per-user sessions,
// channel subscriptions, and the progress stream for long-running tasks.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// UserChannel names the personal channel every session is subscribed to
// on connect.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// RepositoryChannel names the broadcast channel for one repository.
func RepositoryChannel(repo string) string {
	return "repository_" + repo
}

// Hub holds all realtime state for the process. Sessions are removed on
// close or send failure; channel subscriptions and rules persist across
// reconnects for the lifetime of the process.
type Hub struct {
	logger *slog.Logger

	mu           sync.RWMutex
	sessions     map[int64]map[string]*session
	userChannels map[int64]map[string]bool
	rules        map[int64][]models.NotificationRule
	progress     map[string]map[int64]bool // task id → subscribed users
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger:       slog.With("component", "realtime"),
		sessions:     make(map[int64]map[string]*session),
		userChannels: make(map[int64]map[string]bool),
		rules:        make(map[int64][]models.NotificationRule),
		progress:     make(map[string]map[int64]bool),
	}
}

// HandleConnection runs one accepted socket until the client disconnects
// or ctx ends. The caller has already authenticated userID.
func (h *Hub) HandleConnection(ctx context.Context, conn *websocket.Conn, userID int64) {
	sess := newSession(uuid.NewString(), userID, conn)
	h.addSession(sess)
	defer h.removeSession(sess)

	sess.enqueue(NewFrame(TypeConnectionEstablished, map[string]any{
		"user_id":    userID,
		"session_id": sess.id,
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 3)
	go func() { done <- sess.writeLoop(ctx) }()
	go func() { done <- sess.pingLoop(ctx) }()
	go func() { done <- h.readLoop(ctx, sess) }()

	err := <-done
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		status := websocket.CloseStatus(err)
		if status == -1 {
			sess.logger.Warn("Session ended", "error", err)
		} else {
			sess.logger.Debug("Session closed", "close_status", status)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop consumes client frames. Unknown types are logged and ignored.
func (h *Hub) readLoop(ctx context.Context, sess *session) error {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.logger.Warn("Ignoring malformed client frame", "error", err)
			continue
		}

		switch msg.Type {
		case typeSubscribe:
			if msg.Channel == "" {
				continue
			}
			h.Subscribe(sess.userID, msg.Channel)
			sess.enqueue(NewFrame(TypeSubscriptionSuccess, map[string]any{
				"channel": msg.Channel,
			}))
		case typeUnsubscribe:
			if msg.Channel == "" {
				continue
			}
			h.Unsubscribe(sess.userID, msg.Channel)
			sess.enqueue(NewFrame(TypeUnsubscriptionSuccess, map[string]any{
				"channel": msg.Channel,
			}))
		case typePing:
			sess.enqueue(NewFrame(TypePong, nil))
		case typeGetStatus:
			sess.enqueue(NewFrame(TypeStatus, h.statusPayload(sess)))
		default:
			sess.logger.Warn("Ignoring unknown client frame type", "type", msg.Type)
		}
	}
}

func (h *Hub) addSession(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[sess.userID] == nil {
		h.sessions[sess.userID] = make(map[string]*session)
	}
	h.sessions[sess.userID][sess.id] = sess

	// Auto-subscribe the personal channel.
	if h.userChannels[sess.userID] == nil {
		h.userChannels[sess.userID] = make(map[string]bool)
	}
	h.userChannels[sess.userID][UserChannel(sess.userID)] = true

	h.logger.Info("Session connected",
		"session_id", sess.id, "user_id", sess.userID,
		"sessions_for_user", len(h.sessions[sess.userID]))
}

// removeSession drops the session but keeps channel and rule state so a
// reconnecting client resumes where it left off.
func (h *Hub) removeSession(sess *session) {
	sess.markClosed()

	h.mu.Lock()
	defer h.mu.Unlock()
	if byID, ok := h.sessions[sess.userID]; ok {
		delete(byID, sess.id)
		if len(byID) == 0 {
			delete(h.sessions, sess.userID)
		}
	}
	h.logger.Info("Session disconnected", "session_id", sess.id, "user_id", sess.userID)
}

// Subscribe adds a channel to the user's subscription set.
func (h *Hub) Subscribe(userID int64, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.userChannels[userID] == nil {
		h.userChannels[userID] = make(map[string]bool)
	}
	h.userChannels[userID][channel] = true
}

// Unsubscribe removes a channel from the user's subscription set. The
// personal channel cannot be unsubscribed.
func (h *Hub) Unsubscribe(userID int64, channel string) {
	if channel == UserChannel(userID) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.userChannels[userID], channel)
}

// IsSubscribed reports whether the user currently subscribes to the
// channel.
func (h *Hub) IsSubscribed(userID int64, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userChannels[userID][channel]
}

// SendToUser delivers a frame to every open session of one user.
// Returns the number of sessions reached.
func (h *Hub) SendToUser(userID int64, f Frame) int {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions[userID]))
	for _, sess := range h.sessions[userID] {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	sent := 0
	for _, sess := range targets {
		if sess.enqueue(f) {
			sent++
		}
	}
	return sent
}

// BroadcastChannel delivers a frame to every user subscribed to the
// channel. Each send is best-effort.
func (h *Hub) BroadcastChannel(channel string, f Frame) int {
	h.mu.RLock()
	var userIDs []int64
	for userID, channels := range h.userChannels {
		if channels[channel] {
			userIDs = append(userIDs, userID)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, userID := range userIDs {
		sent += h.SendToUser(userID, f)
	}
	return sent
}

// BroadcastSystem delivers a frame to every connected user.
func (h *Hub) BroadcastSystem(f Frame) int {
	h.mu.RLock()
	userIDs := make([]int64, 0, len(h.sessions))
	for userID := range h.sessions {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	sent := 0
	for _, userID := range userIDs {
		sent += h.SendToUser(userID, f)
	}
	return sent
}

// SubscribeProgress registers a user for a task's progress frames.
func (h *Hub) SubscribeProgress(taskID string, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.progress[taskID] == nil {
		h.progress[taskID] = make(map[int64]bool)
	}
	h.progress[taskID][userID] = true
}

// PublishProgress sends a progress frame to the task's subscribers.
// Terminal progress (100) or cancellation clears the subscription set.
func (h *Hub) PublishProgress(taskID string, progress int, status, message string, data map[string]any) {
	h.mu.RLock()
	userIDs := make([]int64, 0, len(h.progress[taskID]))
	for userID := range h.progress[taskID] {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	f := ProgressFrame(taskID, progress, status, message, data)
	for _, userID := range userIDs {
		h.SendToUser(userID, f)
	}

	if progress >= 100 || status == "failed" || status == "cancelled" {
		h.mu.Lock()
		delete(h.progress, taskID)
		h.mu.Unlock()
	}
}

// NotifyTaskCancelled tells subscribers the task was cancelled and
// clears the subscription set.
func (h *Hub) NotifyTaskCancelled(taskID, reason string) {
	h.mu.RLock()
	userIDs := make([]int64, 0, len(h.progress[taskID]))
	for userID := range h.progress[taskID] {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	f := NewFrame(TypeTaskCancelled, map[string]any{
		"task_id": taskID,
		"reason":  reason,
	})
	for _, userID := range userIDs {
		h.SendToUser(userID, f)
	}

	h.mu.Lock()
	delete(h.progress, taskID)
	h.mu.Unlock()
}

// AddRule stores a notification rule for a user, assigning an id when
// absent. Rules live in process memory and survive reconnects.
func (h *Hub) AddRule(rule models.NotificationRule) models.NotificationRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	h.mu.Lock()
	h.rules[rule.OwnerUserID] = append(h.rules[rule.OwnerUserID], rule)
	h.mu.Unlock()
	return rule
}

// RemoveRule deletes a rule by id. Returns false when absent.
func (h *Hub) RemoveRule(userID int64, ruleID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rules := h.rules[userID]
	for i, r := range rules {
		if r.ID == ruleID {
			h.rules[userID] = append(rules[:i], rules[i+1:]...)
			return true
		}
	}
	return false
}

// RulesForUser returns a copy of the user's rules.
func (h *Hub) RulesForUser(userID int64) []models.NotificationRule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.NotificationRule(nil), h.rules[userID]...)
}

// Stats summarizes hub state for the dashboard and get_status frames.
type Stats struct {
	Connections     int `json:"connections"`
	Users           int `json:"users"`
	Channels        int `json:"channels"`
	ActiveTasks     int `json:"active_tasks"`
	RegisteredRules int `json:"registered_rules"`
}

// Stats returns a snapshot of hub state.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := 0
	for _, byID := range h.sessions {
		conns += len(byID)
	}
	channels := make(map[string]bool)
	for _, set := range h.userChannels {
		for ch := range set {
			channels[ch] = true
		}
	}
	rules := 0
	for _, rs := range h.rules {
		rules += len(rs)
	}
	return Stats{
		Connections:     conns,
		Users:           len(h.sessions),
		Channels:        len(channels),
		ActiveTasks:     len(h.progress),
		RegisteredRules: rules,
	}
}

func (h *Hub) statusPayload(sess *session) map[string]any {
	stats := h.Stats()

	h.mu.RLock()
	channels := make([]string, 0, len(h.userChannels[sess.userID]))
	for ch := range h.userChannels[sess.userID] {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	return map[string]any{
		"session_id":   sess.id,
		"connected_at": sess.connectedAt.Format(time.RFC3339),
		"channels":     channels,
		"stats":        stats,
	}
}
