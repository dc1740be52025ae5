package realtime

import "time"

// Server frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeSubscriptionSuccess   = "subscription_success"
	TypeUnsubscriptionSuccess = "unsubscription_success"
	TypePong                  = "pong"
	TypeStatus                = "status"
	TypeActivityNotification  = "activity_notification"
	TypeAIInsight             = "ai_insight"
	TypeReportNotification    = "report_notification"
	TypeSystemAnnouncement    = "system_announcement"
	TypeProgressUpdate        = "progress_update"
	TypeTaskCancelled         = "task_cancelled"
	TypeRuleTriggered         = "rule_triggered"
)

// Client frame types.
const (
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
	typePing        = "ping"
	typeGetStatus   = "get_status"
)

// Frame is a JSON message sent to clients. Every frame carries type and
// timestamp at the top level, with the payload fields inlined.
type Frame map[string]any

// NewFrame builds a frame of the given type with the payload inlined.
func NewFrame(frameType string, payload map[string]any) Frame {
	f := Frame{
		"type":      frameType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		f[k] = v
	}
	return f
}

// critical frames survive send-queue overflow; everything else may be
// dropped oldest-first under backpressure.
func (f Frame) critical() bool {
	switch f["type"] {
	case TypeConnectionEstablished, TypeProgressUpdate, TypeTaskCancelled:
		return true
	}
	return false
}

// ActivityFrame announces a newly ingested activity.
func ActivityFrame(data map[string]any) Frame {
	return NewFrame(TypeActivityNotification, map[string]any{"data": data})
}

// ReportFrame announces a completed report.
func ReportFrame(data map[string]any) Frame {
	return NewFrame(TypeReportNotification, map[string]any{"data": data})
}

// ProgressFrame reports task progress in the 0-100 range.
func ProgressFrame(taskID string, progress int, status, message string, data map[string]any) Frame {
	payload := map[string]any{
		"task_id":  taskID,
		"progress": progress,
		"status":   status,
		"message":  message,
	}
	if data != nil {
		payload["data"] = data
	}
	return NewFrame(TypeProgressUpdate, payload)
}

// RuleTriggeredFrame announces that a notification rule matched.
func RuleTriggeredFrame(ruleID, ruleName string, data map[string]any) Frame {
	return NewFrame(TypeRuleTriggered, map[string]any{
		"rule_id":   ruleID,
		"rule_name": ruleName,
		"data":      data,
	})
}

// AnnouncementFrame carries a system-wide message.
func AnnouncementFrame(message string) Frame {
	return NewFrame(TypeSystemAnnouncement, map[string]any{"message": message})
}

// clientFrame is what we accept from the socket.
type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}
