package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/github-sentinel/sentinel/pkg/masking"
	"github.com/github-sentinel/sentinel/pkg/version"
)

const webhookTimeout = 30 * time.Second

// Envelope is the generic webhook payload shape.
type Envelope struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	Version   string `json:"version"`
	Data      any    `json:"data"`
}

// WebhookNotifier delivers JSON envelopes to generic HTTPS endpoints,
// optionally signing the payload with a per-subscription secret.
type WebhookNotifier struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier builds the generic webhook channel.
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     slog.With("component", "webhook_notifier"),
	}
}

// Send posts the event to every target URL. Returns an error when all
// targets failed.
func (w *WebhookNotifier) Send(ctx context.Context, urls []string, eventType string, data any, secret string) error {
	if len(urls) == 0 {
		return nil
	}

	payload, err := json.Marshal(Envelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		EventType: eventType,
		Source:    version.ServiceName,
		Version:   version.Version,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	delivered := 0
	var lastErr error
	for _, url := range urls {
		if err := w.post(ctx, url, eventType, payload, secret); err != nil {
			w.logger.Warn("Webhook delivery failed",
				"url", masking.MaskURL(url), "event_type", eventType, "error", err)
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("all webhook targets failed: %w", lastErr)
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, url, eventType string, payload []byte, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	if secret != "" {
		req.Header.Set("X-Signature", "sha256="+Sign(payload, secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook target returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
