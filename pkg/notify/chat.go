package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/github-sentinel/sentinel/pkg/masking"
)

const chatTimeout = 30 * time.Second

// ChatNotifier posts Block Kit payloads to incoming-webhook chat
// bridges. Single attempt per hook; a 30s timeout bounds each post.
type ChatNotifier struct {
	logger *slog.Logger
}

// NewChatNotifier builds the chat channel.
func NewChatNotifier() *ChatNotifier {
	return &ChatNotifier{logger: slog.With("component", "chat_notifier")}
}

// Send posts the blocks to every hook URL. Returns an error when all
// hooks failed; partial success counts as delivered.
func (c *ChatNotifier) Send(ctx context.Context, hookURLs []string, blocks []goslack.Block) error {
	if len(hookURLs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	msg := &goslack.WebhookMessage{
		Blocks: &goslack.Blocks{BlockSet: blocks},
	}

	delivered := 0
	var lastErr error
	for _, url := range hookURLs {
		if err := goslack.PostWebhookContext(ctx, url, msg); err != nil {
			c.logger.Warn("Chat webhook delivery failed",
				"url", masking.MaskURL(url), "error", err)
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("all chat hooks failed: %w", lastErr)
	}
	return nil
}
