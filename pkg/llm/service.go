package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// maxConversationTurns bounds per-user chat memory. Eviction is by turn
// count, not time.
const maxConversationTurns = 10

const summarySystemPrompt = "You are a repository activity analyst. " +
	"Summarize development activity concisely and point out what matters. " +
	"Answer in short plain-prose paragraphs."

// Service wraps a Provider with fallback behavior and per-user
// conversation memory.
type Service struct {
	provider Provider
	logger   *slog.Logger

	mu            sync.Mutex
	conversations map[int64][]Message
}

// NewService wraps a provider. A nil provider is allowed; every
// enrichment then uses the deterministic fallback.
func NewService(provider Provider) *Service {
	return &Service{
		provider:      provider,
		logger:        slog.With("component", "llm"),
		conversations: make(map[int64][]Message),
	}
}

// Complete sends a single prompt to the provider.
func (s *Service) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if s.provider == nil {
		return "", ErrNoCredentials
	}
	return s.provider.Complete(ctx, []Message{{Role: "user", Content: prompt}}, opts)
}

// SummarizeRepository produces the summary paragraph for a report.
// Never returns an error: provider failure, missing credentials, or an
// unparsable response all yield the deterministic fallback.
func (s *Service) SummarizeRepository(ctx context.Context, repo string, stats models.ReportStats, highlights []string) string {
	prompt := fmt.Sprintf(
		"Summarize the recent activity of repository %s.\n"+
			"Counts: %d commits, %d issues, %d pull requests, %d releases.\n"+
			"Notable items:\n%s\n"+
			"Write 2-3 short sentences.",
		repo, stats.Commits, stats.Issues, stats.PullRequests, stats.Releases,
		formatHighlights(highlights))

	text, err := s.Complete(ctx, prompt, Options{System: summarySystemPrompt})
	if err != nil {
		s.logger.Warn("Summary enrichment unavailable, using fallback",
			"repository", repo, "error", err)
		return fallbackSummary(repo, stats)
	}
	return text
}

// AnalyzeTrends produces the trend paragraph for a report. Same
// fallback contract as SummarizeRepository.
func (s *Service) AnalyzeTrends(ctx context.Context, repo string, stats models.ReportStats) string {
	prompt := fmt.Sprintf(
		"Analyze development trends for repository %s given "+
			"%d commits, %d issues, %d pull requests, and %d releases in the period. "+
			"Cover development pace, community engagement, and one suggestion. "+
			"Write 2-3 short sentences.",
		repo, stats.Commits, stats.Issues, stats.PullRequests, stats.Releases)

	text, err := s.Complete(ctx, prompt, Options{System: summarySystemPrompt})
	if err != nil {
		s.logger.Warn("Trend enrichment unavailable, using fallback",
			"repository", repo, "error", err)
		return fallbackTrendAnalysis(stats)
	}
	return text
}

// Chat answers a user message, carrying the user's recent conversation
// turns as context. The per-user window keeps the last
// maxConversationTurns messages.
func (s *Service) Chat(ctx context.Context, userID int64, message, contextData string) (string, error) {
	if s.provider == nil {
		return "", ErrNoCredentials
	}

	s.mu.Lock()
	history := append([]Message(nil), s.conversations[userID]...)
	s.mu.Unlock()

	content := message
	if contextData != "" {
		content = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextData, message)
	}
	messages := append(history, Message{Role: "user", Content: content})

	reply, err := s.provider.Complete(ctx, messages, Options{System: summarySystemPrompt})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	s.mu.Lock()
	turns := append(s.conversations[userID],
		Message{Role: "user", Content: message},
		Message{Role: "assistant", Content: reply})
	if len(turns) > maxConversationTurns {
		turns = turns[len(turns)-maxConversationTurns:]
	}
	s.conversations[userID] = turns
	s.mu.Unlock()

	return reply, nil
}

// ClearConversation drops a user's chat history.
func (s *Service) ClearConversation(userID int64) {
	s.mu.Lock()
	delete(s.conversations, userID)
	s.mu.Unlock()
}

func formatHighlights(highlights []string) string {
	if len(highlights) == 0 {
		return "(none)"
	}
	const maxItems = 10
	if len(highlights) > maxItems {
		highlights = highlights[:maxItems]
	}
	var b strings.Builder
	for _, h := range highlights {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
