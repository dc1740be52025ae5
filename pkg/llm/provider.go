// Package llm provides the language-model adapter used for report
// enrichment and chat. Enrichment is best-effort: provider failures fall
// back to deterministic text synthesized from activity statistics.
package llm

import "context"

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion request. Zero values fall back to
// the configured defaults.
type Options struct {
	System      string
	MaxTokens   int
	Temperature float64
}

// Provider is a pluggable completion backend.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Complete sends the conversation and returns the model's reply.
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}
