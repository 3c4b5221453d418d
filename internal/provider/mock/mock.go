// Package mock provides a bundled ProviderClient for local development
// and tests that run without real provider API keys. Grounded on the
// teacher's meridian-llm-go lorem provider (a deterministic-length
// placeholder completion generator) — reimplemented directly against
// golorem since the teacher's own lorem provider isn't vendored here.
package mock

import (
	"context"

	"github.com/bozaro/golorem"

	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
)

// Client generates lorem-ipsum completions scaled to the prompt length,
// so tests exercising size-gated routing (§4.3) can request a larger or
// smaller response by prompt size. The exact length is random within a
// range of sentences.
type Client struct{}

// New creates a mock provider client. Call lorem.Seed beforehand in
// tests that need reproducible output.
func New() *Client {
	return &Client{}
}

func (c *Client) Name() string { return "mock" }

func (c *Client) Call(_ context.Context, _ models.ModelDescriptor, messages []provider.Message, _ provider.CallOptions) (provider.Result, error) {
	var promptLen int
	for _, m := range messages {
		promptLen += len(m.Content)
	}

	// Scale the response roughly with the prompt so callers can provoke
	// the bus's inline/pointer split deterministically in tests.
	sentences := 1 + promptLen/200
	if sentences > 64 {
		sentences = 64
	}

	content := lorem.Paragraph(sentences, sentences+2)

	return provider.Result{
		Content:      content,
		InputTokens:  promptLen / 4,
		OutputTokens: len(content) / 4,
	}, nil
}
