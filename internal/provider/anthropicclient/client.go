// Package anthropicclient adapts github.com/anthropics/anthropic-sdk-go
// to the provider.Client interface, giving the registry one real,
// non-mock binding. Grounded on the teacher's adapter_factory.go, which
// wraps a third-party LLM SDK behind the same narrow interface the mock
// and every other provider satisfy.
package anthropicclient

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
)

// Client calls the Anthropic Messages API.
type Client struct {
	sdk *anthropic.Client
}

// New creates a client authenticated with apiKey.
func New(apiKey string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{sdk: &c}
}

func (c *Client) Name() string { return "anthropic" }

// defaultMaxTokens caps the response budget independently of a model's
// context window — the two aren't the same knob, and the API rejects
// max_tokens values that exceed a model's own output ceiling.
const defaultMaxTokens = 4096

func (c *Client) Call(ctx context.Context, model models.ModelDescriptor, messages []provider.Message, opts provider.CallOptions) (provider.Result, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.Name),
		MaxTokens: defaultMaxTokens,
		Messages:  toAnthropicMessages(messages),
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return provider.Result{}, domain.Wrap(domain.KindProviderError, "anthropic call failed", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return provider.Result{
		Content:      content,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func toAnthropicMessages(messages []provider.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
