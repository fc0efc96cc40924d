package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

// ClaudeClient generates text only; Anthropic offers no embedding endpoint,
// so the factory pairs it with no embedder.
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

func NewClaudeClient(apiKey string, model string, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client:    anthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: 4096,
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("messages with %s: %w", c.model, err)
	}

	for _, content := range resp.Content {
		if content.Text != nil {
			return *content.Text, nil
		}
	}
	return "", fmt.Errorf("no text content from %s", c.model)
}
