// Package llm provides the reply pipeline's single-call chat client
// (C9's `llm.chat`): a plain anthropic-sdk-go Messages.New request with
// no tool use, no streaming, and no retries — the core performs no
// retries per the external-interfaces contract. Client construction is
// grounded on the teacher's third_party agentsdk-go model.NewAnthropic,
// trimmed to the single request shape this pipeline needs.
package llm

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stellarlinkco/myclaw/internal/prompt"
)

// Chat is the narrow interface the reply pipeline depends on.
type Chat interface {
	Chat(ctx context.Context, messages []prompt.Message) (string, error)
}

// Config configures an AnthropicChat client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// AnthropicChat implements Chat against the Anthropic Messages API.
type AnthropicChat struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int64
}

// NewAnthropicChat builds an AnthropicChat from cfg.
func NewAnthropicChat(cfg Config) (*AnthropicChat, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	model := anthropicsdk.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropicsdk.ModelClaude3_5HaikuLatest
	}

	return &AnthropicChat{
		client:    anthropicsdk.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Chat issues a single non-streaming Messages.New call and returns the
// concatenated text of the response's content blocks.
func (c *AnthropicChat) Chat(ctx context.Context, messages []prompt.Message) (string, error) {
	var system string
	var turns []anthropicsdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
			})
		default:
			turns = append(turns, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
			})
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
