// Package ai adapts the go-llms providers to the single-completion
// interface the planner consumes, and hosts the synthesis oracle that
// invents results for scenario-defined tools.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/flitsinc/go-llms/anthropic"
	"github.com/flitsinc/go-llms/content"
	"github.com/flitsinc/go-llms/google"
	"github.com/flitsinc/go-llms/llms"
	"github.com/flitsinc/go-llms/openai"
)

type Config struct {
	Provider string
	Model    string
	APIKey   string
}

// Client wraps one provider-backed LLM session factory. Each completion
// runs on a fresh session so retries never share decoder state.
type Client struct {
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	// Fail fast on bad config instead of on the first tick.
	if _, err := newLLM(cfg); err != nil {
		return nil, err
	}
	return &Client{config: cfg}, nil
}

func newLLM(cfg Config) (*llms.LLM, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}

	var provider llms.Provider
	switch cfg.Provider {
	case "openai-responses":
		provider = openai.NewResponsesAPI(cfg.APIKey, cfg.Model)
	case "openai-chat":
		provider = openai.NewChatCompletionsAPI(cfg.APIKey, cfg.Model)
	case "anthropic":
		model := anthropic.New(cfg.APIKey, cfg.Model)
		model.WithMaxTokens(8192)
		provider = model
	case "google":
		provider = google.New(cfg.Model).WithGeminiAPI(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return llms.New(provider), nil
}

// Complete sends the prompt as a single user turn and gathers the streamed
// text into one string.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	llm, err := newLLM(c.config)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	updates := llm.ChatUsingMessages(ctx, []llms.Message{
		{Role: "user", Content: content.FromText(prompt)},
	})
	for update := range updates {
		if textUpdate, ok := update.(llms.TextUpdate); ok {
			out.WriteString(textUpdate.Text)
		}
	}
	if err := llm.Err(); err != nil {
		return "", fmt.Errorf("llm chat: %w", err)
	}
	return out.String(), nil
}
