package transform

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/promptline/promptline/internal/types"
)

// ProviderConfig holds the settings shared by every transform provider
type ProviderConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

func (c ProviderConfig) withDefaults(provider types.Provider) ProviderConfig {
	if c.Model == "" {
		c.Model = DefaultModel(provider)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Claude transforms prompts with the Anthropic Messages API
type Claude struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClaude creates an Anthropic-backed transformer. An empty APIKey falls
// back to ANTHROPIC_API_KEY.
func NewClaude(cfg ProviderConfig) (*Claude, error) {
	cfg = cfg.withDefaults(types.ProviderClaude)

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Failures surface to the user instead of being retried
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &Claude{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *Claude) Transform(ctx context.Context, in Input) (*Result, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}

	response, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildUserPrompt(in))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	// Extract the text content from the response
	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return textResult(types.ProviderClaude, text), nil
}
