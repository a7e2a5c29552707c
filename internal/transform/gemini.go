package transform

import (
	"context"
	"fmt"
	"os"

	"github.com/promptline/promptline/internal/types"
	"google.golang.org/genai"
)

// Gemini transforms prompts with the Google Gemini API
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGemini creates a Gemini-backed transformer. An empty APIKey falls back
// to GEMINI_API_KEY.
func NewGemini(ctx context.Context, cfg ProviderConfig) (*Gemini, error) {
	cfg = cfg.withDefaults(types.ProviderGemini)

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set")
		}
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxTokens),
	}, nil
}

func (g *Gemini) Transform(ctx context.Context, in Input) (*Result, error) {
	model := in.Model
	if model == "" {
		model = g.model
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(BuildUserPrompt(in)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}
	return textResult(types.ProviderGemini, resp.Text()), nil
}
