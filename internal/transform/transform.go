// Package transform turns a raw prompt idea into a structured prompt using
// an AI provider (Anthropic, Gemini or OpenAI).
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/promptline/promptline/internal/types"
)

// Default models per provider
const (
	ModelClaude = "claude-sonnet-4-5-20250929"
	ModelGemini = "gemini-2.5-flash"
	ModelOpenAI = "gpt-4.1-2025-04-14"
)

// DefaultMaxTokens bounds the generated prompt
const DefaultMaxTokens = 1024

// Input is one transform request
type Input struct {
	Content   string
	Knowledge []*types.KnowledgeItem
	// Model overrides the provider's configured model
	Model string
}

// Result is the provider's answer. A provider that answered but produced
// nothing usable reports Success=false with an Error message.
type Result struct {
	Success bool
	Text    string
	Error   string
}

// Transformer is the AI transform collaborator
type Transformer interface {
	Transform(ctx context.Context, in Input) (*Result, error)
}

// DefaultModel returns the built-in model for a provider
func DefaultModel(provider types.Provider) string {
	switch provider {
	case types.ProviderClaude:
		return ModelClaude
	case types.ProviderGemini:
		return ModelGemini
	case types.ProviderOpenAI:
		return ModelOpenAI
	}
	return ""
}

// SystemPrompt instructs the model how to restructure a raw idea
const SystemPrompt = `You are an expert at writing prompts for AI coding agents. Rewrite the raw idea into a structured prompt that is:
concise (150 words max), ordered in implementation order, explicit about technologies, scoped to a suggested MVP, and ends with measurable acceptance criteria.

Required structure:
# Title
-> Main features
-> Technical structure
-> Specific details
-> MVP starting point

Answer ONLY with the transformed prompt in markdown, without any additional commentary.`

// BuildUserPrompt combines the normalized content with workspace knowledge
func BuildUserPrompt(in Input) string {
	if len(in.Knowledge) == 0 {
		return in.Content
	}

	var b strings.Builder
	b.WriteString("Project knowledge to take into account:\n\n")
	for _, item := range in.Knowledge {
		if item == nil {
			continue
		}
		if item.Category != "" {
			fmt.Fprintf(&b, "## %s (%s)\n", item.Title, item.Category)
		} else {
			fmt.Fprintf(&b, "## %s\n", item.Title)
		}
		if content := strings.TrimSpace(item.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Raw idea:\n\n")
	b.WriteString(in.Content)
	return b.String()
}

// textResult converts provider output into a Result
func textResult(provider types.Provider, text string) *Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Result{Success: false, Error: fmt.Sprintf("%s returned an empty response", provider)}
	}
	return &Result{Success: true, Text: text}
}
