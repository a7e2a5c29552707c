// Package agent talks to the third-party coding agents a prompt can be
// dispatched to, and maps their status vocabularies onto prompt statuses.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/promptline/promptline/internal/types"
)

// DefaultRef is the git ref an agent starts from when none is configured
const DefaultRef = "main"

// Request describes the work handed to a coding agent. Fields a provider
// does not understand are ignored by its client.
type Request struct {
	Text         string
	Repository   string
	Ref          string
	Model        string
	AutoCreatePR bool
	BranchName   string

	// Claude sessions only
	WorkingDirectories []string
	CommitMessage      string

	WebhookURL    string
	WebhookSecret string
}

// Agent is a remote agent run as reported by its provider
type Agent struct {
	ID                string
	Status            string
	BranchName        string
	URL               string
	PullRequestURL    string
	PullRequestNumber *int
	Error             string
	CreatedAt         time.Time
}

// Provider is the agent-creation collaborator for one provider
type Provider interface {
	Name() types.Provider
	CreateAgent(ctx context.Context, req Request) (*Agent, error)
	CancelAgent(ctx context.Context, agentID string) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	// ValidateCredential makes a cheap authenticated call to prove the key works
	ValidateCredential(ctx context.Context) error
}

// ClientConfig configures an agent client
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func (c ClientConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: time.Minute}
}

// Factory builds a provider client for an API key
type Factory func(apiKey string) (Provider, error)

// Factories returns the default factory for every agent provider, pointed at
// the given base URLs (empty means the provider default)
func Factories(baseURLs map[types.Provider]string) map[types.Provider]Factory {
	return map[types.Provider]Factory{
		types.ProviderCursor: func(apiKey string) (Provider, error) {
			return NewCursor(ClientConfig{APIKey: apiKey, BaseURL: baseURLs[types.ProviderCursor]})
		},
		types.ProviderClaude: func(apiKey string) (Provider, error) {
			return NewClaudeAgent(ClientConfig{APIKey: apiKey, BaseURL: baseURLs[types.ProviderClaude]})
		},
	}
}

func requireKey(provider types.Provider, key string) error {
	if key == "" {
		return &APIError{Provider: provider, Class: ClassAuthMissing, Message: fmt.Sprintf("%s API key not configured", provider)}
	}
	return nil
}
