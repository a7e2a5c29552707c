package agent

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/promptline/promptline/internal/types"
)

const (
	// DefaultClaudeBaseURL is the local Claude Code session runner
	DefaultClaudeBaseURL = "http://127.0.0.1:8790"
	// DefaultClaudeAgentModel is used when a dispatch names no model
	DefaultClaudeAgentModel = "claude-sonnet-4-20250514"
)

// ClaudeAgent is a client for a Claude Code session runner: a service that
// clones the repository, runs Claude Code on the prompt and optionally opens
// a pull request
type ClaudeAgent struct {
	api *jsonClient
}

var _ Provider = (*ClaudeAgent)(nil)

// NewClaudeAgent creates a Claude Code session client
func NewClaudeAgent(cfg ClientConfig) (*ClaudeAgent, error) {
	if err := requireKey(types.ProviderClaude, cfg.APIKey); err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultClaudeBaseURL
	}
	return &ClaudeAgent{api: &jsonClient{
		provider: types.ProviderClaude,
		http:     cfg.httpClient(),
		baseURL:  strings.TrimSuffix(base, "/"),
		headers:  map[string]string{"X-Api-Key": cfg.APIKey},
	}}, nil
}

func (c *ClaudeAgent) Name() types.Provider { return types.ProviderClaude }

type claudeSessionConfig struct {
	Model              string   `json:"model"`
	Repository         string   `json:"repository"`
	Branch             string   `json:"branch,omitempty"`
	WorkingDirectories []string `json:"workingDirectories,omitempty"`
	CreatePR           bool     `json:"createPR"`
	CommitMessage      string   `json:"commitMessage,omitempty"`
}

type claudeSessionRequest struct {
	Prompt  string              `json:"prompt"`
	Config  claudeSessionConfig `json:"config"`
	Webhook *cursorWebhook      `json:"webhook,omitempty"`
}

type claudeSession struct {
	SessionID         string    `json:"sessionId"`
	Status            string    `json:"status"`
	Branch            string    `json:"branch"`
	URL               string    `json:"url"`
	PullRequestURL    string    `json:"pullRequestUrl"`
	PullRequestNumber *int      `json:"pullRequestNumber"`
	ErrorMessage      string    `json:"error_message"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *claudeSession) toAgent() *Agent {
	return &Agent{
		ID:                s.SessionID,
		Status:            s.Status,
		BranchName:        s.Branch,
		URL:               s.URL,
		PullRequestURL:    s.PullRequestURL,
		PullRequestNumber: s.PullRequestNumber,
		Error:             s.ErrorMessage,
		CreatedAt:         s.CreatedAt,
	}
}

// CreateAgent starts a Claude Code session
func (c *ClaudeAgent) CreateAgent(ctx context.Context, req Request) (*Agent, error) {
	body := claudeSessionRequest{
		Prompt: req.Text,
		Config: claudeSessionConfig{
			Model:              req.Model,
			Repository:         req.Repository,
			Branch:             req.Ref,
			WorkingDirectories: req.WorkingDirectories,
			CreatePR:           req.AutoCreatePR,
			CommitMessage:      req.CommitMessage,
		},
	}
	if body.Config.Model == "" {
		body.Config.Model = DefaultClaudeAgentModel
	}
	if body.Config.Branch == "" {
		body.Config.Branch = DefaultRef
	}
	if req.WebhookURL != "" {
		body.Webhook = &cursorWebhook{URL: req.WebhookURL, Secret: req.WebhookSecret}
	}

	var s claudeSession
	if err := c.api.do(ctx, http.MethodPost, "/v1/sessions", body, &s); err != nil {
		return nil, err
	}
	if s.Status == "" {
		s.Status = "queued"
	}
	return s.toAgent(), nil
}

// CancelAgent stops a session
func (c *ClaudeAgent) CancelAgent(ctx context.Context, agentID string) error {
	return c.api.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(agentID)+"/cancel", struct{}{}, nil)
}

// GetAgent fetches a session's current state
func (c *ClaudeAgent) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var s claudeSession
	if err := c.api.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(agentID), nil, &s); err != nil {
		return nil, err
	}
	if s.SessionID == "" {
		s.SessionID = agentID
	}
	return s.toAgent(), nil
}

// ValidateCredential lists sessions, which only succeeds with a working key
func (c *ClaudeAgent) ValidateCredential(ctx context.Context) error {
	return c.api.do(ctx, http.MethodGet, "/v1/sessions?limit=1", nil, nil)
}
