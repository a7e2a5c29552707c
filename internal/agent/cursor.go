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
	// DefaultCursorBaseURL is the Cursor background agents API
	DefaultCursorBaseURL = "https://api.cursor.com"
	// DefaultCursorModel is used when a dispatch names no model
	DefaultCursorModel = "claude-4-sonnet"
)

// Cursor is a client for the Cursor background agents API
type Cursor struct {
	api *jsonClient
}

var _ Provider = (*Cursor)(nil)

// NewCursor creates a Cursor client
func NewCursor(cfg ClientConfig) (*Cursor, error) {
	if err := requireKey(types.ProviderCursor, cfg.APIKey); err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultCursorBaseURL
	}
	return &Cursor{api: &jsonClient{
		provider: types.ProviderCursor,
		http:     cfg.httpClient(),
		baseURL:  strings.TrimSuffix(base, "/"),
		headers:  map[string]string{"Authorization": "Bearer " + cfg.APIKey},
	}}, nil
}

func (c *Cursor) Name() types.Provider { return types.ProviderCursor }

type cursorCreateRequest struct {
	Prompt struct {
		Text string `json:"text"`
	} `json:"prompt"`
	Source struct {
		Repository string `json:"repository"`
		Ref        string `json:"ref"`
	} `json:"source"`
	Model  string `json:"model,omitempty"`
	Target struct {
		AutoCreatePr bool   `json:"autoCreatePr"`
		BranchName   string `json:"branchName,omitempty"`
	} `json:"target"`
	Webhook *cursorWebhook `json:"webhook,omitempty"`
}

type cursorWebhook struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

type cursorAgent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Source struct {
		Repository string `json:"repository"`
		Ref        string `json:"ref"`
	} `json:"source"`
	Target struct {
		BranchName   string `json:"branchName"`
		URL          string `json:"url"`
		PrURL        string `json:"prUrl"`
		AutoCreatePr bool   `json:"autoCreatePr"`
	} `json:"target"`
	PullRequestURL    string    `json:"pullRequestUrl"`
	PullRequestNumber *int      `json:"pullRequestNumber"`
	Summary           string    `json:"summary"`
	Error             string    `json:"error"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (a *cursorAgent) toAgent() *Agent {
	out := &Agent{
		ID:                a.ID,
		Status:            a.Status,
		BranchName:        a.Target.BranchName,
		URL:               a.Target.URL,
		PullRequestURL:    a.PullRequestURL,
		PullRequestNumber: a.PullRequestNumber,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
	if out.PullRequestURL == "" {
		out.PullRequestURL = a.Target.PrURL
	}
	return out
}

// CreateAgent launches a background agent on the repository
func (c *Cursor) CreateAgent(ctx context.Context, req Request) (*Agent, error) {
	var body cursorCreateRequest
	body.Prompt.Text = req.Text
	body.Source.Repository = req.Repository
	body.Source.Ref = req.Ref
	if body.Source.Ref == "" {
		body.Source.Ref = DefaultRef
	}
	body.Model = req.Model
	if body.Model == "" {
		body.Model = DefaultCursorModel
	}
	body.Target.AutoCreatePr = req.AutoCreatePR
	body.Target.BranchName = req.BranchName
	if req.WebhookURL != "" {
		body.Webhook = &cursorWebhook{URL: req.WebhookURL, Secret: req.WebhookSecret}
	}

	var created cursorAgent
	if err := c.api.do(ctx, http.MethodPost, "/v0/agents", body, &created); err != nil {
		return nil, err
	}
	return created.toAgent(), nil
}

// CancelAgent stops a running agent
func (c *Cursor) CancelAgent(ctx context.Context, agentID string) error {
	return c.api.do(ctx, http.MethodPost, "/v0/agents/"+url.PathEscape(agentID)+"/cancel", struct{}{}, nil)
}

// GetAgent fetches an agent's current state
func (c *Cursor) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var a cursorAgent
	if err := c.api.do(ctx, http.MethodGet, "/v0/agents/"+url.PathEscape(agentID), nil, &a); err != nil {
		return nil, err
	}
	if a.ID == "" {
		a.ID = agentID
	}
	return a.toAgent(), nil
}

// ValidateCredential lists agents, which only succeeds with a working key
func (c *Cursor) ValidateCredential(ctx context.Context) error {
	return c.api.do(ctx, http.MethodGet, "/v0/agents?limit=1", nil, nil)
}
