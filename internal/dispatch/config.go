package dispatch

import (
	"regexp"
	"strings"

	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/types"
)

// githubRepoPattern accepts https://github.com/<owner>/<repo> with an optional trailing slash
var githubRepoPattern = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+/?$`)

// Config is the provider-specific dispatch configuration. It is a closed
// set: CursorDispatch or ClaudeDispatch.
type Config interface {
	Provider() types.Provider
	Validate() error

	request(text string) agent.Request
	episode() types.DispatchEpisode
}

// CursorDispatch sends a prompt to a Cursor background agent
type CursorDispatch struct {
	// Repository must be https://github.com/<owner>/<repo>
	Repository   string
	Ref          string
	Model        string
	AutoCreatePR bool
	BranchName   string
}

func (CursorDispatch) Provider() types.Provider { return types.ProviderCursor }

func (c CursorDispatch) Validate() error {
	if strings.TrimSpace(c.Repository) == "" {
		return &types.ValidationError{Field: "repository", Message: "repository is required"}
	}
	if !githubRepoPattern.MatchString(c.Repository) {
		return &types.ValidationError{Field: "repository", Message: "repository must look like https://github.com/<owner>/<repo>"}
	}
	return nil
}

func (c CursorDispatch) ref() string {
	if c.Ref == "" {
		return agent.DefaultRef
	}
	return c.Ref
}

func (c CursorDispatch) model() string {
	if c.Model == "" {
		return agent.DefaultCursorModel
	}
	return c.Model
}

func (c CursorDispatch) request(text string) agent.Request {
	return agent.Request{
		Text:         text,
		Repository:   strings.TrimSuffix(c.Repository, "/"),
		Ref:          c.ref(),
		Model:        c.model(),
		AutoCreatePR: c.AutoCreatePR,
		BranchName:   c.BranchName,
	}
}

func (c CursorDispatch) episode() types.DispatchEpisode {
	return types.DispatchEpisode{
		Provider:     types.ProviderCursor,
		Model:        c.model(),
		Repository:   strings.TrimSuffix(c.Repository, "/"),
		Ref:          c.ref(),
		AutoCreatePR: c.AutoCreatePR,
	}
}

// ClaudeDispatch sends a prompt to a Claude Code session
type ClaudeDispatch struct {
	Repository         string
	Branch             string
	Model              string
	CreatePR           bool
	WorkingDirectories []string
	CommitMessage      string
}

func (ClaudeDispatch) Provider() types.Provider { return types.ProviderClaude }

func (c ClaudeDispatch) Validate() error {
	if strings.TrimSpace(c.Repository) == "" {
		return &types.ValidationError{Field: "repository", Message: "repository is required"}
	}
	return nil
}

func (c ClaudeDispatch) branch() string {
	if c.Branch == "" {
		return agent.DefaultRef
	}
	return c.Branch
}

func (c ClaudeDispatch) model() string {
	if c.Model == "" {
		return agent.DefaultClaudeAgentModel
	}
	return c.Model
}

func (c ClaudeDispatch) request(text string) agent.Request {
	return agent.Request{
		Text:               text,
		Repository:         c.Repository,
		Ref:                c.branch(),
		Model:              c.model(),
		AutoCreatePR:       c.CreatePR,
		WorkingDirectories: c.WorkingDirectories,
		CommitMessage:      c.CommitMessage,
	}
}

func (c ClaudeDispatch) episode() types.DispatchEpisode {
	return types.DispatchEpisode{
		Provider:     types.ProviderClaude,
		Model:        c.model(),
		Repository:   c.Repository,
		Ref:          c.branch(),
		AutoCreatePR: c.CreatePR,
	}
}
