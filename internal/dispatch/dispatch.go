// Package dispatch hands prompts to coding agents and folds the agents'
// status reports back into the prompt store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/store"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// DefaultEnvKeys names the environment variable consulted for each agent
// provider when no credential is stored
var DefaultEnvKeys = map[types.Provider]string{
	types.ProviderCursor: "CURSOR_API_KEY",
	types.ProviderClaude: "CLAUDE_AGENT_API_KEY",
}

// Credentials reads stored integration keys
type Credentials interface {
	GetCredential(ctx context.Context, provider types.Provider) (string, error)
}

// Deliveries is the ledger that makes status pushes apply exactly once
type Deliveries interface {
	RecordWebhookDelivery(ctx context.Context, key, agentID, status string) (bool, error)
	ForgetWebhookDelivery(ctx context.Context, key string) error
}

// Generations lets dispatch wait for a running generation of the same prompt
type Generations interface {
	Wait(ctx context.Context, promptID string) error
}

// Options configures a Dispatcher
type Options struct {
	Stores      store.Resolver
	Credentials Credentials
	Deliveries  Deliveries
	Generations Generations
	Factories   map[types.Provider]agent.Factory
	StatusMap   *agent.StatusMap
	// EnvKeys defaults to DefaultEnvKeys
	EnvKeys map[types.Provider]string
	// WebhookBaseURL, when set, is advertised to agents as <base>/webhooks/<provider>
	WebhookBaseURL string
	WebhookSecret  string

	Notifier notify.Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

// Dispatcher sends prompts to agents, cancels them and reconciles their status
type Dispatcher struct {
	stores      store.Resolver
	credentials Credentials
	deliveries  Deliveries
	generations Generations
	factories   map[types.Provider]agent.Factory
	statusMap   *agent.StatusMap
	envKeys     map[types.Provider]string
	webhookBase string
	webhookKey  string
	notifier    notify.Notifier
	logger      *zap.Logger
	now         func() time.Time

	locks promptLocks
}

// New creates a Dispatcher
func New(opts Options) *Dispatcher {
	if opts.Factories == nil {
		opts.Factories = agent.Factories(nil)
	}
	if opts.StatusMap == nil {
		opts.StatusMap = agent.NewStatusMap()
	}
	if opts.EnvKeys == nil {
		opts.EnvKeys = DefaultEnvKeys
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		stores:      opts.Stores,
		credentials: opts.Credentials,
		deliveries:  opts.Deliveries,
		generations: opts.Generations,
		factories:   opts.Factories,
		statusMap:   opts.StatusMap,
		envKeys:     opts.EnvKeys,
		webhookBase: strings.TrimSuffix(opts.WebhookBaseURL, "/"),
		webhookKey:  opts.WebhookSecret,
		notifier:    opts.Notifier,
		logger:      opts.Logger.Named("dispatch"),
		now:         opts.Now,
	}
}

// StatusMap returns the table used to map raw agent statuses
func (d *Dispatcher) StatusMap() *agent.StatusMap {
	return d.statusMap
}

// Client returns a client for provider built from its configured credential.
// A missing credential is a ValidationError; nothing is sent over the network.
func (d *Dispatcher) Client(ctx context.Context, provider types.Provider) (agent.Provider, error) {
	factory, ok := d.factories[provider]
	if !ok {
		return nil, &types.ValidationError{Field: "provider", Message: fmt.Sprintf("%q is not an agent provider", provider)}
	}
	key, err := d.credential(ctx, provider)
	if err != nil {
		return nil, err
	}
	client, err := factory(key)
	if err != nil {
		return nil, &types.ValidationError{Field: "provider", Message: err.Error()}
	}
	return client, nil
}

func (d *Dispatcher) credential(ctx context.Context, provider types.Provider) (string, error) {
	if d.credentials != nil {
		key, err := d.credentials.GetCredential(ctx, provider)
		switch {
		case err == nil && key != "":
			return key, nil
		case err != nil && !errors.Is(err, types.ErrNotFound):
			return "", fmt.Errorf("failed to read %s credential: %w", provider, err)
		}
	}
	if env := d.envKeys[provider]; env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	return "", &types.ValidationError{
		Field:   "credentials",
		Message: fmt.Sprintf("%s integration is not configured; run 'promptline credentials set %s'", provider, provider),
	}
}

// Dispatch sends a prompt to the agent described by cfg.
//
// The prompt is persisted as sending_to_agent with a new episode before the
// agent is called. On success it moves to sent_to_agent carrying the agent
// handle; on failure it returns to todo with the episode marked failed and
// no agent reference kept.
func (d *Dispatcher) Dispatch(ctx context.Context, promptID string, cfg Config) (*types.Prompt, error) {
	if cfg == nil {
		return nil, &types.ValidationError{Field: "provider", Message: "dispatch configuration is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if types.IsTempID(promptID) {
		return nil, &types.ValidationError{Field: "id", Message: "prompt is still being saved"}
	}
	provider := cfg.Provider()
	client, err := d.Client(ctx, provider)
	if err != nil {
		return nil, err
	}

	s, err := d.stores.ForPrompt(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prompt %s: %w", promptID, err)
	}
	// generated_prompt is read below, so a running generation must settle first
	if d.generations != nil {
		if err := d.generations.Wait(ctx, promptID); err != nil {
			return nil, err
		}
	}
	cur, err := s.Current(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if err := types.CheckTransition(cur.Status, types.StatusSendingToAgent); err != nil {
		return nil, err
	}

	logger := d.logger.With(zap.String("prompt_id", promptID), zap.String("provider", string(provider)))

	ep := cfg.episode()
	ep.DispatchedAt = d.now()
	sending, err := s.Patch(ctx, promptID, types.Updates{
		types.FieldStatus:            types.StatusSendingToAgent,
		types.FieldAgentID:           nil,
		types.FieldAgentStatus:       nil,
		types.FieldAgentBranchName:   nil,
		types.FieldAgentURL:          nil,
		types.FieldPullRequestURL:    nil,
		types.FieldPullRequestNumber: nil,
		types.FieldPullRequestStatus: nil,
		types.FieldWorkflowMetadata:  cur.WorkflowMetadata.WithEpisode(ep),
	})
	if err != nil {
		logger.Warn("failed to mark prompt sending", zap.Error(err))
		d.notifier.Notify(ctx, notify.Notification{
			Title:       fmt.Sprintf("Failed to send to %s", agent.ProviderLabel(provider)),
			Description: "The prompt could not be saved, so nothing was sent to the agent. Try again in a moment.",
			Severity:    notify.SeverityError,
			PromptID:    promptID,
		})
		return nil, err
	}

	req := cfg.request(sending.DispatchText())
	if d.webhookBase != "" {
		req.WebhookURL = d.webhookBase + "/webhooks/" + string(provider)
		req.WebhookSecret = d.webhookKey
	}

	// Whatever the agent says, the outcome must be recorded
	writeCtx := context.WithoutCancel(ctx)

	created, callErr := client.CreateAgent(ctx, req)
	if callErr == nil && created.ID == "" {
		callErr = fmt.Errorf("%s returned an agent without an id", provider)
	}
	if callErr == nil {
		acceptedAt := d.now()
		updates := types.Updates{
			types.FieldStatus:          types.StatusSentToAgent,
			types.FieldAgentID:         created.ID,
			types.FieldAgentStatus:     nullable(created.Status),
			types.FieldAgentBranchName: nullable(created.BranchName),
			types.FieldAgentURL:        nullable(created.URL),
			types.FieldWorkflowMetadata: sending.WorkflowMetadata.WithCurrentEpisode(func(e *types.DispatchEpisode) {
				e.AgentID = created.ID
				e.AgentURL = created.URL
				e.AcceptedAt = &acceptedAt
			}),
		}
		sent, err := s.Patch(writeCtx, promptID, updates)
		if err == nil {
			logger.Info("prompt sent to agent", zap.String("agent_id", created.ID), zap.String("agent_status", created.Status))
			d.notifier.Notify(ctx, notify.Notification{
				Title:       fmt.Sprintf("Sent to %s", agent.ProviderLabel(provider)),
				Description: fmt.Sprintf("Agent %s is working on %q.", created.ID, sent.Title),
				Severity:    notify.SeveritySuccess,
				PromptID:    promptID,
			})
			return sent, nil
		}
		// The agent exists but we could not record it; stop it rather than orphan it
		logger.Error("failed to record agent, cancelling it", zap.String("agent_id", created.ID), zap.Error(err))
		if cerr := client.CancelAgent(writeCtx, created.ID); cerr != nil {
			logger.Warn("failed to cancel unrecorded agent", zap.String("agent_id", created.ID), zap.Error(cerr))
		}
		callErr = err
	}

	class := agent.ClassOf(callErr)
	title, detail := agent.Guidance(provider, class)
	failedAt := d.now()
	logger.Warn("dispatch failed", zap.String("class", string(class)), zap.Error(callErr))

	meta := sending.WorkflowMetadata.WithCurrentEpisode(func(e *types.DispatchEpisode) {
		if e.FailedAt == nil {
			e.FailedAt = &failedAt
			e.Error = callErr.Error()
		}
	}).WithError(callErr.Error(), failedAt)
	if _, err := s.Patch(writeCtx, promptID, types.Updates{
		types.FieldStatus:           types.StatusTodo,
		types.FieldWorkflowMetadata: meta,
	}); err != nil {
		logger.Error("failed to revert prompt after dispatch failure", zap.Error(err))
	}
	d.notifier.Notify(ctx, notify.Notification{
		Title:       title,
		Description: detail,
		Severity:    notify.SeverityError,
		PromptID:    promptID,
	})
	return nil, types.Transient("dispatch prompt", callErr)
}

// Cancel asks the agent to stop, then returns the prompt to todo and clears
// its agent fields whether or not the remote cancel succeeded
func (d *Dispatcher) Cancel(ctx context.Context, agentID string) (*types.Prompt, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, &types.ValidationError{Field: types.FieldAgentID, Message: "agent id is required"}
	}
	s, p, err := d.stores.ForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}
	return d.cancel(ctx, s, p, agentID)
}

// CancelPrompt cancels the agent currently bound to a prompt
func (d *Dispatcher) CancelPrompt(ctx context.Context, promptID string) (*types.Prompt, error) {
	s, err := d.stores.ForPrompt(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prompt %s: %w", promptID, err)
	}
	p, err := s.Current(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if p.AgentID == nil || *p.AgentID == "" {
		return nil, &types.ValidationError{Field: types.FieldAgentID, Message: "prompt has no agent to cancel"}
	}
	return d.cancel(ctx, s, p, *p.AgentID)
}

func (d *Dispatcher) cancel(ctx context.Context, s *store.Store, p *types.Prompt, agentID string) (*types.Prompt, error) {
	provider := d.providerFor(p, "")
	logger := d.logger.With(zap.String("prompt_id", p.ID), zap.String("agent_id", agentID), zap.String("provider", string(provider)))

	remoteErr := func() error {
		client, err := d.Client(ctx, provider)
		if err != nil {
			return err
		}
		return client.CancelAgent(ctx, agentID)
	}()
	if remoteErr != nil {
		logger.Warn("remote cancel failed, cancelling locally", zap.Error(remoteErr))
	}

	unlock := d.locks.lock(p.ID)
	defer unlock()
	if cur, err := s.Current(ctx, p.ID); err == nil {
		p = cur
	}

	cancelledAt := d.now()
	meta := p.WorkflowMetadata.WithCurrentEpisode(func(e *types.DispatchEpisode) {
		if e.AgentID == agentID && e.Open() {
			e.CancelledAt = &cancelledAt
		}
	})
	updated, err := s.Patch(context.WithoutCancel(ctx), p.ID, types.Updates{
		types.FieldStatus:          types.StatusTodo,
		types.FieldAgentID:         nil,
		types.FieldAgentStatus:     nil,
		types.FieldAgentBranchName: nil,
		types.FieldAgentURL:        nil,
		types.FieldWorkflowMetadata: meta,
	})
	if err != nil {
		return nil, err
	}

	n := notify.Notification{
		Title:       "Agent cancelled",
		Description: fmt.Sprintf("%q is back in todo.", updated.Title),
		Severity:    notify.SeverityInfo,
		PromptID:    p.ID,
	}
	if remoteErr != nil {
		title, detail := agent.Guidance(provider, agent.ClassOf(remoteErr))
		n.Severity = notify.SeverityWarning
		n.Description = fmt.Sprintf("%s The remote agent may still be running (%s: %s)", n.Description, title, detail)
	}
	d.notifier.Notify(ctx, n)
	logger.Info("agent cancelled")
	return updated, nil
}

// providerFor picks the provider of the prompt's latest dispatch, falling
// back to hint and then to cursor
func (d *Dispatcher) providerFor(p *types.Prompt, hint types.Provider) types.Provider {
	if ep, ok := p.WorkflowMetadata.CurrentEpisode(); ok && ep.Provider != "" {
		return ep.Provider
	}
	if hint != "" {
		return hint
	}
	return types.ProviderCursor
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
