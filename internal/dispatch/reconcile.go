package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// Push is one status report from an agent, delivered by webhook or poll
type Push struct {
	// Provider is a hint; the provider of the prompt's latest episode wins
	Provider          types.Provider
	AgentID           string
	Status            string
	Branch            string
	PullRequestURL    string
	PullRequestNumber *int
	Error             string
	// Timestamp is the sender's event time, part of the delivery key
	Timestamp time.Time
}

// DeliveryKey identifies a push for exactly-once application. Pushes
// without a timestamp (polls) are keyed by the fields they carry, so a later
// poll reporting a new branch or pull request is not a duplicate.
func (p Push) DeliveryKey() string {
	if !p.Timestamp.IsZero() {
		return p.AgentID + "|" + p.Status + "|" + p.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	pr := ""
	if p.PullRequestNumber != nil {
		pr = strconv.Itoa(*p.PullRequestNumber)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{p.Branch, p.PullRequestURL, pr, p.Error}, "\x00")))
	return p.AgentID + "|" + p.Status + "|poll:" + hex.EncodeToString(sum[:8])
}

// ReconcileResult reports what a push did to its prompt
type ReconcileResult struct {
	Prompt *types.Prompt
	// Mapping is where the raw status mapped to
	Mapping agent.Mapping
	// Applied is false when the mapped status was not written (regression,
	// illegal transition or stale push after the run ended)
	Applied bool
	// Duplicate pushes are acknowledged and otherwise ignored
	Duplicate bool
	// Warning is a *types.ExternalStateError for unknown raw statuses
	Warning error
}

// Reconcile folds an agent status push into the prompt bound to the agent.
// Each delivery key is applied at most once.
func (d *Dispatcher) Reconcile(ctx context.Context, push Push) (*ReconcileResult, error) {
	push.AgentID = strings.TrimSpace(push.AgentID)
	push.Status = strings.TrimSpace(push.Status)
	if push.AgentID == "" {
		return nil, &types.ValidationError{Field: "agentId", Message: "agent id is required"}
	}
	if push.Status == "" {
		return nil, &types.ValidationError{Field: "status", Message: "status is required"}
	}

	key := push.DeliveryKey()
	if d.deliveries != nil {
		fresh, err := d.deliveries.RecordWebhookDelivery(ctx, key, push.AgentID, push.Status)
		if err != nil {
			return nil, types.Transient("record delivery", err)
		}
		if !fresh {
			d.logger.Debug("duplicate status push ignored", zap.String("delivery_key", key))
			return &ReconcileResult{Duplicate: true}, nil
		}
	}

	res, err := d.reconcile(ctx, push)
	if err != nil && d.deliveries != nil {
		// Let the sender's retry through
		if ferr := d.deliveries.ForgetWebhookDelivery(context.WithoutCancel(ctx), key); ferr != nil {
			d.logger.Error("failed to forget delivery", zap.String("delivery_key", key), zap.Error(ferr))
		}
	}
	return res, err
}

func (d *Dispatcher) reconcile(ctx context.Context, push Push) (*ReconcileResult, error) {
	s, resolved, err := d.stores.ForAgent(ctx, push.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", push.AgentID, err)
	}

	// The decision below and the write must see the same prompt
	unlock := d.locks.lock(resolved.ID)
	defer unlock()
	p, err := s.Current(ctx, resolved.ID)
	if err != nil {
		return nil, err
	}
	if p.AgentID == nil || *p.AgentID != push.AgentID {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", push.AgentID, types.ErrNotFound)
	}
	provider := d.providerFor(p, push.Provider)
	logger := d.logger.With(
		zap.String("prompt_id", p.ID),
		zap.String("agent_id", push.AgentID),
		zap.String("raw_status", push.Status))

	mapping, warning := d.statusMap.Map(provider, push.AgentID, push.Status)

	// Once the stored raw status ends the run, later non-terminal pushes are stale
	stale := p.AgentStatus != nil && d.statusMap.IsTerminal(provider, *p.AgentStatus) && !mapping.Terminal
	apply := !stale &&
		!types.IsAgentRegression(p.Status, mapping.Status) &&
		types.CanTransition(p.Status, mapping.Status)

	now := d.now()
	updates := types.Updates{}
	if !stale {
		updates[types.FieldAgentStatus] = push.Status
	}
	if push.Branch != "" {
		updates[types.FieldAgentBranchName] = push.Branch
	}
	if push.PullRequestURL != "" {
		updates[types.FieldPullRequestURL] = push.PullRequestURL
		if p.PullRequestStatus == nil {
			updates[types.FieldPullRequestStatus] = "open"
		}
	}
	if push.PullRequestNumber != nil {
		updates[types.FieldPullRequestNumber] = *push.PullRequestNumber
	}
	if apply && mapping.Status != p.Status {
		updates[types.FieldStatus] = mapping.Status
	}

	meta := p.WorkflowMetadata.WithWebhook(types.WebhookRecord{
		ReceivedAt: now,
		AgentID:    push.AgentID,
		Status:     push.Status,
		Mapped:     mapping.Status,
		Applied:    apply,
	})
	if push.Error != "" {
		meta = meta.WithError(push.Error, now)
	}
	if apply && mapping.Failed {
		meta = meta.WithCurrentEpisode(func(e *types.DispatchEpisode) {
			if e.AgentID == push.AgentID && e.Open() {
				e.FailedAt = &now
				e.Error = failureReason(push)
			}
		})
	}
	updates[types.FieldWorkflowMetadata] = meta

	updated, err := s.Patch(ctx, p.ID, updates)
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{Prompt: updated, Mapping: mapping, Applied: apply, Warning: warning}
	switch {
	case warning != nil:
		logger.Warn("unknown agent status", zap.Error(warning))
		d.notifier.Notify(ctx, notify.Notification{
			Title:       "Unknown agent status",
			Description: fmt.Sprintf("%s reported %q; the prompt is treated as in progress.", agent.ProviderLabel(provider), push.Status),
			Severity:    notify.SeverityWarning,
			PromptID:    p.ID,
		})
	case !apply:
		logger.Info("agent status recorded without changing prompt status",
			zap.String("mapped", string(mapping.Status)),
			zap.String("current", string(p.Status)),
			zap.Bool("stale", stale))
	case mapping.Failed:
		logger.Warn("agent run ended without result")
		d.notifier.Notify(ctx, notify.Notification{
			Title:       fmt.Sprintf("%s agent stopped", agent.ProviderLabel(provider)),
			Description: failureReason(push),
			Severity:    notify.SeverityError,
			PromptID:    p.ID,
		})
	case mapping.Status == types.StatusDone && p.Status != types.StatusDone:
		logger.Info("agent run completed")
		desc := fmt.Sprintf("%q is done.", updated.Title)
		if push.PullRequestURL != "" {
			desc = fmt.Sprintf("%s Pull request: %s", desc, push.PullRequestURL)
		}
		d.notifier.Notify(ctx, notify.Notification{
			Title:       fmt.Sprintf("%s agent finished", agent.ProviderLabel(provider)),
			Description: desc,
			Severity:    notify.SeveritySuccess,
			PromptID:    p.ID,
		})
	default:
		logger.Debug("agent status applied", zap.String("status", string(mapping.Status)))
	}
	return res, nil
}

func failureReason(push Push) string {
	if push.Error != "" {
		return push.Error
	}
	return fmt.Sprintf("agent reported %s", push.Status)
}

// PollOnce fetches the remote state of the prompt's agent and reconciles it
func (d *Dispatcher) PollOnce(ctx context.Context, promptID string) (*ReconcileResult, error) {
	s, err := d.stores.ForPrompt(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prompt %s: %w", promptID, err)
	}
	p, err := s.Current(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if p.AgentID == nil || *p.AgentID == "" {
		return nil, &types.ValidationError{Field: types.FieldAgentID, Message: "prompt has no agent to poll"}
	}

	provider := d.providerFor(p, "")
	client, err := d.Client(ctx, provider)
	if err != nil {
		return nil, err
	}
	remote, err := client.GetAgent(ctx, *p.AgentID)
	if err != nil {
		var apiErr *agent.APIError
		if errors.As(err, &apiErr) && apiErr.Class == agent.ClassNotFound {
			d.logger.Warn("polled agent no longer exists",
				zap.String("prompt_id", promptID), zap.String("agent_id", *p.AgentID))
		}
		return nil, types.Transient("poll agent", err)
	}

	return d.Reconcile(ctx, Push{
		Provider:          provider,
		AgentID:           *p.AgentID,
		Status:            remote.Status,
		Branch:            remote.BranchName,
		PullRequestURL:    remote.PullRequestURL,
		PullRequestNumber: remote.PullRequestNumber,
		Error:             remote.Error,
	})
}
