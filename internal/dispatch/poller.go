package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is how often running agents are polled
	DefaultPollInterval = 30 * time.Second
	// DefaultPollRate bounds agent status requests per second across all prompts
	DefaultPollRate = 2.0
)

// PromptLister finds the prompts with live agents
type PromptLister interface {
	ListPrompts(ctx context.Context, filter types.PromptFilter) ([]*types.Prompt, error)
}

// PollerConfig configures a Poller
type PollerConfig struct {
	Interval time.Duration
	// Rate is requests per second; Burst defaults to 1
	Rate   float64
	Burst  int
	Logger *zap.Logger
}

// Poller periodically reconciles every prompt whose agent is still running.
// It complements webhooks for agents that cannot reach the daemon.
type Poller struct {
	dispatcher *Dispatcher
	prompts    PromptLister
	interval   time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewPoller creates a Poller
func NewPoller(d *Dispatcher, prompts PromptLister, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultPollRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{
		dispatcher: d,
		prompts:    prompts,
		interval:   cfg.Interval,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:     cfg.Logger.Named("poller"),
	}
}

// Run polls every interval until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("agent poller started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("agent poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PollAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("poll cycle failed", zap.Error(err))
			}
		}
	}
}

// PollAll reconciles each prompt in sent_to_agent or in_progress whose
// agent has not reached a terminal status. It returns how many were polled;
// per-prompt failures are logged, not returned.
func (p *Poller) PollAll(ctx context.Context) (int, error) {
	prompts, err := p.prompts.ListPrompts(ctx, types.PromptFilter{
		Statuses: []types.Status{types.StatusSentToAgent, types.StatusInProgress},
		HasAgent: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list prompts with agents: %w", err)
	}

	polled := 0
	for _, prompt := range prompts {
		provider := p.dispatcher.providerFor(prompt, "")
		if prompt.AgentStatus != nil && p.dispatcher.statusMap.IsTerminal(provider, *prompt.AgentStatus) {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return polled, err
		}
		polled++
		res, err := p.dispatcher.PollOnce(ctx, prompt.ID)
		if err != nil {
			p.logger.Warn("poll failed", zap.String("prompt_id", prompt.ID), zap.Error(err))
			continue
		}
		if !res.Duplicate {
			p.logger.Debug("agent polled",
				zap.String("prompt_id", prompt.ID),
				zap.String("status", string(res.Mapping.Status)),
				zap.Bool("applied", res.Applied))
		}
	}
	return polled, nil
}
