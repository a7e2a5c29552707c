package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// GuardConfig configures the limits placed around a provider
type GuardConfig struct {
	// MaxConcurrentCalls limits in-flight provider calls (0 = unlimited)
	MaxConcurrentCalls int

	CircuitBreakerEnabled bool
	FailureThreshold      int
	SuccessThreshold      int
	OpenTimeout           time.Duration
}

// DefaultGuardConfig returns the default limits
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxConcurrentCalls:    3,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
	}
}

// Guarded wraps a Transformer with a concurrency limiter and a circuit
// breaker. Failed calls are never retried; the generation pipeline reverts
// the prompt and the user decides whether to try again.
type Guarded struct {
	provider types.Provider
	next     Transformer
	logger   *zap.Logger
	sem      *semaphore.Weighted
	breaker  *CircuitBreaker
}

// NewGuarded wraps next
func NewGuarded(provider types.Provider, next Transformer, cfg GuardConfig, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", string(provider)))

	g := &Guarded{provider: provider, next: next, logger: logger}
	if cfg.MaxConcurrentCalls > 0 {
		g.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.CircuitBreakerEnabled {
		g.breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, logger)
	}
	return g
}

// Breaker exposes the circuit breaker (nil when disabled)
func (g *Guarded) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *Guarded) Transform(ctx context.Context, in Input) (*Result, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire concurrency slot for %s transform: %w", g.provider, err)
		}
		defer g.sem.Release(1)
	}

	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			g.logger.Warn("transform blocked by circuit breaker", zap.Stringer("state", g.breaker.State()))
			return nil, fmt.Errorf("%s transform failed: %w", g.provider, err)
		}
	}

	start := time.Now()
	res, err := g.next.Transform(ctx, in)
	failed := err != nil || res == nil || !res.Success

	if g.breaker != nil {
		// Caller cancellation says nothing about provider health
		if failed && ctx.Err() == nil {
			g.breaker.RecordFailure()
		} else if !failed {
			g.breaker.RecordSuccess()
		}
	}

	if err != nil {
		g.logger.Warn("transform failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return nil, err
	}
	g.logger.Debug("transform finished",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("success", res != nil && res.Success))
	return res, nil
}
