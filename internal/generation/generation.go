// Package generation refines a prompt's raw content into a structured
// prompt with an AI provider, moving it todo -> generating -> todo.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/store"
	"github.com/promptline/promptline/internal/transform"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

const (
	// DefaultThreshold: normalized content of this many runes or fewer is not worth generating
	DefaultThreshold = 15
	// DefaultTimeout bounds the transform call
	DefaultTimeout = 30 * time.Second
)

// failureMessage is shown for both failures and timeouts
const failureMessage = "The prompt could not be generated. It is back in todo; try again in a moment."

// Outcome summarizes what Generate did
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Request asks for one generation
type Request struct {
	PromptID     string
	Content      string
	KnowledgeIDs []string
	// Provider and Model default to the pipeline's configured defaults
	Provider types.Provider
	Model    string
}

// Response reports the result of Generate
type Response struct {
	Outcome Outcome
	Prompt  *types.Prompt
}

// KnowledgeSource resolves knowledge item ids to their content
type KnowledgeSource interface {
	ListKnowledgeItems(ctx context.Context, workspaceID string, ids []string) ([]*types.KnowledgeItem, error)
}

// Transformers looks up the transformer for a provider
type Transformers interface {
	Get(provider types.Provider) (transform.Transformer, error)
}

// Config configures a Pipeline
type Config struct {
	Stores       store.Resolver
	Knowledge    KnowledgeSource
	Transformers Transformers
	Notifier     notify.Notifier
	Logger       *zap.Logger

	Threshold       int
	Timeout         time.Duration
	DefaultProvider types.Provider
	DefaultModel    string
	Now             func() time.Time
}

// Pipeline runs generations and tracks the ones in flight
type Pipeline struct {
	stores       store.Resolver
	knowledge    KnowledgeSource
	transformers Transformers
	notifier     notify.Notifier
	logger       *zap.Logger

	threshold       int
	timeout         time.Duration
	defaultProvider types.Provider
	defaultModel    string
	now             func() time.Time

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates a Pipeline
func New(cfg Config) *Pipeline {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = types.ProviderClaude
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		stores:          cfg.Stores,
		knowledge:       cfg.Knowledge,
		transformers:    cfg.Transformers,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger.Named("generation"),
		threshold:       cfg.Threshold,
		timeout:         cfg.Timeout,
		defaultProvider: cfg.DefaultProvider,
		defaultModel:    cfg.DefaultModel,
		now:             cfg.Now,
		inflight:        make(map[string]chan struct{}),
	}
}

// Generate refines req.Content and stores the result on the prompt.
//
// Content that normalizes to Threshold runes or fewer is skipped without
// touching the prompt; the transform itself receives the content as given.
// Otherwise the prompt is persisted as generating, the transform races the
// timeout, and exactly one final write lands the prompt
// back on todo, carrying the generated text on success. Failures and
// timeouts are reported identically and returned as *types.TransientError.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Response, error) {
	content := Normalize(req.Content)
	if utf8.RuneCountInString(content) <= p.threshold {
		p.logger.Debug("content below generation threshold",
			zap.String("prompt_id", req.PromptID),
			zap.Int("runes", utf8.RuneCountInString(content)))
		return &Response{Outcome: OutcomeSkipped}, nil
	}
	if types.IsTempID(req.PromptID) {
		return nil, &types.ValidationError{Field: "id", Message: "prompt is still being saved"}
	}

	provider := req.Provider
	if provider == "" {
		provider = p.defaultProvider
	}
	model := req.Model
	if model == "" && provider == p.defaultProvider {
		model = p.defaultModel
	}
	transformer, err := p.transformers.Get(provider)
	if err != nil {
		return nil, err
	}

	s, err := p.stores.ForPrompt(ctx, req.PromptID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prompt %s: %w", req.PromptID, err)
	}
	cur, err := s.Current(ctx, req.PromptID)
	if err != nil {
		return nil, err
	}

	done, err := p.begin(req.PromptID)
	if err != nil {
		return nil, err
	}
	defer p.end(req.PromptID, done)

	logger := p.logger.With(zap.String("prompt_id", req.PromptID), zap.String("provider", string(provider)))

	if cur.Status != types.StatusGenerating {
		if _, err := s.Patch(ctx, req.PromptID, types.Updates{types.FieldStatus: types.StatusGenerating}); err != nil {
			logger.Warn("failed to mark prompt generating", zap.Error(err))
			p.notifyFailure(ctx, req.PromptID)
			return nil, err
		}
	}

	in := transform.Input{Content: req.Content, Model: model}
	if len(req.KnowledgeIDs) > 0 && p.knowledge != nil {
		items, err := p.knowledge.ListKnowledgeItems(ctx, cur.WorkspaceID, req.KnowledgeIDs)
		if err != nil {
			logger.Warn("knowledge unavailable, generating without it", zap.Error(err))
		} else {
			in.Knowledge = items
		}
	}

	text, cause := p.run(ctx, transformer, in)

	// The final write must land even if the caller has gone away
	writeCtx := context.WithoutCancel(ctx)

	if cause == nil {
		updated, err := s.Patch(writeCtx, req.PromptID, types.Updates{
			types.FieldGeneratedPrompt: text,
			types.FieldGeneratedAt:     p.now(),
			types.FieldStatus:          types.StatusTodo,
		})
		if err == nil {
			logger.Info("prompt generated", zap.Int("length", len(text)))
			p.notifier.Notify(ctx, notify.Notification{
				Title:       "Prompt generated",
				Description: "The refined prompt is ready.",
				Severity:    notify.SeveritySuccess,
				PromptID:    req.PromptID,
			})
			return &Response{Outcome: OutcomeGenerated, Prompt: updated}, nil
		}
		cause = err
	}

	outcome := OutcomeFailed
	if errors.Is(cause, types.ErrTimeout) {
		outcome = OutcomeTimedOut
	}
	logger.Warn("generation failed", zap.String("outcome", string(outcome)), zap.Error(cause))

	reverted, err := s.Patch(writeCtx, req.PromptID, types.Updates{types.FieldStatus: types.StatusTodo})
	if err != nil {
		logger.Error("failed to revert prompt after generation failure", zap.Error(err))
	}
	p.notifyFailure(ctx, req.PromptID)
	return &Response{Outcome: outcome, Prompt: reverted}, types.Transient("generate prompt", cause)
}

func (p *Pipeline) notifyFailure(ctx context.Context, promptID string) {
	p.notifier.Notify(ctx, notify.Notification{
		Title:       "Generation failed",
		Description: failureMessage,
		Severity:    notify.SeverityError,
		PromptID:    promptID,
	})
}

// run calls the transformer, racing it against the timeout so a
// transformer that ignores its context still loses
func (p *Pipeline) run(ctx context.Context, t transform.Transformer, in transform.Input) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		res *transform.Result
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := t.Transform(tctx, in)
		ch <- result{res, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", fmt.Errorf("transform exceeded %v: %w", p.timeout, types.ErrTimeout)
			}
			return "", r.err
		}
		if r.res == nil || !r.res.Success || r.res.Text == "" {
			msg := "transform returned no text"
			if r.res != nil && r.res.Error != "" {
				msg = r.res.Error
			}
			return "", errors.New(msg)
		}
		return r.res.Text, nil
	case <-tctx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("transform exceeded %v: %w", p.timeout, types.ErrTimeout)
	}
}

// Wait blocks until no generation is running for promptID
func (p *Pipeline) Wait(ctx context.Context, promptID string) error {
	p.mu.Lock()
	done, ok := p.inflight[promptID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a generation is running for promptID
func (p *Pipeline) InFlight(promptID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[promptID]
	return ok
}

func (p *Pipeline) begin(promptID string) (chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[promptID]; ok {
		return nil, &types.ValidationError{Field: "id", Message: "a generation is already running for this prompt"}
	}
	done := make(chan struct{})
	p.inflight[promptID] = done
	return done, nil
}

func (p *Pipeline) end(promptID string, done chan struct{}) {
	p.mu.Lock()
	delete(p.inflight, promptID)
	p.mu.Unlock()
	close(done)
}
