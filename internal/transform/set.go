package transform

import (
	"context"
	"fmt"

	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// Set holds one guarded Transformer per configured provider
type Set struct {
	transformers map[types.Provider]Transformer
}

// NewSet returns an empty set
func NewSet() *Set {
	return &Set{transformers: make(map[types.Provider]Transformer)}
}

// Register adds or replaces the transformer for a provider
func (s *Set) Register(provider types.Provider, t Transformer) {
	s.transformers[provider] = t
}

// Get returns the transformer for a provider
func (s *Set) Get(provider types.Provider) (Transformer, error) {
	t, ok := s.transformers[provider]
	if !ok {
		return nil, &types.ValidationError{Field: "provider", Message: fmt.Sprintf("no transform provider configured for %q", provider)}
	}
	return t, nil
}

// Providers lists the registered providers
func (s *Set) Providers() []types.Provider {
	out := make([]types.Provider, 0, len(s.transformers))
	for p := range s.transformers {
		out = append(out, p)
	}
	return out
}

// NewProvider builds the raw client for a transform provider
func NewProvider(ctx context.Context, provider types.Provider, cfg ProviderConfig) (Transformer, error) {
	switch provider {
	case types.ProviderClaude:
		return NewClaude(cfg)
	case types.ProviderGemini:
		return NewGemini(ctx, cfg)
	case types.ProviderOpenAI:
		return NewOpenAI(cfg)
	}
	return nil, &types.ValidationError{Field: "provider", Message: fmt.Sprintf("%q is not a transform provider", provider)}
}

// BuildSet creates guarded transformers for every provider in cfgs. A
// provider whose client cannot be created (missing key) is skipped and logged.
func BuildSet(ctx context.Context, cfgs map[types.Provider]ProviderConfig, guard GuardConfig, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := NewSet()
	for provider, cfg := range cfgs {
		t, err := NewProvider(ctx, provider, cfg)
		if err != nil {
			logger.Debug("transform provider unavailable", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		set.Register(provider, NewGuarded(provider, t, guard, logger))
	}
	return set
}
