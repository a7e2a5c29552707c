// Package config loads promptline.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/batcher"
	"github.com/promptline/promptline/internal/dispatch"
	"github.com/promptline/promptline/internal/generation"
	"github.com/promptline/promptline/internal/storage"
	"github.com/promptline/promptline/internal/transform"
	"github.com/promptline/promptline/internal/types"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory
const FileName = "promptline.yaml"

// Config is the full promptline configuration
type Config struct {
	// Workspace scopes the CLI and daemon to one workspace
	Workspace  string           `yaml:"workspace"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Batcher    BatcherConfig    `yaml:"batcher"`
	Generation GenerationConfig `yaml:"generation"`
	// Transform holds per-provider AI settings (claude, gemini, openai)
	Transform map[types.Provider]TransformConfig `yaml:"transform"`
	Agents    AgentsConfig                       `yaml:"agents"`
	Webhook   WebhookConfig                      `yaml:"webhook"`
	// StatusMap extends the built-in agent status vocabulary:
	// provider -> raw status -> mapping
	StatusMap map[string]map[string]agent.Mapping `yaml:"status_map,omitempty"`
}

type DatabaseConfig struct {
	// Path is empty to discover .promptline/*.db
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is json or console
	Format string `yaml:"format"`
}

type BatcherConfig struct {
	QuietPeriod time.Duration `yaml:"quiet_period"`
	MaxParallel int           `yaml:"max_parallel"`
}

type GenerationConfig struct {
	// Threshold is the normalized rune count at or below which content is
	// not sent to the AI
	Threshold       int            `yaml:"threshold"`
	Timeout         time.Duration  `yaml:"timeout"`
	DefaultProvider types.Provider `yaml:"default_provider"`
	DefaultModel    string         `yaml:"default_model"`
	MaxConcurrent   int            `yaml:"max_concurrent"`
	CircuitBreaker  bool           `yaml:"circuit_breaker"`
}

type TransformConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

type AgentConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
	// Repository is the default GitHub repository for dispatches
	Repository string `yaml:"repository,omitempty"`
}

type AgentsConfig struct {
	Cursor       AgentConfig   `yaml:"cursor"`
	Claude       AgentConfig   `yaml:"claude"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollRate     float64       `yaml:"poll_rate"`
}

type WebhookConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret,omitempty"`
	// PublicURL is the externally reachable base agents post to
	PublicURL string `yaml:"public_url,omitempty"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Workspace: "default",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Batcher: BatcherConfig{
			QuietPeriod: batcher.DefaultQuietPeriod,
			MaxParallel: 4,
		},
		Generation: GenerationConfig{
			Threshold:       generation.DefaultThreshold,
			Timeout:         generation.DefaultTimeout,
			DefaultProvider: types.ProviderClaude,
			MaxConcurrent:   transform.DefaultGuardConfig().MaxConcurrentCalls,
			CircuitBreaker:  true,
		},
		Transform: map[types.Provider]TransformConfig{
			types.ProviderClaude: {Model: transform.ModelClaude},
			types.ProviderGemini: {Model: transform.ModelGemini},
			types.ProviderOpenAI: {Model: transform.ModelOpenAI},
		},
		Agents: AgentsConfig{
			Cursor:       AgentConfig{BaseURL: agent.DefaultCursorBaseURL, Model: agent.DefaultCursorModel, Ref: agent.DefaultRef},
			Claude:       AgentConfig{BaseURL: agent.DefaultClaudeBaseURL, Model: agent.DefaultClaudeAgentModel, Ref: agent.DefaultRef},
			PollInterval: dispatch.DefaultPollInterval,
			PollRate:     dispatch.DefaultPollRate,
		},
		Webhook: WebhookConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace) == "" {
		return fmt.Errorf("workspace is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console' (got %q)", c.Logging.Format)
	}
	if c.Batcher.QuietPeriod <= 0 || c.Batcher.QuietPeriod > time.Minute {
		return fmt.Errorf("batcher.quiet_period must be between 0 and 1m (got %v)", c.Batcher.QuietPeriod)
	}
	if c.Batcher.MaxParallel < 1 || c.Batcher.MaxParallel > 64 {
		return fmt.Errorf("batcher.max_parallel must be between 1 and 64 (got %d)", c.Batcher.MaxParallel)
	}
	if c.Generation.Threshold < 0 {
		return fmt.Errorf("generation.threshold cannot be negative (got %d)", c.Generation.Threshold)
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive (got %v)", c.Generation.Timeout)
	}
	if !c.Generation.DefaultProvider.IsTransformProvider() {
		return fmt.Errorf("generation.default_provider must be claude, gemini or openai (got %q)", c.Generation.DefaultProvider)
	}
	if c.Generation.MaxConcurrent < 0 {
		return fmt.Errorf("generation.max_concurrent cannot be negative (got %d)", c.Generation.MaxConcurrent)
	}
	for provider := range c.Transform {
		if !provider.IsTransformProvider() {
			return fmt.Errorf("transform: %q is not a transform provider", provider)
		}
	}
	if c.Agents.PollInterval < time.Second {
		return fmt.Errorf("agents.poll_interval must be at least 1s (got %v)", c.Agents.PollInterval)
	}
	if c.Agents.PollRate <= 0 {
		return fmt.Errorf("agents.poll_rate must be positive (got %v)", c.Agents.PollRate)
	}
	if c.Webhook.Addr == "" {
		return fmt.Errorf("webhook.addr is required")
	}
	if len(c.StatusMap) > 0 {
		// Validates provider names and target statuses
		if err := agent.NewStatusMap().Merge(c.StatusMap); err != nil {
			return fmt.Errorf("status_map: %w", err)
		}
	}
	return nil
}

// Load reads the config file at path (or PROMPTLINE_CONFIG, or ./promptline.yaml)
// over the defaults, then applies environment overrides. A missing file at the
// implicit location is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("PROMPTLINE_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = FileName
		}
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Write saves cfg as YAML, refusing to overwrite an existing file
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// DatabasePath resolves the database: config, then PROMPTLINE_DB or
// .promptline/*.db discovery
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	return storage.DiscoverDatabase()
}

// TransformConfigs converts the transform section for transform.BuildSet
func (c *Config) TransformConfigs() map[types.Provider]transform.ProviderConfig {
	out := make(map[types.Provider]transform.ProviderConfig, len(c.Transform))
	for provider, tc := range c.Transform {
		out[provider] = transform.ProviderConfig{
			APIKey:    tc.APIKey,
			Model:     tc.Model,
			BaseURL:   tc.BaseURL,
			MaxTokens: tc.MaxTokens,
		}
	}
	return out
}

// Guard returns the limits placed around each transform provider
func (c *Config) Guard() transform.GuardConfig {
	g := transform.DefaultGuardConfig()
	g.MaxConcurrentCalls = c.Generation.MaxConcurrent
	g.CircuitBreakerEnabled = c.Generation.CircuitBreaker
	return g
}

// AgentBaseURLs returns the API base of each agent provider
func (c *Config) AgentBaseURLs() map[types.Provider]string {
	return map[types.Provider]string{
		types.ProviderCursor: c.Agents.Cursor.BaseURL,
		types.ProviderClaude: c.Agents.Claude.BaseURL,
	}
}

// Agent returns the settings of one agent provider
func (c *Config) Agent(provider types.Provider) AgentConfig {
	if provider == types.ProviderClaude {
		return c.Agents.Claude
	}
	return c.Agents.Cursor
}

// WebhookBaseURL is where agents post status pushes
func (c *Config) WebhookBaseURL() string {
	if c.Webhook.PublicURL != "" {
		return strings.TrimRight(c.Webhook.PublicURL, "/")
	}
	return "http://" + c.Webhook.Addr
}
