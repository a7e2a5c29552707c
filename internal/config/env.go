package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/promptline/promptline/internal/types"
)

// transformKeyEnv names the API key variable of each transform provider
var transformKeyEnv = map[types.Provider]string{
	types.ProviderClaude: "ANTHROPIC_API_KEY",
	types.ProviderGemini: "GEMINI_API_KEY",
	types.ProviderOpenAI: "OPENAI_API_KEY",
}

// applyEnv overrides file values from the environment
//
// Environment variables:
//   - PROMPTLINE_WORKSPACE: workspace id
//   - PROMPTLINE_DB: database path
//   - PROMPTLINE_LOG_LEVEL, PROMPTLINE_LOG_FORMAT: logging
//   - PROMPTLINE_MODEL_DEFAULT: model used when a generation names none
//   - PROMPTLINE_GENERATION_TIMEOUT: transform deadline (e.g. 30s)
//   - PROMPTLINE_POLL_INTERVAL: agent poll interval (e.g. 30s)
//   - PROMPTLINE_WEBHOOK_ADDR, PROMPTLINE_WEBHOOK_SECRET, PROMPTLINE_WEBHOOK_URL: webhook receiver
//   - ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY: transform provider keys
//
// Agent keys (CURSOR_API_KEY, CLAUDE_AGENT_API_KEY) are read at dispatch time
// so stored credentials take precedence.
func (c *Config) applyEnv() error {
	parseEnvString("PROMPTLINE_WORKSPACE", &c.Workspace)
	parseEnvString("PROMPTLINE_DB", &c.Database.Path)
	parseEnvString("PROMPTLINE_LOG_LEVEL", &c.Logging.Level)
	parseEnvString("PROMPTLINE_LOG_FORMAT", &c.Logging.Format)
	parseEnvString("PROMPTLINE_MODEL_DEFAULT", &c.Generation.DefaultModel)
	parseEnvString("PROMPTLINE_WEBHOOK_ADDR", &c.Webhook.Addr)
	parseEnvString("PROMPTLINE_WEBHOOK_SECRET", &c.Webhook.Secret)
	parseEnvString("PROMPTLINE_WEBHOOK_URL", &c.Webhook.PublicURL)

	if err := parseEnvDuration("PROMPTLINE_GENERATION_TIMEOUT", &c.Generation.Timeout); err != nil {
		return err
	}
	if err := parseEnvDuration("PROMPTLINE_POLL_INTERVAL", &c.Agents.PollInterval); err != nil {
		return err
	}
	if err := parseEnvFloat("PROMPTLINE_POLL_RATE", &c.Agents.PollRate); err != nil {
		return err
	}

	for provider, key := range transformKeyEnv {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if c.Transform == nil {
			c.Transform = map[types.Provider]TransformConfig{}
		}
		tc := c.Transform[provider]
		tc.APIKey = value
		c.Transform[provider] = tc
	}
	return nil
}

// parseEnvString copies a non-empty environment variable into dest
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// parseEnvDuration parses a duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
