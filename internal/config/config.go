// Package config provides configuration loading for forged.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/artifacts"
	"github.com/fyrsmithlabs/forged/internal/orchestrator"
	"github.com/fyrsmithlabs/forged/internal/overflow"
	"github.com/fyrsmithlabs/forged/internal/swarm"
	"github.com/fyrsmithlabs/forged/internal/telemetry"
)

// Config is the full forged configuration.
type Config struct {
	Server       ServerConfig         `json:"server" koanf:"server"`
	NATS         NATSConfig           `json:"nats" koanf:"nats"`
	Providers    ProvidersConfig      `json:"providers" koanf:"providers"`
	Logging      LoggingConfig        `json:"logging" koanf:"logging"`
	Telemetry    *telemetry.Config    `json:"telemetry" koanf:"telemetry"`
	Orchestrator *orchestrator.Config `json:"orchestrator" koanf:"orchestrator"`
	Runner       *agent.RunnerConfig  `json:"runner" koanf:"runner"`
	Overflow     *overflow.Config     `json:"overflow" koanf:"overflow"`
	Swarm        SwarmConfig          `json:"swarm" koanf:"swarm"`
	Artifacts    *artifacts.Config    `json:"artifacts" koanf:"artifacts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host                   string `json:"host" koanf:"host"`
	Port                   int    `json:"port" koanf:"port"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" koanf:"shutdown_timeout_seconds"`
}

// NATSConfig configures event publishing and durable state.
type NATSConfig struct {
	Enabled bool   `json:"enabled" koanf:"enabled"`
	URL     string `json:"url" koanf:"url"`
	Name    string `json:"name" koanf:"name"`
}

// ProvidersConfig holds model provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic  AnthropicConfig  `json:"anthropic" koanf:"anthropic"`
	Embeddings EmbeddingsConfig `json:"embeddings" koanf:"embeddings"`
}

// AnthropicConfig configures the completion provider.
type AnthropicConfig struct {
	APIKey  string `json:"api_key" koanf:"api_key"`
	BaseURL string `json:"base_url" koanf:"base_url"`
	Model   string `json:"model" koanf:"model"`
}

// EmbeddingsConfig configures the embedding provider used for intent
// scoring and semantic verification.
type EmbeddingsConfig struct {
	BaseURL string `json:"base_url" koanf:"base_url"`
	Model   string `json:"model" koanf:"model"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`
	Format string `json:"format" koanf:"format"`
}

// SwarmConfig extends the coordinator config with verifier selection.
type SwarmConfig struct {
	Coordinator     *swarm.Config `json:"coordinator" koanf:"coordinator"`
	ReviewPassScore float64       `json:"review_pass_score" koanf:"review_pass_score"`
	Semantic        bool          `json:"semantic" koanf:"semantic"`
}

// Default returns a configuration with every section at its defaults.
// The Anthropic API key is intentionally empty; Validate rejects it until
// the operator supplies one.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8420,
			ShutdownTimeoutSeconds: 10,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Name:    "forged",
		},
		Providers: ProvidersConfig{
			Anthropic: AnthropicConfig{
				BaseURL: "https://api.anthropic.com",
				Model:   "claude-sonnet-4-5",
			},
			Embeddings: EmbeddingsConfig{
				BaseURL: "http://localhost:8080",
				Model:   "BAAI/bge-small-en-v1.5",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry:    telemetry.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Runner:       agent.DefaultRunnerConfig(),
		Overflow:     overflow.DefaultConfig(),
		Swarm: SwarmConfig{
			Coordinator:     swarm.DefaultConfig(),
			ReviewPassScore: 70,
			Semantic:        true,
		},
		Artifacts: artifacts.DefaultConfig(),
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("config: providers.anthropic.api_key is required (set PROVIDERS_ANTHROPIC_API_KEY)")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required when nats is enabled")
	}
	if c.Swarm.ReviewPassScore < 0 || c.Swarm.ReviewPassScore > 100 {
		return fmt.Errorf("config: swarm review pass score must be 0-100")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Swarm.Coordinator.Validate(); err != nil {
		return err
	}
	return nil
}
