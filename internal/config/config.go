package config

import (
	"errors"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application configuration. Values come from environment
// variables; secrets are env-only.
type Config struct {
	Environment string `env:"APP_ENV" env-default:"development"`
	Addr        string `env:"API_ADDR" env-default:":8080"`

	// DatabaseURL selects the postgres store for the API. Empty means the
	// API refuses to start; the chat binary falls back to sqlite.
	DatabaseURL string `env:"DATABASE_URL" env-default:""`
	SQLitePath  string `env:"SQLITE_PATH" env-default:"fintrack.db"`

	RedisAddr string `env:"REDIS_ADDR" env-default:""`

	// AnthropicAPIKey enables the LLM extractor. Empty falls back to the
	// deterministic rule extractor.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" env-default:""`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" env-default:""`

	MaxBodyBytes        int64 `env:"API_MAX_BODY_BYTES" env-default:"1048576"`
	RateLimitCapacity   int   `env:"API_RATE_LIMIT_CAPACITY" env-default:"20"`
	RateLimitRefillRate int   `env:"API_RATE_LIMIT_REFILL_PER_SEC" env-default:"10"`
}

// Load reads configuration from the environment and validates it for the
// API binary.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable for the API server.
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	// Production must not run on the fallback extractor silently.
	if c.Environment == "production" && c.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required in production")
	}
	return nil
}
