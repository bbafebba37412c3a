package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	cfg := &Config{Environment: "development"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate_DevelopmentAllowsRuleExtractor(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		DatabaseURL: "postgres://localhost/fintrack",
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProductionRequiresAPIKey(t *testing.T) {
	cfg := &Config{
		Environment: "production",
		DatabaseURL: "postgres://localhost/fintrack",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	cfg.AnthropicAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fintrack")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("API_RATE_LIMIT_CAPACITY", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 5, cfg.RateLimitCapacity)
	assert.Equal(t, "fintrack.db", cfg.SQLitePath)
}
