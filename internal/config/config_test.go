package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Marketplace.MaxResults)
	assert.Equal(t, 20, cfg.Marketplace.MaxReviews)
	assert.Equal(t, 100, cfg.Marketplace.MaxReviewsLimit)
	assert.Equal(t, 5, cfg.Marketplace.ScrollAttempts)
	assert.Equal(t, 3, cfg.Marketplace.LoadMoreClicks)
	assert.Equal(t, 3, cfg.Marketplace.PaginationPages)
	assert.Equal(t, 30*time.Second, cfg.Marketplace.PageLoadTimeout)
	assert.Equal(t, "deepseek/deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Database.Host)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "sk-fallback")
	t.Setenv("MARKETPLACE_MAX_RESULTS", "25")
	t.Setenv("MARKETPLACE_PAGE_LOAD_TIMEOUT", "45s")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LLM_TEMPERATURE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)
	assert.Equal(t, 25, cfg.Marketplace.MaxResults)
	assert.Equal(t, 45*time.Second, cfg.Marketplace.PageLoadTimeout)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "LLM_API_KEY"},
		{"zero results", func(c *Config) { c.Marketplace.MaxResults = 0 }, "MARKETPLACE_MAX_RESULTS"},
		{"reviews above limit", func(c *Config) { c.Marketplace.MaxReviews = 500 }, "MARKETPLACE_MAX_REVIEWS"},
		{"tiny html budget", func(c *Config) { c.Marketplace.HTMLBudget = 10 }, "MARKETPLACE_HTML_BUDGET"},
		{"db without name", func(c *Config) { c.Database.Host = "db"; c.Database.DBName = "" }, "DB_NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_API_KEY", "sk-test")
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
