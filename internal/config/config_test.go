package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 20, cfg.RateLimitMax)
	assert.Equal(t, time.Hour, cfg.RateLimitWindow)
	assert.Equal(t, 0.3, cfg.RetrievalThreshold)
	assert.Equal(t, 5, cfg.RetrievalLimit)
	assert.Equal(t, 10, cfg.ChatContextTurns)
	assert.Equal(t, 30*time.Second, cfg.ChatTimeout)
	assert.Equal(t, "database", cfg.RateLimitBackend)
	assert.False(t, cfg.RateLimitFailOpen)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHAT_RATE_LIMIT_MAX", "3")
	t.Setenv("CHAT_RATE_LIMIT_WINDOW", "10m")
	t.Setenv("RETRIEVAL_THRESHOLD", "0.55")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://framestudio.gr, https://www.framestudio.gr,")

	cfg := Load()

	assert.Equal(t, 3, cfg.RateLimitMax)
	assert.Equal(t, 10*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 0.55, cfg.RetrievalThreshold)
	assert.True(t, cfg.RateLimitFailOpen)
	assert.Equal(t, []string{"https://framestudio.gr", "https://www.framestudio.gr"}, cfg.CORSAllowedOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHAT_MAX_TOKENS", "lots")
	t.Setenv("CHAT_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 1000, cfg.ChatMaxTokens)
	assert.Equal(t, 30*time.Second, cfg.ChatTimeout)
}
