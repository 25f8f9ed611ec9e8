package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SETTLE_INTERVAL", "")
	t.Setenv("MATCHES_PER_WEEK", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.SettleBatchSize)
	assert.Equal(t, 30*time.Second, cfg.SettleInterval)
	assert.Equal(t, 10, cfg.MatchesPerWeek)
	assert.Equal(t, 100, cfg.FixtureMaxAttempts)
	assert.False(t, cfg.TelegramEnabled())
	assert.Error(t, cfg.RequireDatabase())
}

func TestLoad_overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sim")
	t.Setenv("SETTLE_INTERVAL", "45")
	t.Setenv("PUBLISH_INTERVAL", "2m")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireDatabase())
	assert.Equal(t, 45*time.Second, cfg.SettleInterval)
	assert.Equal(t, 2*time.Minute, cfg.PublishInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigins)
	assert.True(t, cfg.TelegramEnabled())
	assert.Equal(t, int64(-1001), cfg.TelegramChatID)
}

func TestLoad_rejectsBadValues(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("MATCHES_PER_WEEK", "0")
	_, err = Load()
	assert.Error(t, err)
}
