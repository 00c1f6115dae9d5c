package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
	require.NoError(t, Normalize(cfg))

	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, 1000, cfg.RateLimit.WindowMS)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, 60000, cfg.RateLimit.BlockTimeoutMS)
	assert.Equal(t, 30000, cfg.AI.TimeoutMS)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.Dir)
	assert.Equal(t, "./data/features", cfg.Storage.HandlersDir)
	assert.Equal(t, 30, cfg.Telegram.SendRatePerSecond)
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]*Config{
		"missing token":     {},
		"bad run mode":      {Telegram: TelegramConfig{Token: "t", RunMode: "push"}},
		"webhook w/o url":   {Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}},
		"bad exclude":       {Telegram: TelegramConfig{Token: "t"}, RateLimit: RateLimitConfig{ExcludeUpdates: []string{"poll"}}},
		"negative limit":    {Telegram: TelegramConfig{Token: "t"}, RateLimit: RateLimitConfig{Limit: -1}},
		"bad backend":       {Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Backend: "mongo"}},
		"redis w/o addr":    {Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Backend: "redis"}},
		"ai without key":    {Telegram: TelegramConfig{Token: "t"}, AI: AIConfig{Enabled: true}},
		"postgres w/o host": {Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Backend: "postgres"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Normalize(cfg))
		})
	}
}

func TestLoadOverlaysEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
telegram:
  token: from-yaml
  admin_ids: [1, 2]
rate_limit:
  limit: 3
  exclude_updates: ["Callback"]
storage:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("RATE_LIMIT_WINDOW_MS", "2500")
	t.Setenv("DEBUG_MODE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AdminIDs)
	assert.True(t, cfg.IsAdmin(2))
	assert.False(t, cfg.IsAdmin(3))
	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, 2500, cfg.RateLimit.WindowMS)
	assert.Equal(t, []string{UpdateCallback}, cfg.RateLimit.ExcludeUpdates)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "sqlite", cfg.Storage.Database.Driver)
	assert.Equal(t, "./data/featurebot.db", cfg.Storage.Database.Path)
}

func TestNormalizeReportsEveryProblem(t *testing.T) {
	err := Normalize(&Config{
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{"poll"}},
		Storage:   StorageConfig{Backend: "redis"},
	})
	require.Error(t, err)
	for _, want := range []string{"telegram token", "exclude_updates", "redis.addr"} {
		assert.Contains(t, err.Error(), want)
	}
}
