package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("PingInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PingIntervalSeconds: 30}
		assert.Equal(t, 30*time.Second, cfg.PingInterval())
	})

	t.Run("EventRetention converts hours to duration", func(t *testing.T) {
		cfg := &Config{EventRetentionHours: 24}
		assert.Equal(t, 24*time.Hour, cfg.EventRetention())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 3000, PingIntervalSeconds: 30, MaxMessageBytes: 1024}
	}

	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects out of range port", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive ping interval", func(t *testing.T) {
		cfg := valid()
		cfg.PingIntervalSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-bcrypt snapshot hash", func(t *testing.T) {
		cfg := valid()
		cfg.SnapshotTokenHash = "plaintext"
		assert.Error(t, cfg.Validate())
	})

	t.Run("accepts bcrypt snapshot hash", func(t *testing.T) {
		cfg := valid()
		cfg.SnapshotTokenHash = "$2a$10$abcdefghijklmnopqrstuuJ5y3o1r4x6lZ8Yq0h1Q2w3e4r5t6y7u"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("PING_INTERVAL_SECONDS", "")
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("ALLOWED_ORIGINS", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 30, cfg.PingIntervalSeconds)
		assert.Equal(t, int64(10<<20), cfg.MaxMessageBytes)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 168, cfg.EventRetentionHours)
		assert.Empty(t, cfg.AllowedOrigins)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		t.Setenv("PING_INTERVAL_SECONDS", "10")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 10*time.Second, cfg.PingInterval())
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	})

	t.Run("fails on invalid port", func(t *testing.T) {
		t.Setenv("PORT", "not-a-number")

		_, err := Load()
		assert.Error(t, err)
	})
}
