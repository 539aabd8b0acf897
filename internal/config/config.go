package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                int      `env:"PORT" envDefault:"3000"`
	LogLevel            string   `env:"LOG_LEVEL" envDefault:"info"`
	PingIntervalSeconds int      `env:"PING_INTERVAL_SECONDS" envDefault:"30"`
	MaxMessageBytes     int64    `env:"MAX_MESSAGE_BYTES" envDefault:"10485760"`
	AllowedOrigins      []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	StaticDir           string   `env:"STATIC_DIR" envDefault:"public"`
	RedisURL            string   `env:"REDIS_URL"`
	DatabaseURL         string   `env:"DATABASE_URL"`
	SnapshotTokenHash   string   `env:"SNAPSHOT_TOKEN_HASH"`
	EventRetentionHours int      `env:"EVENT_RETENTION_HOURS" envDefault:"168"`
	RateLimitPerMin     int      `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.PingIntervalSeconds <= 0 {
		return fmt.Errorf("PING_INTERVAL_SECONDS must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive")
	}
	if c.SnapshotTokenHash != "" {
		if !strings.HasPrefix(c.SnapshotTokenHash, "$2a$") &&
			!strings.HasPrefix(c.SnapshotTokenHash, "$2b$") &&
			!strings.HasPrefix(c.SnapshotTokenHash, "$2y$") {
			return fmt.Errorf("SNAPSHOT_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	} else {
		log.Warn().Msg("SNAPSHOT_TOKEN_HASH is empty: /api/sessions exposes PINs to any caller")
	}
	if c.RedisURL != "" && strings.HasPrefix(c.RedisURL, "redis://") {
		log.Debug().Msg("REDIS_URL uses redis:// (not TLS)")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
