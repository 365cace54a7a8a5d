package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything syncd needs at runtime. Values come from an
// optional YAML file named by SYNCD_CONFIG, with environment variables
// overriding the file.
type Config struct {
	HTTPPort      int    `yaml:"http_port"`
	DatabaseURL   string `yaml:"database_url"`
	NATSURL       string `yaml:"nats_url"`
	ArchiveBucket string `yaml:"archive_bucket"`

	MaxStateBytes int `yaml:"max_state_bytes"`

	StoreTimeoutSeconds int `yaml:"store_timeout_seconds"`
	PresenceTTLSeconds  int `yaml:"presence_ttl_seconds"`
	InviteTTLHours      int `yaml:"invite_ttl_hours"`
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

func (c Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLHours) * time.Hour
}

func Load() (Config, error) {
	cfg := Config{
		HTTPPort:            8080,
		NATSURL:             "nats://127.0.0.1:4222",
		MaxStateBytes:       64 * 1024,
		StoreTimeoutSeconds: 5,
		PresenceTTLSeconds:  60,
		InviteTTLHours:      72,
	}

	if path := os.Getenv("SYNCD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read SYNCD_CONFIG %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse SYNCD_CONFIG %s: %w", path, err)
		}
	}

	cfg.HTTPPort = getEnvInt("SYNCD_HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("SYNCD_DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = getEnv("SYNCD_NATS_URL", cfg.NATSURL)
	cfg.ArchiveBucket = getEnv("SYNCD_ARCHIVE_BUCKET", cfg.ArchiveBucket)
	cfg.MaxStateBytes = getEnvInt("SYNCD_MAX_STATE_BYTES", cfg.MaxStateBytes)
	cfg.StoreTimeoutSeconds = getEnvInt("SYNCD_STORE_TIMEOUT_SECONDS", cfg.StoreTimeoutSeconds)
	cfg.PresenceTTLSeconds = getEnvInt("SYNCD_PRESENCE_TTL_SECONDS", cfg.PresenceTTLSeconds)
	cfg.InviteTTLHours = getEnvInt("SYNCD_INVITE_TTL_HOURS", cfg.InviteTTLHours)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("SYNCD_DATABASE_URL is required")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid SYNCD_HTTP_PORT: %d", cfg.HTTPPort)
	}
	if cfg.MaxStateBytes <= 0 {
		return Config{}, fmt.Errorf("invalid SYNCD_MAX_STATE_BYTES: %d", cfg.MaxStateBytes)
	}
	if cfg.StoreTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("invalid SYNCD_STORE_TIMEOUT_SECONDS: %d", cfg.StoreTimeoutSeconds)
	}
	if cfg.PresenceTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("invalid SYNCD_PRESENCE_TTL_SECONDS: %d", cfg.PresenceTTLSeconds)
	}
	if cfg.InviteTTLHours <= 0 {
		return Config{}, fmt.Errorf("invalid SYNCD_INVITE_TTL_HOURS: %d", cfg.InviteTTLHours)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
