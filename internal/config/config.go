// Package config loads server settings from the environment.
//
// Every setting has a default, so the server starts with no environment at
// all: local-only identities in data/identity.db, in-memory sessions and an
// ephemeral session secret.
//
//	PORT                        HTTP port (8080)
//	DB_PATH                     SQLite file (data/identity.db)
//	LOG_LEVEL                   debug, info, warn, error (info)
//	SESSION_SECRET              HMAC key for instance cookies (random per process)
//	SESSION_INSTANCE_TTL        instance cookie lifetime (720h)
//	REDIS_ADDR, REDIS_PASSWORD  durable session store (unset: in memory)
//	SUPABASE_URL                identity provider base URL
//	SUPABASE_ANON_KEY           provider public key
//	SUPABASE_SERVICE_ROLE_KEY   provider admin key (falls back to the anon key)
//	IDENTITY_PROVIDER_TIMEOUT   per-call provider bound (5s)
//	IDENTITY_SYNC_ATTEMPTS      tries per provider call while unreachable (2)
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tripease/identity/internal/provider"
)

// Config holds every server setting.
type Config struct {
	Port     int    `env:"PORT"      envDefault:"8080"`
	DBPath   string `env:"DB_PATH"   envDefault:"data/identity.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionInstanceTTL time.Duration `env:"SESSION_INSTANCE_TTL" envDefault:"720h"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Provider ProviderConfig
}

// ProviderConfig is the external identity provider section.
type ProviderConfig struct {
	URL            string        `env:"SUPABASE_URL"`
	AnonKey        string        `env:"SUPABASE_ANON_KEY"`
	ServiceRoleKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`
	Timeout        time.Duration `env:"IDENTITY_PROVIDER_TIMEOUT" envDefault:"5s"`
	SyncAttempts   int           `env:"IDENTITY_SYNC_ATTEMPTS"    envDefault:"2"`
}

// Adapter converts the section to the provider package's settings.
func (p ProviderConfig) Adapter() provider.Config {
	return provider.Config{
		BaseURL:    p.URL,
		PublicKey:  p.AnonKey,
		ServiceKey: p.ServiceRoleKey,
		Timeout:    p.Timeout,
	}
}

// Load reads the environment. A missing SESSION_SECRET is replaced by a
// random one; generatedSecret reports when that happened so the caller can
// warn that instance cookies will not survive a restart.
func Load() (cfg Config, generatedSecret bool, err error) {
	if err := env.Parse(&cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, false, err
	}

	if cfg.SessionSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return Config{}, false, fmt.Errorf("generating session secret: %w", err)
		}
		cfg.SessionSecret = hex.EncodeToString(buf)
		generatedSecret = true
	}
	return cfg, generatedSecret, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters")
	}
	if c.Provider.SyncAttempts < 1 {
		return fmt.Errorf("IDENTITY_SYNC_ATTEMPTS must be at least 1, got %d", c.Provider.SyncAttempts)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("IDENTITY_PROVIDER_TIMEOUT must be positive, got %s", c.Provider.Timeout)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
}
