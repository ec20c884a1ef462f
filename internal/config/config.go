// Package config collects the runtime settings of the service from the
// environment, with development defaults for everything except secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings for the identity service.
type Config struct {
	Addr          string
	PostgresDSN   string
	SessionSecret string
	SessionTTL    time.Duration

	VerificationTTL time.Duration
	ResetTTL        time.Duration
	TokenBytes      int

	HashMemoryKiB     int
	HashIterations    int
	HashParallelism   int
	MaxPasswordLength int

	RateLimitRPS   float64
	RateLimitBurst int
}

// Defaults returns the development configuration. PostgresDSN is empty so the
// service falls back to the in-memory store unless a database is configured,
// and SessionSecret must always come from the environment.
func Defaults() Config {
	return Config{
		Addr:              ":8080",
		SessionTTL:        15 * time.Minute,
		VerificationTTL:   24 * time.Hour,
		ResetTTL:          30 * time.Minute,
		TokenBytes:        32,
		HashMemoryKiB:     64 * 1024,
		HashIterations:    2,
		HashParallelism:   1,
		MaxPasswordLength: 256,
		RateLimitRPS:      20,
		RateLimitBurst:    40,
	}
}

// Load overlays IDPORT_* environment variables on top of Defaults.
func Load() (Config, error) {
	cfg := Defaults()

	var err error
	readString(&cfg.Addr, "IDPORT_ADDR")
	readString(&cfg.PostgresDSN, "IDPORT_PG_DSN")
	readString(&cfg.SessionSecret, "IDPORT_SESSION_SECRET")

	if err = readDuration(&cfg.SessionTTL, "IDPORT_SESSION_TTL"); err != nil {
		return cfg, err
	}
	if err = readDuration(&cfg.VerificationTTL, "IDPORT_VERIFICATION_TTL"); err != nil {
		return cfg, err
	}
	if err = readDuration(&cfg.ResetTTL, "IDPORT_RESET_TTL"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.TokenBytes, "IDPORT_TOKEN_BYTES"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.HashMemoryKiB, "IDPORT_HASH_MEMORY_KIB"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.HashIterations, "IDPORT_HASH_ITERATIONS"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.HashParallelism, "IDPORT_HASH_PARALLELISM"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.MaxPasswordLength, "IDPORT_MAX_PASSWORD_LENGTH"); err != nil {
		return cfg, err
	}
	if err = readFloat(&cfg.RateLimitRPS, "IDPORT_RATE_LIMIT_RPS"); err != nil {
		return cfg, err
	}
	if err = readInt(&cfg.RateLimitBurst, "IDPORT_RATE_LIMIT_BURST"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func readInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func readFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
