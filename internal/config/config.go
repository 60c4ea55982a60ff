package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment string
	HTTPPort    string

	DatabasePath string
	LogDir       string

	// SignersFile points at the JSON multisig roster. When empty in
	// development the bootstrap fixture is used and a warning is logged.
	SignersFile string

	// MFAHash is the bcrypt hash of the out-of-band emergency MFA code.
	// Emergency operations are rejected outright when it is unset.
	MFAHash string

	// JWTSecret signs admin API bearer tokens.
	JWTSecret string

	// IntegritySweepSchedule is a cron expression for the periodic
	// tamper-detection job over the audit chain.
	IntegritySweepSchedule string

	// IntegritySweepWindowHours bounds how far back each sweep looks.
	IntegritySweepWindowHours int

	// AppendRetries bounds how often an audit append is retried on a
	// tail conflict before the operation fails closed.
	AppendRetries int
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:               getEnv("HEIMDALL_ENV", "development"),
		HTTPPort:                  getEnv("HEIMDALL_HTTP_PORT", "8080"),
		DatabasePath:              getEnv("HEIMDALL_DB_PATH", filepath.Join("data", "heimdall.db")),
		LogDir:                    getEnv("HEIMDALL_LOG_DIR", filepath.Join("data", "logs")),
		SignersFile:               getEnv("HEIMDALL_SIGNERS_FILE", ""),
		MFAHash:                   getEnv("HEIMDALL_MFA_HASH", ""),
		JWTSecret:                 getEnv("HEIMDALL_JWT_SECRET", ""),
		IntegritySweepSchedule:    getEnv("HEIMDALL_INTEGRITY_SWEEP", "@every 1h"),
		IntegritySweepWindowHours: getEnvInt("HEIMDALL_INTEGRITY_WINDOW_HOURS", 24),
		AppendRetries:             getEnvInt("HEIMDALL_APPEND_RETRIES", 3),
	}

	if cfg.Environment == "production" && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("HEIMDALL_JWT_SECRET is required in production")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}
