// Package config loads environment-driven configuration for askesis's two
// binaries: the local daemon (cmd/askesisd) and the sync vault
// (cmd/askesis-vault). Modeled on the teacher's config.Load, which reads
// a .env file via godotenv then falls back to process env vars with
// defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DaemonConfig configures the local-first client: where it keeps its
// bbolt store, how it talks to a sync vault, and how long it
// waits for an initial pull before serving the UI from local state alone.
type DaemonConfig struct {
	Env             string
	LogLevel        string
	GracefulTimeout time.Duration

	DataDir string // directory holding the bbolt database file

	SyncServerURL   string
	SyncBootTimeout time.Duration // spec §4.7: race Pull against this before booting from local state
	SyncDebounce    time.Duration

	WorkerPoolSize int

	ArchiveCheckInterval time.Duration
}

// VaultConfig configures askesis-vault, the thin Redis-backed blob
// store fronting encrypted sync payloads.
type VaultConfig struct {
	Env             string
	LogLevel        string
	GracefulTimeout time.Duration

	Addr string

	RedisURL string

	RateLimitRPM   int
	RateLimitBurst int
	RequestTimeout time.Duration

	AllowedOrigins []string
}

// LoadDaemonConfig reads askesisd's configuration from the environment,
// loading a .env file first if one is present in the working directory.
func LoadDaemonConfig() *DaemonConfig {
	_ = godotenv.Load()

	return &DaemonConfig{
		Env:             getEnv("ASKESIS_ENV", "development"),
		LogLevel:        getEnv("ASKESIS_LOG_LEVEL", "info"),
		GracefulTimeout: time.Duration(getEnvInt("ASKESIS_GRACEFUL_TIMEOUT_SEC", 10)) * time.Second,

		DataDir: getEnv("ASKESIS_DATA_DIR", "./data"),

		SyncServerURL:   getEnv("ASKESIS_SYNC_URL", ""),
		SyncBootTimeout: time.Duration(getEnvInt("ASKESIS_SYNC_BOOT_TIMEOUT_SEC", 5)) * time.Second,
		SyncDebounce:    time.Duration(getEnvInt("ASKESIS_SYNC_DEBOUNCE_MS", 2000)) * time.Millisecond,

		WorkerPoolSize: getEnvInt("ASKESIS_WORKER_POOL_SIZE", 4),

		ArchiveCheckInterval: time.Duration(getEnvInt("ASKESIS_ARCHIVE_CHECK_INTERVAL_HOURS", 24)) * time.Hour,
	}
}

// LoadVaultConfig reads askesis-vault's configuration from the
// environment.
func LoadVaultConfig() *VaultConfig {
	_ = godotenv.Load()

	return &VaultConfig{
		Env:             getEnv("ASKESIS_ENV", "development"),
		LogLevel:        getEnv("ASKESIS_LOG_LEVEL", "info"),
		GracefulTimeout: time.Duration(getEnvInt("ASKESIS_GRACEFUL_TIMEOUT_SEC", 10)) * time.Second,

		Addr: getEnv("ASKESIS_VAULT_ADDR", ":8090"),

		RedisURL: getEnv("ASKESIS_VAULT_REDIS_URL", "redis://localhost:6379/0"),

		RateLimitRPM:   getEnvInt("ASKESIS_VAULT_RATE_LIMIT_RPM", 120),
		RateLimitBurst: getEnvInt("ASKESIS_VAULT_RATE_LIMIT_BURST", 20),
		RequestTimeout: time.Duration(getEnvInt("ASKESIS_VAULT_REQUEST_TIMEOUT_SEC", 10)) * time.Second,

		AllowedOrigins: splitCSV(getEnv("ASKESIS_VAULT_ALLOWED_ORIGINS", "*")),
	}
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if part := v[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

// IsDevelopment returns true if the daemon is running in development mode.
func (c *DaemonConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsDevelopment returns true if the vault is running in development mode.
func (c *VaultConfig) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
