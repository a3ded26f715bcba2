package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Store backends accepted by --store.
const (
	storeBBolt    = "bbolt"
	storeMemory   = "memory"
	storeRedis    = "redis"
	storePostgres = "postgres"
)

// Config holds the settings shared by every subcommand. Flags default to
// their PAYROLL_* environment variables.
type Config struct {
	APIURL      string
	Profile     string
	Store       string
	DataDir     string
	RedisURL    string
	PostgresDSN string
	Timeout     time.Duration
	LogLevel    string
	LogFormat   string

	// SessionSecret enables sealing of the stored session. It is only read
	// from the environment so it never shows up in process listings.
	SessionSecret string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".payroll")
}
