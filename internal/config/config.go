package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	// ChannelSeeds are the signing identities the channel pool submits
	// through. Each one must hold standing balance on the ledger.
	ChannelSeeds          []string
	ChannelAcquireTimeout time.Duration

	LockTTL time.Duration

	LedgerURL       string
	LedgerTimeout   time.Duration
	StartingBalance int64

	UpgradeCooldown time.Duration
	CountryCooldown time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")
	ledgerURL := getEnv("LEDGER_URL", "")
	seeds := splitSeeds(getEnv("CHANNEL_SEEDS", ""))

	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if ledgerURL == "" {
		return nil, fmt.Errorf("LEDGER_URL is required")
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("CHANNEL_SEEDS is required (comma-separated signing seeds)")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           dbURL,
		RedisURL:              redisURL,
		NumWorkers:            getEnvInt("NUM_WORKERS", 10),
		ChannelSeeds:          seeds,
		ChannelAcquireTimeout: time.Duration(getEnvInt("CHANNEL_ACQUIRE_TIMEOUT_MS", 5000)) * time.Millisecond,
		LockTTL:               time.Duration(getEnvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		LedgerURL:             ledgerURL,
		LedgerTimeout:         time.Duration(getEnvInt("LEDGER_TIMEOUT_SECONDS", 10)) * time.Second,
		StartingBalance:       int64(getEnvInt("STARTING_BALANCE", 10)),
		UpgradeCooldown:       time.Duration(getEnvInt("UPGRADE_COOLDOWN_SECONDS", 60)) * time.Second,
		CountryCooldown:       time.Duration(getEnvInt("COUNTRY_COOLDOWN_SECONDS", 8*60*60)) * time.Second,
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func splitSeeds(raw string) []string {
	var seeds []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds
}
