package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL string

	// HTTP server
	ListenAddr string

	// Redis cache (optional; empty disables caching)
	RedisURL      string
	RedisPassword string

	// Chain RPC endpoint for transfer reconciliation
	ChainRPCURL  string
	VaultAddress string

	// Shared secret authenticating scheduler tick calls
	CronSecret string

	// Epoch settings
	EpochDuration time.Duration
	CronSchedule  string

	// Spin settings
	MinStake int64
	MaxStake int64
	FeeBps   int64 // stake fraction contributed to the epoch reward pool

	// Reconciler settings
	MinConfirmations  int64
	WithdrawalTimeout time.Duration

	// Signed request freshness window
	AuthWindow time.Duration

	// Environment: "development", "production" or "test"
	Environment string
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ChainRPCURL:   os.Getenv("CHAIN_RPC_URL"),
		VaultAddress:  os.Getenv("VAULT_ADDRESS"),
		CronSecret:    os.Getenv("CRON_SECRET"),
		CronSchedule:  os.Getenv("CRON_SCHEDULE"),
		Environment:   os.Getenv("ENVIRONMENT"),

		// Defaults
		EpochDuration:     24 * time.Hour,
		MinStake:          100,
		MaxStake:          1_000_000_000,
		FeeBps:            500,
		MinConfirmations:  32,
		WithdrawalTimeout: 15 * time.Minute,
		AuthWindow:        2 * time.Minute,
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.CronSchedule == "" {
		config.CronSchedule = "@every 5m"
	}

	// Override defaults if environment variables are set
	if v := os.Getenv("EPOCH_DURATION_HOURS"); v != "" {
		if hours, err := strconv.ParseInt(v, 10, 64); err == nil && hours > 0 {
			config.EpochDuration = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("MIN_STAKE"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MinStake = parsed
		}
	}
	if v := os.Getenv("MAX_STAKE"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MaxStake = parsed
		}
	}
	if v := os.Getenv("FEE_BPS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.FeeBps = parsed
		}
	}
	if v := os.Getenv("MIN_CONFIRMATIONS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MinConfirmations = parsed
		}
	}
	if v := os.Getenv("WITHDRAWAL_TIMEOUT_MINUTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			config.WithdrawalTimeout = time.Duration(parsed) * time.Minute
		}
	}
	if v := os.Getenv("AUTH_WINDOW_SECONDS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			config.AuthWindow = time.Duration(parsed) * time.Second
		}
	}

	if config.FeeBps < 0 || config.FeeBps >= 10000 {
		return nil, fmt.Errorf("FEE_BPS must be in [0, 10000), got %d", config.FeeBps)
	}
	if config.MinStake <= 0 || config.MaxStake < config.MinStake {
		return nil, fmt.Errorf("invalid stake bounds [%d, %d]", config.MinStake, config.MaxStake)
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		// Validate required configuration
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if config.CronSecret == "" {
			return nil, fmt.Errorf("CRON_SECRET is required")
		}
	}

	return config, nil
}
