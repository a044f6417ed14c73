package subscription

import (
	"errors"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the manager's tunables. Defaults match product requirements:
// a 21-day trial, sync bounded to a few seconds, and a decision cache short
// enough that UI polling stays fresh across state changes.
type Config struct {
	TrialDurationDays int           `env:"SUBSCRIPTION_TRIAL_DAYS" envDefault:"21"`
	SyncTimeout       time.Duration `env:"SUBSCRIPTION_SYNC_TIMEOUT" envDefault:"5s"`
	DecisionCacheSize int           `env:"SUBSCRIPTION_DECISION_CACHE_SIZE" envDefault:"256"`
	DecisionCacheTTL  time.Duration `env:"SUBSCRIPTION_DECISION_CACHE_TTL" envDefault:"2s"`
}

// ErrParsingConfig is returned when environment variables cannot be parsed
// into Config.
var ErrParsingConfig = errors.New("subscription: failed to parse config from environment")

var loadEnvOnce sync.Once

// LoadConfig reads Config from the environment, loading a .env file first
// if one exists.
func LoadConfig() (Config, error) {
	loadEnvOnce.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults without touching the
// environment.
func DefaultConfig() Config {
	return Config{
		TrialDurationDays: 21,
		SyncTimeout:       5 * time.Second,
		DecisionCacheSize: 256,
		DecisionCacheTTL:  2 * time.Second,
	}
}
