// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration. StoreDSN selects the
// backend: empty means the file store under StateDir, a postgres URL or
// sqlite path selects the SQL store.
type Config struct {
	ListenAddr string `env:"MARKET_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"MARKET_LOG_LEVEL" envDefault:"info"`

	StateDir string `env:"MARKET_STATE_DIR" envDefault:"./data"`
	StoreDSN string `env:"MARKET_STORE_DSN"`

	BlobDir    string `env:"MARKET_BLOB_DIR" envDefault:"./data/blobs"`
	BlobSecret string `env:"MARKET_BLOB_SECRET"`

	WebhookSecret  string        `env:"MARKET_WEBHOOK_SECRET"`
	WebhookAPIKey  string        `env:"MARKET_WEBHOOK_API_KEY"`
	WebhookTimeout time.Duration `env:"MARKET_WEBHOOK_TIMEOUT" envDefault:"8s"`

	RevocationRetryDelay time.Duration `env:"MARKET_REVOCATION_RETRY_DELAY" envDefault:"60s"`
	RevocationMaxRetries int           `env:"MARKET_REVOCATION_MAX_ATTEMPTS" envDefault:"3"`
	RevocationSweepEvery time.Duration `env:"MARKET_REVOCATION_SWEEP_INTERVAL" envDefault:"30s"`

	RewardPollEvery time.Duration `env:"MARKET_REWARD_POLL_INTERVAL" envDefault:"15s"`
	LeaseSweepEvery time.Duration `env:"MARKET_LEASE_SWEEP_INTERVAL" envDefault:"60s"`

	ChainNetwork string `env:"MARKET_CHAIN_NETWORK" envDefault:"none"`

	// APIKeys maps a bcrypt key hash to "actorId:role", e.g.
	// "$2a$...=alice:seller". Plaintext keys are never configured.
	APIKeys map[string]string `env:"MARKET_API_KEYS"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.BlobSecret == "" {
		cfg.BlobSecret = cfg.WebhookSecret
	}
	return cfg, nil
}
