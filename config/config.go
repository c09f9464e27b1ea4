package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

func New(loc string) (*Config, error) {
	var c Config

	f, err := os.Open(loc)
	if err != nil {
		log.Println("Config error", err)
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&c); err != nil {
		log.Println("Config error", err)
		return nil, err
	}

	if c.TON.Escrow == "" || c.Bucket.Deal == "" {
		return nil, ErrInvalidConfig
	}

	if c.TON.VerifyAttempts == 0 {
		c.TON.VerifyAttempts = 5
	}
	if c.TON.VerifyDelaySec == 0 {
		c.TON.VerifyDelaySec = 5
	}
	if c.IntentExpiryMin == 0 {
		c.IntentExpiryMin = 5
	}
	if c.Telegram.SendPerSec == 0 {
		c.Telegram.SendPerSec = 25
	}

	return &c, nil
}

type Config struct {
	Host string `json:"host"`
	Port string `json:"port"`

	DBPath string `json:"dbPath"`
	DBName string `json:"dbName"`

	Sandbox bool `json:"sandbox"`

	// Shared secret for internal callers (bot integration, post monitor)
	InternalKey string `json:"internalKey"`

	IntentExpiryMin int `json:"intentExpiryMin"` // payment intent lifetime

	TON struct {
		Endpoint string `json:"endpoint"` // ledger indexer base url
		APIKey   string `json:"apiKey"`
		Escrow   string `json:"escrow"` // process-wide escrow wallet address

		VerifyAttempts int `json:"verifyAttempts"`
		VerifyDelaySec int `json:"verifyDelaySec"`
		PropagationSec int `json:"propagationSec"` // wait before the first lookup
	} `json:"ton"`

	Telegram struct {
		Token      string `json:"token"`
		SendPerSec int    `json:"sendPerSec"` // outbound message rate limit
	} `json:"telegram"`

	Sentry struct {
		DSN         string `json:"dsn"`
		Environment string `json:"environment"`
	} `json:"sentry"`

	Bucket struct {
		Deal    string   `json:"deal"`
		Channel string   `json:"channel"`
		Ledger  string   `json:"ledger"`
		All     []string `json:"all"`
	} `json:"bucket"`
}

func (c *Config) VerifyDelay() time.Duration {
	return time.Duration(c.TON.VerifyDelaySec) * time.Second
}

func (c *Config) PropagationDelay() time.Duration {
	return time.Duration(c.TON.PropagationSec) * time.Second
}

func (c *Config) IntentExpiry() time.Duration {
	return time.Duration(c.IntentExpiryMin) * time.Minute
}
