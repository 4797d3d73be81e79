// Package config builds the immutable configuration value injected into
// every component at the composition root. Business logic never reads the
// environment directly; the environment is consumed exactly once, here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Values come from the
// environment, optionally overlaid by a YAML file.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO" yaml:"log_level"`

	StorageDir   string `env:"STORAGE_DIR" envDefault:"storage" yaml:"storage_dir"`
	EventLogFile string `env:"EVENT_LOG_FILE" yaml:"event_log_file"`
	ArchiveFile  string `env:"ARCHIVE_FILE" yaml:"archive_file"`

	MintAddress string `env:"MINT_ADDRESS" envDefault:"8n3oA4f1LvfFutDmLfuwpasH47JDDp9UtDi37dhAmPW6" yaml:"mint_address"`
	TokenName   string `env:"TOKEN_NAME" envDefault:"TB Coin" yaml:"token_name"`
	TokenSymbol string `env:"TOKEN_SYMBOL" envDefault:"TBC" yaml:"token_symbol"`
	Decimals    int    `env:"TOKEN_DECIMALS" envDefault:"9" yaml:"decimals"`

	UpdateAuthority string        `env:"UPDATE_AUTHORITY" envDefault:"2upvUrj31kyhmya7HJBTJVpFz2RtE2nXTwPr8vwHCHgY" yaml:"update_authority"`
	APIKey          string        `env:"API_KEY" yaml:"api_key"`
	DriftWindow     time.Duration `env:"MODIFICATION_DRIFT_WINDOW" envDefault:"5m" yaml:"drift_window"`

	RateLimit float64 `env:"RATE_LIMIT" envDefault:"50" yaml:"rate_limit"`
	RateBurst int     `env:"RATE_BURST" envDefault:"100" yaml:"rate_burst"`
}

// Load parses configuration from the environment, optionally overlays the
// YAML file at overlayPath (empty string skips it), resolves derived paths,
// and validates. The HMAC secret (API_KEY) must be set.
func Load(overlayPath string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if overlayPath != "" {
		raw, err := os.ReadFile(overlayPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if cfg.EventLogFile == "" {
		cfg.EventLogFile = filepath.Join(cfg.StorageDir, "event-logs.json")
	}
	if cfg.ArchiveFile == "" {
		cfg.ArchiveFile = filepath.Join(cfg.StorageDir, "events.db")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY must be set")
	}
	if c.UpdateAuthority == "" {
		return fmt.Errorf("UPDATE_AUTHORITY must be set")
	}
	if c.DriftWindow <= 0 {
		return fmt.Errorf("drift window must be positive")
	}
	return nil
}
