// Package config loads and validates the unifeed YAML configuration.
//
// Secrets may be given as ${ENV_VAR} references; they expand from the
// process environment at load time so tokens stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/unifeed/internal/feed"
)

// Config is the root configuration document.
type Config struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Queue    QueueConfig     `yaml:"queue"`
	Engine   EngineConfig    `yaml:"engine"`
	Refresh  RefreshConfig   `yaml:"refresh"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// AccountConfig describes one connected social account.
type AccountConfig struct {
	// Platform is "mastodon" or "bluesky".
	Platform feed.Platform `yaml:"platform"`

	// Server is the instance origin (Mastodon) or PDS host (Bluesky).
	Server string `yaml:"server"`

	// AccessToken is the bearer token; ${ENV_VAR} references expand.
	AccessToken string `yaml:"access_token"`

	// DID is the session repo identifier. Bluesky only.
	DID string `yaml:"did,omitempty"`
}

// QueueConfig holds offline-queue persistence settings.
type QueueConfig struct {
	DBPath string `yaml:"db_path"`
}

// EngineConfig holds action dispatch settings.
type EngineConfig struct {
	Debounce  Duration  `yaml:"debounce"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

// RateLimit bounds outgoing action dispatches.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RefreshConfig holds timeline refresh settings.
type RefreshConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

// Duration wraps time.Duration with YAML parsing from strings like
// "300ms" or plain numbers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Queue: QueueConfig{DBPath: "unifeed-queue.db"},
		Engine: EngineConfig{
			RateLimit: RateLimit{RPS: 5, Burst: 10},
		},
		Refresh: RefreshConfig{PollInterval: Duration(90 * time.Second)},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads, expands, and validates the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Accounts {
		cfg.Accounts[i].AccessToken = os.ExpandEnv(cfg.Accounts[i].AccessToken)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	for i, acct := range c.Accounts {
		switch acct.Platform {
		case feed.PlatformMastodon:
		case feed.PlatformBluesky:
			if acct.DID == "" {
				return fmt.Errorf("accounts[%d]: bluesky account requires did", i)
			}
		default:
			return fmt.Errorf("accounts[%d]: unknown platform %q", i, acct.Platform)
		}
		if acct.Server == "" {
			return fmt.Errorf("accounts[%d]: server is required", i)
		}
		if acct.AccessToken == "" {
			return fmt.Errorf("accounts[%d]: access_token is required", i)
		}
	}

	if c.Queue.DBPath == "" {
		return fmt.Errorf("queue.db_path is required")
	}
	if c.Engine.Debounce < 0 {
		return fmt.Errorf("engine.debounce must not be negative")
	}
	if c.Engine.RateLimit.RPS < 0 {
		return fmt.Errorf("engine.rate_limit.rps must not be negative")
	}
	if c.Refresh.PollInterval < 0 {
		return fmt.Errorf("refresh.poll_interval must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
