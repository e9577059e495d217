// Package config loads service configuration from an optional TOML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can spell intervals as
// "30m" or "2s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Config holds everything the service needs to run.
type Config struct {
	CourtBaseURL string `toml:"court_base_url"`
	Port         string `toml:"port"`

	Bucket       string `toml:"storage_bucket"`
	LocalStorage string `toml:"local_storage"`
	TokenSalt    string `toml:"token_salt"`

	Provider     string `toml:"provider"` // "brevo", "gmail", or "mock"
	FromAddress  string `toml:"from_address"`
	FromName     string `toml:"from_name"`
	AdminContact string `toml:"admin_contact"`

	BatchSize       int      `toml:"batch_size"`
	InterBatchDelay Duration `toml:"inter_batch_delay"`
	MessageDelay    Duration `toml:"message_delay"`
	CheckInterval   Duration `toml:"check_interval"`
	PollInterval    Duration `toml:"poll_interval"`
}

// Defaults returns a config suitable for local development: mock
// transport, local-directory storage, conservative pacing.
func Defaults() *Config {
	return &Config{
		Port:            "8080",
		Provider:        "mock",
		FromName:        "Court Watch",
		BatchSize:       10,
		InterBatchDelay: Duration{2 * time.Second},
		MessageDelay:    Duration{500 * time.Millisecond},
		CheckInterval:   Duration{30 * time.Minute},
		PollInterval:    Duration{15 * time.Minute},
	}
}

// Load builds the effective configuration: defaults, then the TOML
// file named by COURTWATCH_CONFIG (if set), then environment
// overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("COURTWATCH_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := cfg.read(f); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// read decodes TOML from r over the current values.
func (c *Config) read(r io.Reader) error {
	if _, err := toml.NewDecoder(r).Decode(c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// applyEnv layers environment variables over file values. Env wins so
// deployments can tweak a shared file per instance.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.CourtBaseURL, "BASE_URL")
	setString(&c.Port, "PORT")
	setString(&c.Bucket, "STORAGE_BUCKET")
	setString(&c.LocalStorage, "LOCAL_STORAGE")
	setString(&c.TokenSalt, "TOKEN_SALT")
	setString(&c.Provider, "NOTIFY_PROVIDER")
	setString(&c.FromAddress, "FROM_ADDRESS")
	setString(&c.FromName, "FROM_NAME")
	setString(&c.AdminContact, "ADMIN_CONTACT")

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	setDuration := func(dst *Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				dst.Duration = d
			}
		}
	}
	setDuration(&c.InterBatchDelay, "INTER_BATCH_DELAY")
	setDuration(&c.MessageDelay, "MESSAGE_DELAY")
	setDuration(&c.CheckInterval, "CHECK_INTERVAL")
	setDuration(&c.PollInterval, "POLL_INTERVAL")
}

func (c *Config) validate() error {
	switch c.Provider {
	case "brevo", "gmail", "mock":
	default:
		return fmt.Errorf("unknown provider %q (want brevo, gmail, or mock)", c.Provider)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.CheckInterval.Duration <= 0 {
		return fmt.Errorf("check_interval must be positive, got %s", c.CheckInterval)
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.InterBatchDelay.Duration < 0 || c.MessageDelay.Duration < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}
