// Package config loads the sandman configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/funding"
	"github.com/nevolodia/bunq-sandman/internal/retry"
)

// APIKeyEnv overrides api.api_key when set, so credentials can stay out
// of the config file.
const APIKeyEnv = "BUNQ_API_KEY"

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full sandman configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Replay  ReplayConfig  `yaml:"replay"`
	Storage StorageConfig `yaml:"storage"`
}

// APIConfig configures the sandbox client.
type APIConfig struct {
	// BaseURL of the sandbox API.
	BaseURL string `yaml:"base_url"`

	// APIKey is the primary user's API key. BUNQ_API_KEY overrides it.
	APIKey string `yaml:"api_key"`

	// CallDelay is the fixed pause before every remote call, to respect
	// sandbox rate limits.
	CallDelay Duration `yaml:"call_delay"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds retries of transient remote errors.
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
}

// ReplayConfig configures funding and replay.
type ReplayConfig struct {
	// Buffer is the unconditional safety margin added to every agent's
	// funding requirement. Decimal string, e.g. "1000.00".
	Buffer string `yaml:"buffer"`

	// SponsorEmail receives the initial-balance payment requests.
	SponsorEmail string `yaml:"sponsor_email"`

	// Currency for funded balances and replayed amounts that carry none.
	Currency string `yaml:"currency"`
}

// StorageConfig locates the durable files.
type StorageConfig struct {
	// DataDir holds the pair file, its snapshot, and the run journal.
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := retry.DefaultPolicy
	return Config{
		API: APIConfig{
			BaseURL:   bunq.DefaultBaseURL,
			CallDelay: Duration(500 * time.Millisecond),
			Retry: RetryConfig{
				MaxAttempts:    p.MaxAttempts,
				InitialBackoff: Duration(p.InitialBackoff),
				MaxBackoff:     Duration(p.MaxBackoff),
				BackoffFactor:  p.BackoffFactor,
			},
		},
		Replay: ReplayConfig{
			Buffer:       "1000.00",
			SponsorEmail: funding.DefaultSponsorEmail,
			Currency:     "EUR",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
	}
}

// Load reads a config file over the defaults: fields absent from the
// file keep their default values. An empty path returns the defaults.
// Unknown fields are rejected to catch typos.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.API.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.CallDelay < 0 {
		return fmt.Errorf("api.call_delay must not be negative")
	}
	if c.API.Retry.MaxAttempts < 1 {
		return fmt.Errorf("api.retry.max_attempts must be at least 1")
	}
	if c.API.Retry.BackoffFactor < 1 {
		return fmt.Errorf("api.retry.backoff_factor must be at least 1")
	}
	buffer, err := decimal.NewFromString(c.Replay.Buffer)
	if err != nil {
		return fmt.Errorf("replay.buffer: %w", err)
	}
	if buffer.IsNegative() {
		return fmt.Errorf("replay.buffer must not be negative")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	return nil
}

// BufferAmount returns the parsed funding buffer. Load validated it.
func (c ReplayConfig) BufferAmount() decimal.Decimal {
	return decimal.RequireFromString(c.Buffer)
}

// RetryPolicy converts the retry section into a policy.
func (c APIConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy
	p.MaxAttempts = c.Retry.MaxAttempts
	p.InitialBackoff = c.Retry.InitialBackoff.Std()
	p.MaxBackoff = c.Retry.MaxBackoff.Std()
	p.BackoffFactor = c.Retry.BackoffFactor
	return p
}

// PairFile is the identity-mapping document path.
func (c StorageConfig) PairFile() string {
	return filepath.Join(c.DataDir, "iban_user_pairs.json")
}

// JournalFile is the run journal database path.
func (c StorageConfig) JournalFile() string {
	return filepath.Join(c.DataDir, "journal.db")
}
