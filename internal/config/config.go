// ABOUTME: Configuration loading and parsing for whisperlog
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete whisperlog configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds local store configuration
type DatabaseConfig struct {
	// Path to the SQLite database file. Each context (profile) gets its own file.
	Path string `yaml:"path"`
}

// SyncConfig holds remote log configuration
type SyncConfig struct {
	// BaseURL of the sync endpoints; sync is disabled when empty
	BaseURL string `yaml:"base_url"`
	// PushBatchLimit bounds how many ops one push carries (default 500)
	PushBatchLimit int `yaml:"push_batch_limit"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// RetentionConfig holds per-conversation history bounds
type RetentionConfig struct {
	// MaxHistoryTurns caps turns kept per conversation; 0 disables trimming
	MaxHistoryTurns int `yaml:"max_history_turns"`
}

// APIConfig holds the local API listener configuration
type APIConfig struct {
	// Addr the local API listens on, e.g. 127.0.0.1:7968
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Retention.MaxHistoryTurns < 0 {
		return fmt.Errorf("retention.max_history_turns must not be negative")
	}

	if c.Sync.PushBatchLimit < 0 {
		return fmt.Errorf("sync.push_batch_limit must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Sync.RequestTimeoutRaw != "" {
		var err error
		cfg.Sync.RequestTimeout, err = time.ParseDuration(cfg.Sync.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Sync.RequestTimeoutRaw, err)
		}
	}

	return nil
}
