package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/cryptobox-go/internal/store"
)

// FileName is the config file looked up inside a store directory.
const FileName = "cbox.yaml"

// Config is the complete cryptobox configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig holds SQLite tuning.
type StoreConfig struct {
	JournalMode string        `yaml:"journal_mode"`
	BusyTimeout time.Duration `yaml:"-"`

	BusyTimeoutRaw string `yaml:"busy_timeout"`
}

// Options converts the store section into store.Options.
func (c StoreConfig) Options() store.Options {
	return store.Options{JournalMode: c.JournalMode, BusyTimeout: c.BusyTimeout}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			JournalMode: store.DefaultOptions.JournalMode,
			BusyTimeout: store.DefaultOptions.BusyTimeout,
		},
	}
}

// Load reads a configuration file. Environment variables in the format
// ${VAR_NAME} are expanded and unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDir loads FileName from dir, falling back to Default when the file
// does not exist.
func LoadDir(dir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks field values. Returns an error describing the first
// validation failure encountered.
func (c *Config) Validate() error {
	if _, ok := levels[strings.ToLower(c.Logging.Level)]; !ok && c.Logging.Level != "" {
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	switch strings.ToUpper(c.Store.JournalMode) {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return fmt.Errorf("store.journal_mode %q is not a SQLite journal mode", c.Store.JournalMode)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Store.BusyTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Store.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Store.BusyTimeoutRaw, err)
		}
		cfg.Store.BusyTimeout = d
	}
	return nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds a slog.Logger writing to w.
func NewLogger(w io.Writer, c LoggingConfig) *slog.Logger {
	logLevel, ok := levels[strings.ToLower(c.Level)]
	if !ok {
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
