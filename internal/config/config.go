// Package config loads the chkit YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/chkit/internal/dbconfig"
	"github.com/johndauphine/chkit/internal/logging"
	"github.com/johndauphine/chkit/internal/mutation"
)

// DefaultFile is read when no --config is given and it exists in the working directory.
const DefaultFile = "chkit.yaml"

// Environment overrides, applied after the file.
const (
	EnvHost     = "CHKIT_HOST"
	EnvPort     = "CHKIT_PORT"
	EnvUser     = "CHKIT_USER"
	EnvPassword = "CHKIT_PASSWORD"
	EnvDatabase = "CHKIT_DATABASE"
)

const (
	defaultPort       = 9000
	defaultSecurePort = 9440
	defaultJournalDir = ".chkit"
	defaultJournal    = "history.db"
)

// Config is the full configuration.
type Config struct {
	ClickHouse dbconfig.ClickHouseConfig `yaml:"clickhouse"`
	Mutations  MutationsConfig           `yaml:"mutations"`
	Logging    LoggingConfig             `yaml:"logging"`
	Journal    JournalConfig             `yaml:"journal"`
}

// MutationsConfig controls how DELETE and UPDATE wait for running mutations.
type MutationsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // default 1s
	WaitTimeout  time.Duration `yaml:"wait_timeout"`  // 0 waits forever
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// JournalConfig locates the local operation history.
type JournalConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Load reads path, expands ${VAR} references, applies defaults and
// environment overrides and validates the result. An empty path yields the
// defaults plus environment.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.ClickHouse.Port = port
	}
	if v := os.Getenv(EnvUser); v != "" {
		c.ClickHouse.User = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.ClickHouse.Database = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	ch := &c.ClickHouse
	if ch.Host == "" {
		ch.Host = "localhost"
	}
	if ch.Port == 0 {
		ch.Port = defaultPort
		if ch.Secure {
			ch.Port = defaultSecurePort
		}
	}
	if ch.Database == "" {
		ch.Database = "default"
	}
	if ch.User == "" {
		ch.User = "default"
	}
	if ch.DialTimeout == 0 {
		ch.DialTimeout = 10 * time.Second
	}
	if c.Mutations.PollInterval == 0 {
		c.Mutations.PollInterval = mutation.DefaultPollInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join("~", defaultJournalDir, defaultJournal)
	}
	c.Journal.Path = expandHome(c.Journal.Path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", strings.TrimPrefix(path, "~"))
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.ClickHouse.Host) == "" {
		errs = append(errs, errors.New("clickhouse.host is required"))
	}
	if c.ClickHouse.Port < 1 || c.ClickHouse.Port > 65535 {
		errs = append(errs, fmt.Errorf("clickhouse.port %d out of range", c.ClickHouse.Port))
	}
	if _, err := c.ClickHouse.CompressionMethod(); err != nil {
		errs = append(errs, fmt.Errorf("clickhouse.compression: %w", err))
	}
	if c.ClickHouse.DialTimeout < 0 {
		errs = append(errs, errors.New("clickhouse.dial_timeout must not be negative"))
	}
	if c.Mutations.PollInterval < 0 {
		errs = append(errs, errors.New("mutations.poll_interval must not be negative"))
	}
	if c.Mutations.WaitTimeout < 0 {
		errs = append(errs, errors.New("mutations.wait_timeout must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q (want text or json)", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// MutationOptions returns the gate options for the configured poll and timeout.
func (c *Config) MutationOptions() mutation.Options {
	return mutation.Options{
		PollInterval: c.Mutations.PollInterval,
		Timeout:      c.Mutations.WaitTimeout,
	}
}

// ApplyLogging sets the global logger from the logging section.
func (c *Config) ApplyLogging() {
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		logging.SetLevel(lvl)
	}
	logging.SetFormat(c.Logging.Format)
}

// Redacted returns a copy with the password masked.
func (c Config) Redacted() Config {
	c.ClickHouse = c.ClickHouse.Redacted()
	return c
}
