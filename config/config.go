// Package config provides YAML configuration parsing for sensorsync.
//
// This package enables running sensorsync as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 3000
//	poll_interval: 500ms
//	channels: [emotion, gaze, stress]
//	reset_on_start: true
//
//	store:
//	  driver: postgres
//	  dsn: ${DATABASE_URL:-postgres://localhost:5432/sensors}
//	  migrate: true
//
//	history:
//	  default_limit: 50
//	  max_limit: 1000
//
//	logging:
//	  level: info
//	  format: json
//	  file: /var/log/sensorsync.log
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed poll interval.
// This prevents accidentally hammering the store with back-to-back queries.
const minPollInterval = 10 * time.Millisecond

const defaultPort = 3000

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure for sensorsync.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 3000; an explicit 0 picks a
	// free port.
	Port *int `yaml:"port" validate:"omitempty,min=0,max=65535"`

	// PollInterval is the time between store polls.
	// Accepts duration strings like "500ms", "1s". Defaults to 500ms.
	PollInterval Duration `yaml:"poll_interval"`

	// Channels lists the channels to poll. Defaults to emotion, gaze, stress.
	Channels []string `yaml:"channels" validate:"unique,dive,required"`

	// ResetOnStart empties the store once before polling begins.
	// Defaults to true.
	ResetOnStart *bool `yaml:"reset_on_start"`

	// QueryTimeout bounds each per-channel query. Zero disables it.
	QueryTimeout Duration `yaml:"query_timeout" validate:"min=0"`

	// SubscriberBuffer is the per-subscriber queue length. Defaults to 64.
	SubscriberBuffer int `yaml:"subscriber_buffer" validate:"min=0"`

	History HistoryConfig `yaml:"history"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// HistoryConfig bounds history queries.
type HistoryConfig struct {
	// DefaultLimit applies when a request omits limit. Defaults to 50.
	DefaultLimit int `yaml:"default_limit" validate:"min=0"`

	// MaxLimit caps any request. Defaults to 1000.
	MaxLimit int `yaml:"max_limit" validate:"min=0"`
}

// StoreConfig selects and configures the reading store.
type StoreConfig struct {
	// Driver is "memory" or "postgres". Defaults to "memory".
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`

	// DSN is the Postgres connection string.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	DSN string `yaml:"dsn" validate:"required_if=Driver postgres"`

	// MaxConns caps the connection pool. Zero uses the driver default.
	MaxConns int32 `yaml:"max_conns" validate:"min=0"`

	// ConnectTimeout bounds the initial connection. Defaults to 5s.
	ConnectTimeout Duration `yaml:"connect_timeout" validate:"min=0"`

	// Migrate applies pending schema migrations on startup.
	Migrate bool `yaml:"migrate"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Defaults to info.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is text or json. Defaults to text.
	Format string `yaml:"format" validate:"oneof=text json"`

	// File, if set, sends logs to a size-rotated file instead of stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated. Defaults to 100.
	MaxSizeMB int `yaml:"max_size_mb" validate:"min=0"`

	// MaxBackups is the number of rotated files to keep. Zero keeps all.
	MaxBackups int `yaml:"max_backups" validate:"min=0"`

	// MaxAgeDays is how long rotated files are kept. Zero keeps them forever.
	MaxAgeDays int `yaml:"max_age_days" validate:"min=0"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// HTTPPort returns the configured port, or the default when none is set.
func (c *Config) HTTPPort() int {
	if c.Port == nil {
		return defaultPort
	}
	return *c.Port
}

// ResetEnabled reports whether the store is reset on start.
func (c *Config) ResetEnabled() bool {
	return c.ResetOnStart == nil || *c.ResetOnStart
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in store.dsn and logging.file.
// Defaults are applied before validation. An empty document is a valid
// configuration that runs against the in-memory store.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == nil {
		port := defaultPort
		c.Port = &port
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(500 * time.Millisecond)
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{"emotion", "gaze", "stress"}
	}
	if c.History.DefaultLimit == 0 {
		c.History.DefaultLimit = 50
	}
	if c.History.MaxLimit == 0 {
		c.History.MaxLimit = 1000
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.ConnectTimeout == 0 {
		c.Store.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	expanded, err := expandEnvVars(c.Store.DSN)
	if err != nil {
		return fmt.Errorf("store.dsn: %w", err)
	}
	c.Store.DSN = expanded

	expanded, err = expandEnvVars(c.Logging.File)
	if err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	c.Logging.File = expanded

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%s", formatFieldError(fieldErrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// checks that span fields or need units
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.History.DefaultLimit > c.History.MaxLimit {
		return fmt.Errorf("history.default_limit (%d) cannot exceed history.max_limit (%d)",
			c.History.DefaultLimit, c.History.MaxLimit)
	}
	if c.Store.Driver == DriverMemory && c.Store.Migrate {
		return errors.New("store.migrate requires the postgres driver")
	}

	return nil
}

// validate reports field names by their yaml keys.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// formatFieldError renders a validator error as "path: message" using yaml keys.
func formatFieldError(e validator.FieldError) string {
	// drop the root struct name from the namespace
	path := e.Namespace()
	if i := strings.Index(path, "."); i != -1 {
		path = path[i+1:]
	}

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must be at least %s", path, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s, got %q", path, strings.ReplaceAll(e.Param(), " ", ", "), e.Value())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicates", path)
	default:
		return fmt.Sprintf("%s failed %s validation", path, e.Tag())
	}
}
