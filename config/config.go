// Package config loads client settings from YAML, JSON or TOML files with
// environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

const opLoadConfig = errors.Operation("load_config")

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Duration is a time.Duration written as "30s" or "1m30s" in every format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full client configuration.
type Config struct {
	APIKey       string `json:"api_key" yaml:"api_key" toml:"api_key"`
	UserID       string `json:"user_id" yaml:"user_id" toml:"user_id"`
	Token        string `json:"token" yaml:"token" toml:"token"`
	BaseURL      string `json:"base_url" yaml:"base_url" toml:"base_url"`
	WebSocketURL string `json:"websocket_url" yaml:"websocket_url" toml:"websocket_url"`

	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	KeepAlive KeepAliveConfig `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect" toml:"reconnect"`
	Send      SendConfig      `json:"send" yaml:"send" toml:"send"`
	Sync      SyncConfig      `json:"sync" yaml:"sync" toml:"sync"`
	Logging   logging.Config  `json:"logging" yaml:"logging" toml:"logging"`
}

// StorageConfig selects the local cache database.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"` // sqlite or postgres
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
	// ListenChannel is the Postgres NOTIFY channel shared by processes
	// writing the same cache.
	ListenChannel string `json:"listen_channel,omitempty" yaml:"listen_channel,omitempty" toml:"listen_channel,omitempty"`
}

type KeepAliveConfig struct {
	Interval  Duration `json:"interval" yaml:"interval" toml:"interval"`
	Timeout   Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	MaxMissed int      `json:"max_missed" yaml:"max_missed" toml:"max_missed"`
}

// ReconnectConfig enables automatic reconnects after a failure.
type ReconnectConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
}

// SendConfig controls outgoing messages.
type SendConfig struct {
	// MaxRetries defaults to 2 when zero. A negative value disables retries.
	MaxRetries     int      `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	RetryDelay     Duration `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay"`
	PendingTimeout Duration `json:"pending_timeout" yaml:"pending_timeout" toml:"pending_timeout"`
}

// SyncConfig controls pagination and event handling.
type SyncConfig struct {
	PageSize       int      `json:"page_size" yaml:"page_size" toml:"page_size"`
	PipelineBuffer int      `json:"pipeline_buffer" yaml:"pipeline_buffer" toml:"pipeline_buffer"`
	TypingTTL      Duration `json:"typing_ttl" yaml:"typing_ttl" toml:"typing_ttl"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.DSN = "chatsync.db"
	}
	if c.KeepAlive.Interval <= 0 {
		c.KeepAlive.Interval = Duration(25 * time.Second)
	}
	if c.KeepAlive.Timeout <= 0 {
		c.KeepAlive.Timeout = Duration(10 * time.Second)
	}
	if c.KeepAlive.MaxMissed <= 0 {
		c.KeepAlive.MaxMissed = 2
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = Duration(time.Second)
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = Duration(30 * time.Second)
	}
	if c.Send.MaxRetries == 0 {
		c.Send.MaxRetries = 2
	}
	if c.Send.RetryDelay <= 0 {
		c.Send.RetryDelay = Duration(time.Second)
	}
	if c.Send.PendingTimeout <= 0 {
		c.Send.PendingTimeout = Duration(30 * time.Second)
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 25
	}
	if c.Sync.PipelineBuffer <= 0 {
		c.Sync.PipelineBuffer = 256
	}
	if c.Sync.TypingTTL <= 0 {
		c.Sync.TypingTTL = Duration(7 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = logging.DefaultConfig.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logging.DefaultConfig.Format
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = logging.DefaultConfig.Environment
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.APIKey == "":
		return invalid("api_key is required")
	case c.UserID == "":
		return invalid("user_id is required")
	case c.BaseURL == "":
		return invalid("base_url is required")
	case c.WebSocketURL == "":
		return invalid("websocket_url is required")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for postgres")
		}
	default:
		return invalid(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.KeepAlive.Timeout > c.KeepAlive.Interval {
		return invalid("keep_alive.timeout must not exceed keep_alive.interval")
	}
	return nil
}

func invalid(msg string) error {
	return errors.E(opLoadConfig, errors.Component("config"), errors.KindInvalid, errors.ErrCodeValidationFailure, msg)
}

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// DetectFormat picks the encoding from the file extension. Unknown
// extensions are read as YAML.
func DetectFormat(path string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return FormatJSON
	case "toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Load reads path, applies CHATSYNC_* environment overrides and defaults,
// and validates the result. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.E(opLoadConfig, errors.Component("config"), errors.KindNotFound, "read config file", err)
		}
		if cfg, err = Parse(data, DetectFormat(path)); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data without applying defaults or validation.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	var err error
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	case FormatTOML:
		err = toml.Unmarshal(data, &cfg)
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	default:
		return nil, invalid(fmt.Sprintf("unsupported config format %q", format))
	}
	if err != nil {
		return nil, errors.E(opLoadConfig, errors.Component("config"), errors.KindInvalid,
			errors.ErrCodeValidationFailure, fmt.Sprintf("parse %s config", format), err)
	}
	return &cfg, nil
}

// ApplyEnv overlays CHATSYNC_* variables and the logging package's
// LOG_* variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"CHATSYNC_API_KEY":        &c.APIKey,
		"CHATSYNC_USER_ID":        &c.UserID,
		"CHATSYNC_TOKEN":          &c.Token,
		"CHATSYNC_BASE_URL":       &c.BaseURL,
		"CHATSYNC_WEBSOCKET_URL":  &c.WebSocketURL,
		"CHATSYNC_STORAGE_DRIVER": &c.Storage.Driver,
		"CHATSYNC_STORAGE_DSN":    &c.Storage.DSN,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CHATSYNC_RECONNECT"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return invalid(fmt.Sprintf("CHATSYNC_RECONNECT: %v", err))
		}
		c.Reconnect.Enabled = enabled
	}
	if v := os.Getenv("CHATSYNC_PENDING_TIMEOUT"); v != "" {
		if err := c.Send.PendingTimeout.UnmarshalText([]byte(v)); err != nil {
			return invalid(fmt.Sprintf("CHATSYNC_PENDING_TIMEOUT: %v", err))
		}
	}
	c.Logging = logging.ApplyEnv(c.Logging)
	return nil
}

// Save writes c to path in the format its extension names.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch DetectFormat(path) {
	case FormatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
	case FormatTOML:
		data, err = toml.Marshal(c)
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return errors.E(opLoadConfig, errors.Component("config"), "encode config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.E(opLoadConfig, errors.Component("config"), "write config file", err)
	}
	return nil
}
