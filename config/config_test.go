package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

const yamlConfig = `
api_key: key
user_id: alice
base_url: https://chat.example.com
websocket_url: wss://chat.example.com/connect
storage:
  driver: postgres
  dsn: postgres://localhost/chat
keep_alive:
  interval: 20s
  timeout: 5s
reconnect:
  enabled: true
  max_delay: 1m
send:
  pending_timeout: 45s
`

const jsonConfig = `{
  "api_key": "key",
  "user_id": "alice",
  "base_url": "https://chat.example.com",
  "websocket_url": "wss://chat.example.com/connect",
  "storage": {"driver": "postgres", "dsn": "postgres://localhost/chat"},
  "keep_alive": {"interval": "20s", "timeout": "5s"},
  "reconnect": {"enabled": true, "max_delay": "1m"},
  "send": {"pending_timeout": "45s"}
}`

const tomlConfig = `
api_key = "key"
user_id = "alice"
base_url = "https://chat.example.com"
websocket_url = "wss://chat.example.com/connect"

[storage]
driver = "postgres"
dsn = "postgres://localhost/chat"

[keep_alive]
interval = "20s"
timeout = "5s"

[reconnect]
enabled = true
max_delay = "1m"

[send]
pending_timeout = "45s"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AllFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "chatsync.yaml", yamlConfig},
		{"yml", "chatsync.yml", yamlConfig},
		{"json", "chatsync.json", jsonConfig},
		{"toml", "chatsync.toml", tomlConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, "key", cfg.APIKey)
			assert.Equal(t, "alice", cfg.UserID)
			assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
			assert.Equal(t, 20*time.Second, cfg.KeepAlive.Interval.Std())
			assert.Equal(t, 5*time.Second, cfg.KeepAlive.Timeout.Std())
			assert.Equal(t, 2, cfg.KeepAlive.MaxMissed, "default")
			assert.True(t, cfg.Reconnect.Enabled)
			assert.Equal(t, time.Minute, cfg.Reconnect.MaxDelay.Std())
			assert.Equal(t, time.Second, cfg.Reconnect.InitialDelay.Std(), "default")
			assert.Equal(t, 45*time.Second, cfg.Send.PendingTimeout.Std())
			assert.Equal(t, 25, cfg.Sync.PageSize)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_API_KEY", "env-key")
	t.Setenv("CHATSYNC_STORAGE_DRIVER", "sqlite")
	t.Setenv("CHATSYNC_STORAGE_DSN", ":memory:")
	t.Setenv("CHATSYNC_RECONNECT", "false")
	t.Setenv("CHATSYNC_PENDING_TIMEOUT", "3s")

	cfg, err := Load(writeFile(t, "chatsync.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.False(t, cfg.Reconnect.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Send.PendingTimeout.Std())
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("CHATSYNC_RECONNECT", "sometimes")
	_, err := Load(writeFile(t, "chatsync.yaml", yamlConfig))
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"api_key": 1}`), FormatJSON)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))

	_, err = Parse([]byte(`keep_alive = {interval = "soon"}`), FormatTOML)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.APIKey, c.UserID = "key", "alice"
		c.BaseURL, c.WebSocketURL = "https://chat", "wss://chat"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no api key", func(c *Config) { c.APIKey = "" }},
		{"no user", func(c *Config) { c.UserID = "" }},
		{"no base url", func(c *Config) { c.BaseURL = "" }},
		{"no websocket url", func(c *Config) { c.WebSocketURL = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver, c.Storage.DSN = DriverPostgres, "" }},
		{"timeout above interval", func(c *Config) { c.KeepAlive.Timeout = c.KeepAlive.Interval + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.True(t, errors.HasCode(c.Validate(), errors.ErrCodeValidationFailure))
		})
	}
}

func TestSave_RoundTripsEveryFormat(t *testing.T) {
	cfg := Default()
	cfg.APIKey, cfg.UserID = "key", "alice"
	cfg.BaseURL, cfg.WebSocketURL = "https://chat", "wss://chat"
	cfg.Send.PendingTimeout = Duration(90 * time.Second)

	for _, name := range []string{"out.yaml", "out.json", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.Save(path))
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Contains(t, string(data), "1m30s")

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Send.PendingTimeout, got.Send.PendingTimeout)
		})
	}
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("a.yaml"))
	assert.Equal(t, FormatJSON, DetectFormat("A.JSON"))
	assert.Equal(t, FormatTOML, DetectFormat("/etc/chatsync.toml"))
	assert.Equal(t, FormatYAML, DetectFormat("noext"))
}
