// Package sqlite provides the SQLite implementation of the local chat cache.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/sqlstore"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration options for the SQLite store.
//
// Defaults applied by DefaultConfig:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
//
// In-memory databases always use a single connection, since every
// connection to ":memory:" opens a separate database.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:chat.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL appends "_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration

	// Logger receives store records. Defaults to the package logger.
	Logger *logging.Logger

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if isMemory(c.DataSourceName) {
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.ConnMaxLifetime = 0
		c.ConnMaxIdleTime = 0
		c.EnableWAL = false
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		c.DataSourceName = appendParam(c.DataSourceName, "_journal_mode=WAL")
	}
	if !strings.Contains(c.DataSourceName, "_busy_timeout=") {
		c.DataSourceName = appendParam(c.DataSourceName, fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()))
	}
}

func appendParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store is the SQLite backed storage.Store.
type Store struct {
	*sqlstore.Store
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(context.Background(), DefaultConfig(dataSourceName))
}

// New opens the database and creates the schema.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.ComponentStore)
	logger.InfoContext(ctx, "opening sqlite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	logger.DebugContext(ctx, "connection pool configured",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
		slog.Duration("conn_max_lifetime", config.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", config.ConnMaxIdleTime),
	)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store, err := sqlstore.New(ctx, db, sqlstore.SQLite, config.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}
	return &Store{Store: store}, nil
}
