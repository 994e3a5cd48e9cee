package chatsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c0deZ3R0/go-chatsync-kit/auth"
	"github.com/c0deZ3R0/go-chatsync-kit/config"
	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/postgres"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-chatsync-kit/task"
	"github.com/c0deZ3R0/go-chatsync-kit/transport/websocket"
)

// OpenStore opens the local cache selected by cfg.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		sc := sqlite.DefaultConfig(cfg.DSN)
		sc.Logger = logger
		store, err := sqlite.New(ctx, sc)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		pc := postgres.DefaultConfig(cfg.DSN)
		pc.Logger = logger
		if cfg.ListenChannel != "" {
			pc.Channel = cfg.ListenChannel
		}
		store, err := postgres.New(ctx, pc)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.NewValidationError(errors.OpStore, fmt.Errorf("unknown storage driver %q", cfg.Driver))
	}
}

// NewFromConfig opens the store, the REST client and the socket dialer
// described by cfg. The user token is checked before every dial so an
// expired token fails fast instead of reaching the server. The returned
// client owns the store and closes it on Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	userID := cfg.UserID
	if cfg.Token != "" {
		tok, err := auth.ParseUserToken(cfg.Token)
		if err != nil {
			return nil, err
		}
		if userID != "" && userID != tok.UserID {
			return nil, errors.NewValidationError(errors.OpConnect,
				fmt.Errorf("token belongs to %q, configured user is %q", tok.UserID, userID))
		}
		userID = tok.UserID
		logger.Debug("user token parsed",
			slog.String("user_id", tok.UserID),
			slog.Time("expires_at", tok.ExpiresAt),
		)
	}

	tokenSource := func(context.Context) (string, error) {
		if cfg.Token == "" {
			return "", nil
		}
		if _, err := auth.ParseUserToken(cfg.Token); err != nil {
			return "", err
		}
		return cfg.Token, nil
	}

	restOpts := []rest.Option{rest.WithLogger(logger)}
	if cfg.Token != "" {
		restOpts = append(restOpts, rest.WithTokenSource(tokenSource))
	}
	api := rest.NewClient(cfg.BaseURL, cfg.APIKey, restOpts...)

	wsCfg := websocket.Config{
		URL:    cfg.WebSocketURL,
		APIKey: cfg.APIKey,
		UserID: userID,
		Logger: logger,
	}
	if cfg.Token != "" {
		wsCfg.Token = tokenSource
	}
	dialer, err := websocket.NewDialer(wsCfg)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithKeepAlive(connection.KeepAliveConfig{
			Interval:  cfg.KeepAlive.Interval.Std(),
			Timeout:   cfg.KeepAlive.Timeout.Std(),
			MaxMissed: cfg.KeepAlive.MaxMissed,
		}),
		WithPendingTimeout(cfg.Send.PendingTimeout.Std()),
		WithSendRetries(max(cfg.Send.MaxRetries, 0), &task.ExponentialBackoff{
			InitialDelay: cfg.Send.RetryDelay.Std(),
			MaxDelay:     cfg.Send.PendingTimeout.Std(),
			Multiplier:   2,
			Jitter:       0.2,
		}),
		WithPageSize(cfg.Sync.PageSize),
		WithPipelineBuffer(cfg.Sync.PipelineBuffer),
		WithTypingTTL(cfg.Sync.TypingTTL.Std()),
		withCloser(store.Close),
	}
	if cfg.Reconnect.Enabled {
		base = append(base, WithReconnect(
			connection.WithReconnectBackoff(&task.ExponentialBackoff{
				InitialDelay: cfg.Reconnect.InitialDelay.Std(),
				MaxDelay:     cfg.Reconnect.MaxDelay.Std(),
				Multiplier:   2,
				Jitter:       0.2,
			}),
			connection.WithMaxAttempts(cfg.Reconnect.MaxAttempts),
		))
	}

	client, err := New(userID, store, api, dialer, append(base, opts...)...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return client, nil
}
