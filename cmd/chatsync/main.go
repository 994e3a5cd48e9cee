// Command chatsync mirrors a chat account into a local database and tails
// or posts to its channels.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	chatsync "github.com/c0deZ3R0/go-chatsync-kit"
	"github.com/c0deZ3R0/go-chatsync-kit/config"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Local chat cache and realtime sync",
	Long:          "Keep a local database in sync with a chat account over its realtime socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "chatsync.yaml", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// loadConfig reads the config file and builds the logger it describes.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, logging.Init(os.Stderr, cfg.Logging), nil
}

// newClient loads the config and opens the client with its store.
func newClient(ctx context.Context) (*chatsync.Client, *config.Config, *logging.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := chatsync.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
