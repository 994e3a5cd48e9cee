package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-chatsync-kit/config"
)

var (
	initAPIKey  string
	initUserID  string
	initBaseURL string
	initWSURL   string
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
		}
		cfg := config.Default()
		cfg.APIKey = initAPIKey
		cfg.UserID = initUserID
		cfg.BaseURL = initBaseURL
		cfg.WebSocketURL = initWSURL
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "application API key")
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "user to connect as")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "REST API base URL")
	initCmd.Flags().StringVar(&initWSURL, "ws-url", "", "realtime socket URL")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
