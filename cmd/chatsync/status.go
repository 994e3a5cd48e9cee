package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-chatsync-kit/auth"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
)

var statusChannels bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configuration, token and cached channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  User:       %s\n", cfg.UserID)
		fmt.Printf("  API:        %s\n", cfg.BaseURL)
		fmt.Printf("  Socket:     %s\n", cfg.WebSocketURL)
		fmt.Printf("  Storage:    %s\n", cfg.Storage.Driver)
		fmt.Printf("  Keep-alive: every %s, %d missed\n", cfg.KeepAlive.Interval.Std(), cfg.KeepAlive.MaxMissed)

		tokenStatus := "none"
		if cfg.Token != "" {
			tok, err := auth.ParseUserToken(cfg.Token)
			switch {
			case err != nil:
				tokenStatus = fmt.Sprintf("invalid (%v)", err)
			case tok.ExpiresAt.IsZero():
				tokenStatus = "valid (no expiry)"
			default:
				tokenStatus = fmt.Sprintf("valid (expires %s)", tok.ExpiresAt.Format(time.RFC3339))
			}
		}
		fmt.Printf("  Token:      %s\n", tokenStatus)

		if !statusChannels {
			return nil
		}
		ctx := cmd.Context()
		client, _, _, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		list, err := client.ChannelList(rest.ChannelQuery{})
		if err != nil {
			return err
		}
		defer list.Close()

		fmt.Println()
		fmt.Println("Cached channels:")
		channels := list.Channels().Items()
		if len(channels) == 0 {
			fmt.Println("  (none)")
		}
		for _, ch := range channels {
			last := "never"
			if !ch.LastMessageAt.IsZero() {
				last = ch.LastMessageAt.Local().Format(time.RFC3339)
			}
			fmt.Printf("  %-30s last message %s\n", ch.CID, last)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusChannels, "channels", false, "list the channels in the local cache")
	rootCmd.AddCommand(statusCmd)
}
