package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	chatsync "github.com/c0deZ3R0/go-chatsync-kit"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

var (
	sendThread  string
	sendConnect bool
)

var sendCmd = &cobra.Command{
	Use:   "send <type:id> <text...>",
	Short: "Post a message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cid, err := model.ParseCID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		client, _, _, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if sendConnect {
			if err := client.Connect(ctx); err != nil {
				return err
			}
		}
		var opts []chatsync.SendOption
		if sendThread != "" {
			opts = append(opts, chatsync.InThread(sendThread))
		}
		msg, err := client.SendMessage(ctx, cid, strings.Join(args[1:], " "), opts...)
		if err != nil {
			return fmt.Errorf("message not sent: %w", err)
		}
		fmt.Printf("Sent %s to %s\n", msg.ID, cid)
		return nil
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <message-id>",
	Short: "Retry a message whose send failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, _, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		msg, err := client.ResendMessage(ctx, args[0])
		if err != nil {
			return fmt.Errorf("message not sent: %w", err)
		}
		fmt.Printf("Sent %s to %s\n", msg.ID, msg.CID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "reply in the thread of this message id")
	sendCmd.Flags().BoolVar(&sendConnect, "connect", true, "open the socket and wait for the message to come back")
	rootCmd.AddCommand(sendCmd, resendCmd)
}
