package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
)

var tailHistory int

var tailCmd = &cobra.Command{
	Use:   "tail <type:id>",
	Short: "Print a channel's messages as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cid, err := model.ParseCID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		client, _, logger, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		list, err := client.MessageList(cid)
		if err != nil {
			return err
		}
		defer list.Close()

		err = logger.LogOperation(ctx, "load-history", logging.ComponentClient, func() error {
			for i := 0; i < tailHistory && list.HasMore(); i++ {
				if _, err := list.LoadPreviousPage(ctx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			fmt.Println("(history unavailable)")
		}

		seen := map[string]bool{}
		printNew := func(snapshot *ordered.OrderedMessages) {
			items := snapshot.Items()
			for i := len(items) - 1; i >= 0; i-- {
				m := items[i]
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				fmt.Println(formatMessage(m))
			}
		}

		// Snapshots only wake the loop, which always prints the latest one.
		changed := make(chan struct{}, 1)
		wake := func(ch chan struct{}) {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		initial, cancel := list.Subscribe(func(*ordered.OrderedMessages) { wake(changed) })
		defer cancel()
		printNew(initial)

		connected := make(chan struct{}, 1)
		unsubscribe := client.OnConnectionChange(func(_, state connection.State) {
			if state.IsConnected() {
				wake(connected)
			}
		})
		defer unsubscribe()

		if err := client.Connect(ctx); err != nil {
			return err
		}
		for {
			select {
			case <-changed:
				printNew(list.Messages())
			case <-connected:
				if err := list.Resync(ctx); err != nil {
					logger.LogError(ctx, err, "resync after connect")
				}
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func formatMessage(m model.Message) string {
	var b strings.Builder
	b.WriteString(m.CreatedAt.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(m.UserID)
	if m.ParentID != "" {
		b.WriteString(" (thread)")
	}
	if m.IsLocalOnly() {
		fmt.Fprintf(&b, " [%s]", m.LocalState)
	}
	b.WriteString(": ")
	b.WriteString(m.Text)
	return b.String()
}

func init() {
	tailCmd.Flags().IntVar(&tailHistory, "history", 1, "number of history pages to load before tailing")
	rootCmd.AddCommand(tailCmd)
}
