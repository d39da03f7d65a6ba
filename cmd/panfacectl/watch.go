package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matthew-salter/panny-panface/internal/events"
)

func watchCmd() *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream transcript lifecycle events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				return fmt.Errorf("--nats or NATS_URL is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := events.Connect(ctx, natsURL)
			if err != nil {
				return err
			}
			defer bus.Close()

			out := cmd.OutOrStdout()
			err = bus.Subscribe(ctx, func(e events.Event) {
				fmt.Fprintf(out, "%s  %-20s %-8s attempts=%d  %s\n",
					e.Timestamp.Format("15:04:05"), e.EventType, e.Status, e.Attempts, e.ConversationID)
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", envOr("NATS_URL", ""), "NATS server URL")
	return cmd
}
