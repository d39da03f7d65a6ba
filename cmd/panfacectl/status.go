package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [conversation-id]",
		Short: "Show delivery counts, or one transcript's record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				t, err := c.Transcript(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, t)
			}

			sum, err := c.Summary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "pending %d  failed %d  sent %d  total %d\n", sum.Pending, sum.Failed, sum.Sent, sum.Total)
			for _, id := range sum.FailedIDs {
				fmt.Fprintf(out, "failed   %s\n", id)
			}
			for _, id := range sum.PendingIDs {
				fmt.Fprintf(out, "pending  %s\n", id)
			}
			return nil
		},
	}
}
