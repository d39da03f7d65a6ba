package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func retryCmd(opts *rootOptions) *cobra.Command {
	var allFailed bool

	cmd := &cobra.Command{
		Use:   "retry [conversation-id...]",
		Short: "Resend stored transcripts to the webhook",
		Long:  `Resends each named transcript. With --failed, resends every transcript currently in the failed bucket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			ids := args

			if allFailed {
				sum, err := c.Summary(cmd.Context())
				if err != nil {
					return err
				}
				ids = append(ids, sum.FailedIDs...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no conversation ids given")
			}

			var failed int
			for _, id := range ids {
				msg, err := c.Retry(cmd.Context(), id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, msg)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d retries failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allFailed, "failed", false, "Retry every failed transcript")
	return cmd
}
