package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func agentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agent sets the server can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().Agents(cmd.Context())
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(a.Sets))
			for k := range a.Sets {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			for _, k := range keys {
				marker := " "
				if k == a.Default {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s: %s\n", marker, k, strings.Join(a.Sets[k], ", "))
			}
			return nil
		},
	}
}
