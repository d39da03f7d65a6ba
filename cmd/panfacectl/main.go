package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthew-salter/panny-panface/internal/apiclient"
)

var version = "dev"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiclient.Client {
	return apiclient.New(o.server, o.timeout)
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "panfacectl",
		Short:         "Operate a panface voice backend: inspect and retry transcripts, run text sessions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("PANFACE_SERVER", "http://localhost:3000"), "Base URL of the panface server")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(retryCmd(opts))
	rootCmd.AddCommand(cleanupCmd(opts))
	rootCmd.AddCommand(agentsCmd(opts))
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(talkCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
