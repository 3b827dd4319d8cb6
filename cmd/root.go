// Package cmd defines the harvester CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Retrieve article text through escalating retrieval channels.",
		Long: `harvester fetches article text for a content catalog. Each target is tried
through an ordered set of retrieval channels (local browser, managed remote
browser, rendering and unblocking proxies, historical snapshots) under
per-channel budgets, and every result is graded before it is published.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newRunCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
