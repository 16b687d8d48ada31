package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-admission/internal/config"
)

// configLoader reads configuration for a subcommand.
type configLoader func(path string) (config.Config, error)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawl-admission",
		Short: "Admission service for asynchronous crawl jobs.",
		Long: `crawl-admission accepts crawl submissions over HTTP, authenticates and
rate-limits the caller, deduplicates retries by idempotency key, reserves
credits, rejects blocklisted targets and hands accepted jobs to a queue.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env ADMISSION_* overrides apply)")
	path := func() string { return cfgFile }

	cmd.AddCommand(
		newServeCmd(path, config.Load),
		newCheckURLCmd(path, config.Read),
		newIssueTokenCmd(path, config.Read),
		newGrantCreditsCmd(path, config.Read),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}
