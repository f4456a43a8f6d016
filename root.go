package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for moltbook-scraper.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moltbook-scraper",
		Short: "Resumable, rate-limited crawler for the Moltbook platform",
		Long: `moltbook-scraper collects submolts, posts and comment trees from the
Moltbook REST API into append-only JSONL files.

Progress is checkpointed after every page, so an interrupted crawl resumes
where it stopped: rerunning the same command never refetches posts or
comment trees it already holds. All requests from all workers share one
rate limiter.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewCommentsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
