package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/config"
	"github.com/moltlab/moltbook-scraper/crawl"
	"github.com/moltlab/moltbook-scraper/metrics"
	"github.com/moltlab/moltbook-scraper/state"
	"github.com/moltlab/moltbook-scraper/store"
)

// NewCrawlCmd creates the crawl command, the main entry point of the tool.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a full crawl: submolts, posts and comments",
		Long: `Crawl discovers all submolts, then walks each submolt's post listings
under every configured sort order, fetching post details and comment trees
as it goes, and finishes with the global feed.

Examples:
  # Full crawl with defaults (1 request/second, resume from state.json)
  moltbook-scraper crawl

  # Restrict to two submolts and clear their previous progress
  moltbook-scraper crawl --only-submolts ai,agents --force-submolts

  # Periodic ranking snapshot without refetching bodies
  moltbook-scraper crawl --snapshot --skip-comments --max-pages-per-sort 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			crawler, err := setup(cmd)
			if err != nil {
				return err
			}
			return runWithSignals(crawler, (*crawl.Crawler).Run)
		},
	}
	config.Register(cmd.Flags())
	return cmd
}

// NewCommentsCmd creates the comments backfill command.
func NewCommentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "Fetch comment trees for posts already in posts.jsonl",
		Long: `Comments walks the stored posts and fetches comment trees for every post
not yet marked done in comments_done.jsonl. Useful after a crawl that ran
with --skip-comments, or to finish a crawl interrupted mid-comments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			crawler, err := setup(cmd)
			if err != nil {
				return err
			}
			return runWithSignals(crawler, (*crawl.Crawler).RunCommentsOnly)
		},
	}
	config.Register(cmd.Flags())
	return cmd
}

// setup loads configuration and assembles the crawler and its dependencies.
func setup(cmd *cobra.Command) (*crawl.Crawler, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	configureLogging(cfg)

	runID := cfg.RunID
	if runID == "" {
		// Snapshot runs key their state file by run ID, so the default must
		// be unique even when two runs start within the same second.
		runID = time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	stateFile := "state.json"
	if cfg.Snapshot {
		stateFile = fmt.Sprintf("state_snapshot_%s.json", runID)
	}
	st, err := state.Load(filepath.Join(cfg.OutDir, stateFile), state.Options{
		RunID:   runID,
		BaseURL: cfg.BaseURL,
		Fresh:   cfg.FreshStart,
	})
	if err != nil {
		return nil, err
	}

	sink, err := store.Open(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	journal := store.NewJournal(
		filepath.Join(cfg.OutDir, store.LogFile),
		filepath.Join(cfg.OutDir, store.ErrorsFile),
	)

	headers, err := cfg.ExtraHeaders()
	if err != nil {
		return nil, err
	}
	client := api.New(api.Options{
		BaseURL:      cfg.BaseURL,
		Token:        cfg.Token,
		UserAgent:    cfg.UserAgent,
		Headers:      headers,
		RPS:          cfg.RateRPS,
		LogRequests:  cfg.LogRequests,
		CurlFallback: cfg.CurlFallback,
		Journal:      journal,
		ErrorHook: func(event map[string]any) {
			if err := st.RecordError(event); err != nil {
				log.Error().Err(err).Msg("Failed to persist error tally")
			}
		},
	})

	if cfg.MetricsAddr != "" {
		go metrics.Expose(cfg.MetricsAddr)
	}

	log.Info().
		Str("run_id", runID).
		Str("base_url", cfg.BaseURL).
		Str("out_dir", cfg.OutDir).
		Float64("rps", cfg.RateRPS).
		Msg("Starting run")
	return crawl.New(cfg, client, st, sink, journal)
}

// runWithSignals runs fn, turning the first interrupt into a graceful stop
// and the second into a hard context cancellation.
func runWithSignals(crawler *crawl.Crawler, fn func(*crawl.Crawler, context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Warn().Msg("Interrupt received, finishing in-flight pages")
		crawler.Stop()
		<-sigCh
		log.Warn().Msg("Second interrupt, aborting")
		cancel()
	}()

	return fn(crawler, ctx)
}

func configureLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
}
