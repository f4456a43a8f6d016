// Package crawl drives the resumable traversal of the Moltbook platform:
// submolt discovery, per-submolt and global post listings, post details and
// comment trees. All progress lives in the state snapshot and the JSONL
// outputs, so a crawl can be interrupted and resumed at any point without
// refetching what it already holds.
package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/config"
	"github.com/moltlab/moltbook-scraper/state"
	"github.com/moltlab/moltbook-scraper/store"
)

// Crawler owns one crawl run. It is safe for its traversal methods to fan
// out internally; the crawler itself is not reusable across runs.
type Crawler struct {
	cfg     config.Config
	client  *api.Client
	state   *state.Manager
	sink    *store.Sink
	journal *store.Journal

	runID    string
	snapshot bool

	// pageMu guards the shared pagination records while a mode is being
	// resolved. Each endpoint family resolves once per process and the
	// decision is persisted, so contention is brief.
	pageMu           sync.Mutex
	submoltsPage     api.Pagination
	submoltPostsPage api.Pagination
	globalPostsPage  api.Pagination
	commentsPage     api.Pagination

	stopped atomic.Bool
	postSem *semaphore.Weighted
}

// New assembles a crawler from its already-opened dependencies.
func New(cfg config.Config, client *api.Client, st *state.Manager, sink *store.Sink, journal *store.Journal) (*Crawler, error) {
	pages := make(map[string]api.Pagination, 4)
	for key, spec := range map[string]struct {
		mode  string
		limit int
	}{
		"submolts":      {cfg.SubmoltsMode, cfg.SubmoltsPageSize},
		"submolt_posts": {cfg.SubmoltPostsMode, cfg.SubmoltPostsPageSize},
		"global_posts":  {cfg.GlobalPostsMode, cfg.GlobalPostsPageSize},
		"comments":      {cfg.CommentsMode, cfg.CommentsPageSize},
	} {
		mode, err := api.ParseMode(spec.mode)
		if err != nil {
			return nil, err
		}
		// Listing traversal advances a cursor every page; a mode without
		// cursors would refetch the same page forever.
		if mode == api.ModeLimit && key != "comments" {
			return nil, fmt.Errorf("%s: limit mode is only valid for comments", key)
		}
		pages[key] = api.Pagination{Mode: mode, Limit: spec.limit}
	}
	return &Crawler{
		cfg:              cfg,
		client:           client,
		state:            st,
		sink:             sink,
		journal:          journal,
		runID:            st.RunID(),
		snapshot:         cfg.Snapshot,
		submoltsPage:     pages["submolts"],
		submoltPostsPage: pages["submolt_posts"],
		globalPostsPage:  pages["global_posts"],
		commentsPage:     pages["comments"],
		postSem:          semaphore.NewWeighted(int64(cfg.PostConcurrency)),
	}, nil
}

// Stop requests a graceful halt. In-flight pages finish, progress is
// persisted, and no new pages are started.
func (c *Crawler) Stop() {
	c.stopped.Store(true)
}

func (c *Crawler) stopRequested() bool {
	return c.stopped.Load()
}

// Run executes a full crawl: preflight, submolt discovery, per-submolt
// traversal through a bounded worker pool, then the global feed. Returned
// errors are persistence failures; fetch failures are absorbed into the
// state and journal so the next run can pick up where this one stopped.
func (c *Crawler) Run(ctx context.Context) error {
	if !c.cfg.SkipPreflight {
		ok, err := c.runPreflight(ctx)
		if err != nil {
			return err
		}
		if !ok && !c.cfg.ContinueOnPreflightErr {
			log.Error().Msg("Preflight failed, aborting run")
			return nil
		}
	}

	if err := c.discoverSubmolts(ctx); err != nil {
		return err
	}

	if c.cfg.RequeueSubmolts {
		if err := c.state.RequeueSubmolts(); err != nil {
			return err
		}
	}
	only, err := c.cfg.OnlySubmoltList()
	if err != nil {
		return err
	}
	if c.cfg.ForceSubmolts && len(only) > 0 {
		if err := c.state.ClearSubmoltProgress(only); err != nil {
			return err
		}
	}

	names := c.state.SubmoltNames()
	if c.cfg.MaxSubmolts > 0 && len(names) > c.cfg.MaxSubmolts {
		names = names[:c.cfg.MaxSubmolts]
	}
	if len(only) > 0 {
		keep := make(map[string]struct{}, len(only))
		for _, n := range only {
			keep[n] = struct{}{}
		}
		filtered := names[:0]
		for _, n := range names {
			if _, ok := keep[n]; ok {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}
	names = c.prioritizeSubmolts(names)

	var todo []string
	for _, n := range names {
		if !c.state.SubmoltDone(n) {
			todo = append(todo, n)
		}
	}
	log.Info().Int("queued", len(todo)).Int("discovered", len(names)).Msg("Starting submolt traversal")

	queue := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.SubmoltWorkers; i++ {
		g.Go(func() error {
			for name := range queue {
				if c.stopRequested() {
					continue
				}
				if err := c.traverseSubmolt(gctx, name); err != nil {
					return err
				}
			}
			return nil
		})
	}
feed:
	for _, name := range todo {
		select {
		case queue <- name:
		case <-gctx.Done():
			break feed
		}
	}
	close(queue)
	if err := g.Wait(); err != nil {
		return err
	}

	if !c.cfg.NoGlobal && !c.stopRequested() {
		if err := c.traverseGlobal(ctx); err != nil {
			return err
		}
	}

	snap := c.state.Snapshot()
	c.journal.Event(map[string]any{
		"event":    "run_finished",
		"run_id":   c.runID,
		"posts":    snap.Counts.Posts,
		"comments": snap.Counts.Comments,
		"submolts": snap.Counts.Submolts,
		"stopped":  c.stopRequested(),
	})
	log.Info().
		Int("posts", snap.Counts.Posts).
		Int("comments", snap.Counts.Comments).
		Int("submolts", snap.Counts.Submolts).
		Bool("stopped", c.stopRequested()).
		Msg("Crawl run finished")
	return nil
}

// ensureMode resolves the pagination convention for one endpoint family and
// returns a stable copy for the caller's page loop.
func (c *Crawler) ensureMode(ctx context.Context, key string, p *api.Pagination, path string, baseParams map[string]string) (api.Pagination, error) {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	if _, err := c.client.EnsureMode(ctx, c.state, key, p, path, baseParams); err != nil {
		return api.Pagination{}, err
	}
	return *p, nil
}

// forceCommentsLimitMode pins the comments endpoint to single-page fetching
// after a redundant page proved it ignores cursors.
func (c *Crawler) forceCommentsLimitMode() error {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	if c.commentsPage.Mode == api.ModeLimit {
		return nil
	}
	c.commentsPage.Mode = api.ModeLimit
	c.journal.Event(map[string]any{"event": "pagination_resolved", "key": "comments", "mode": string(api.ModeLimit)})
	return c.state.SetPaginationMode("comments", string(api.ModeLimit))
}
