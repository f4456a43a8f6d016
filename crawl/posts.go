package crawl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/metrics"
	"github.com/moltlab/moltbook-scraper/model"
)

// listScope is one source of post listings: a single submolt's resolved
// endpoint, or the global feed when submolt is empty.
type listScope struct {
	submolt  string
	endpoint string
	path     string
	sorts    []string
	page     api.Pagination
	params   func(sort string) map[string]string
	global   bool
}

func (c *Crawler) traverseSubmolt(ctx context.Context, name string) error {
	firstSort := c.cfg.SubmoltSorts[0]
	kind, err := c.client.ResolveSubmoltEndpoint(ctx, c.state, name, firstSort)
	if err != nil {
		return err
	}
	path := api.SubmoltPostsPath(kind, name)
	page, err := c.ensureMode(ctx, "submolt_posts", &c.submoltPostsPage, path, api.SubmoltPostsParams(kind, name, firstSort))
	if err != nil {
		return err
	}

	interrupted, err := c.traverseSorts(ctx, listScope{
		submolt:  name,
		endpoint: kind,
		path:     path,
		sorts:    c.cfg.SubmoltSorts,
		page:     page,
		params: func(sort string) map[string]string {
			return api.SubmoltPostsParams(kind, name, sort)
		},
	})
	if err != nil {
		return err
	}
	return c.state.FinishSubmolt(name, interrupted)
}

func (c *Crawler) traverseGlobal(ctx context.Context) error {
	if c.state.GlobalDone() {
		return nil
	}
	page, err := c.ensureMode(ctx, "global_posts", &c.globalPostsPage, api.PostsPath, nil)
	if err != nil {
		return err
	}

	if _, err := c.traverseSorts(ctx, listScope{
		endpoint: api.EndpointPosts,
		path:     api.PostsPath,
		sorts:    c.cfg.GlobalSorts,
		page:     page,
		params: func(sort string) map[string]string {
			return map[string]string{"sort": sort}
		},
		global: true,
	}); err != nil {
		return err
	}
	done, err := c.state.FinishGlobal()
	if err != nil {
		return err
	}
	if done {
		c.journal.Event(map[string]any{"event": "global_posts_done"})
	}
	return nil
}

// traverseSorts walks every unfinished sort of a scope page by page, in
// strict order within each sort. Each page's posts fan out through the
// shared semaphore; the next page is not requested until all of them
// settled and the advanced cursor is persisted.
func (c *Crawler) traverseSorts(ctx context.Context, scope listScope) (bool, error) {
	for _, sort := range scope.sorts {
		if c.stopRequested() {
			break
		}
		progress := c.state.Sort(scope.submolt, sort)
		if progress.Done {
			continue
		}
		cursor := progress.Cursor
		if cursor < 0 {
			cursor = scope.page.Start()
		}
		if cursor == 0 && scope.page.Mode == api.ModePage {
			cursor = 1
		}

		seen := make(map[string]struct{})
		pageIdx := 0
		for !c.stopRequested() {
			params := scope.page.Params(cursor)
			for k, v := range scope.params(sort) {
				params[k] = v
			}
			payload, err := c.client.FetchJSON(ctx, scope.path, params)
			if err != nil {
				// A first-page failure marks the sort failed so one broken
				// scope cannot wedge the crawl; a later-page failure leaves
				// it undone to resume from the persisted cursor.
				if pageIdx == 0 {
					if err := c.state.MarkSort(scope.submolt, sort, true, true); err != nil {
						return false, err
					}
					c.journal.Event(failureEvent(scope, sort))
				} else if err := c.state.MarkSort(scope.submolt, sort, false, false); err != nil {
					return false, err
				}
				break
			}
			rows, _ := model.ExtractList(payload)
			if len(rows) == 0 {
				if err := c.state.MarkSort(scope.submolt, sort, true, false); err != nil {
					return false, err
				}
				break
			}
			hasMore, hasMoreKnown := model.HasMore(payload)

			// A page of only already-seen IDs means the endpoint ignored the
			// cursor and is echoing the first page.
			fresh := 0
			for _, row := range rows {
				if id := model.RowID(row); id != "" {
					if _, ok := seen[id]; !ok {
						fresh++
					}
				}
			}
			if fresh == 0 && pageIdx > 0 {
				if err := c.state.MarkSort(scope.submolt, sort, true, false); err != nil {
					return false, err
				}
				break
			}
			for _, row := range rows {
				if id := model.RowID(row); id != "" {
					seen[id] = struct{}{}
				}
			}

			c.journal.Event(pageEvent(scope, sort, cursor, len(rows)))
			if err := c.processListingPage(ctx, scope, sort, cursor, rows); err != nil {
				return false, err
			}

			cursor = scope.page.Next(cursor, len(rows))
			if err := c.state.SetSortCursor(scope.submolt, sort, cursor); err != nil {
				return false, err
			}
			pageIdx++

			if c.cfg.MaxPagesPerSort > 0 && pageIdx >= c.cfg.MaxPagesPerSort {
				if err := c.state.MarkSort(scope.submolt, sort, true, false); err != nil {
					return false, err
				}
				break
			}
			if hasMoreKnown && !hasMore {
				if err := c.state.MarkSort(scope.submolt, sort, true, false); err != nil {
					return false, err
				}
				break
			}
			if c.cfg.MaxPosts > 0 && c.state.PostCount() >= c.cfg.MaxPosts {
				c.Stop()
				break
			}
		}
	}
	return c.stopRequested(), nil
}

// processListingPage records one listing row per post and dispatches posts
// that still need a detail fetch or comment traversal.
func (c *Crawler) processListingPage(ctx context.Context, scope listScope, sort string, cursor int, rows []model.Row) error {
	batchTS := time.Now().UTC().Format(time.RFC3339)
	listings := make([]model.Listing, 0, len(rows))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for idx, row := range rows {
		postID := model.RowID(row)
		if postID == "" {
			continue
		}
		submolt := scope.submolt
		if scope.global {
			submolt = model.RowSubmolt(row)
		}
		listings = append(listings, model.Listing{
			PostID:       postID,
			Submolt:      submolt,
			Sort:         sort,
			Endpoint:     scope.endpoint,
			Cursor:       cursor,
			Rank:         idx + 1,
			ScrapeTS:     batchTS,
			RunID:        c.runID,
			Snapshot:     c.snapshot,
			Score:        row["upvotes"],
			CommentCount: row["comment_count"],
			CreatedAt:    row["created_at"],
		})

		if c.sink.SeenPosts.Has(postID) && c.sink.CommentsDone.Has(postID) {
			continue
		}
		if c.stopRequested() {
			continue
		}
		commentCount, hasCount := model.IntField(row, "comment_count")

		wg.Add(1)
		go func(postID string, row model.Row) {
			defer wg.Done()
			if err := c.postSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer c.postSem.Release(1)
			if err := c.processPost(ctx, postID, row, commentCount, hasCount); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(postID, row)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	if len(listings) > 0 {
		if err := c.sink.AppendListings(listings); err != nil {
			return err
		}
		metrics.AddListings(len(listings))
	}
	return nil
}

// processPost fetches a post's detail record if unseen, then its comments
// unless a terminal comments state is already recorded. When the detail
// endpoint fails, the listing row itself is stored so the post is not lost.
func (c *Crawler) processPost(ctx context.Context, postID string, listing model.Row, commentCount int, hasCount bool) error {
	if c.cfg.MaxPosts > 0 && c.state.PostCount() >= c.cfg.MaxPosts {
		c.Stop()
		return nil
	}

	if !c.sink.SeenPosts.Has(postID) {
		var post model.Row
		payload, err := c.client.FetchJSON(ctx, api.PostDetailPath(postID), nil)
		if err == nil {
			if obj, ok := payload.(map[string]any); ok {
				post = obj
				if inner, ok := obj["post"].(map[string]any); ok {
					post = inner
				}
				if embedded, ok := obj["comments"].([]any); ok && len(embedded) > 0 && !c.cfg.SkipComments {
					if rows, ok := model.ExtractList(embedded); ok {
						if err := c.writeComments(postID, rows); err != nil {
							return err
						}
					}
				}
			}
		}
		if post == nil && listing != nil {
			post = make(model.Row, len(listing)+1)
			for k, v := range listing {
				post[k] = v
			}
			post["_source"] = "listing"
		}
		if post != nil {
			post["_scrape_ts"] = time.Now().UTC().Format(time.RFC3339)
			post["_run_id"] = c.runID
			if err := c.sink.AppendPost(postID, post); err != nil {
				return err
			}
			metrics.AddPosts(1)
			total, err := c.state.IncPosts()
			if err != nil {
				return err
			}
			if c.cfg.MaxPosts > 0 && total >= c.cfg.MaxPosts {
				log.Info().Int("posts", total).Msg("Post budget reached, stopping crawl")
				c.Stop()
				return nil
			}
		}
	}

	if c.cfg.SkipComments || c.sink.CommentsDone.Has(postID) {
		return nil
	}
	if c.cfg.SkipCommentsWhenZero && hasCount && commentCount == 0 {
		return c.sink.MarkCommentsDone(postID)
	}
	return c.fetchComments(ctx, postID)
}

func pageEvent(scope listScope, sort string, cursor, count int) map[string]any {
	if scope.global {
		return map[string]any{"event": "global_posts_page", "sort": sort, "cursor": cursor, "count": count}
	}
	return map[string]any{"event": "submolt_page", "submolt": scope.submolt, "sort": sort, "cursor": cursor, "count": count}
}

func failureEvent(scope listScope, sort string) map[string]any {
	if scope.global {
		return map[string]any{"event": "global_posts_failed", "sort": sort}
	}
	return map[string]any{"event": "submolt_failed", "submolt": scope.submolt, "sort": sort, "reason": "fetch_failed"}
}
