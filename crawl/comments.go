package crawl

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/metrics"
	"github.com/moltlab/moltbook-scraper/model"
)

// writeComments flattens a comment tree, stamps provenance and appends the
// rows that are not already in the seen-comments ledger.
func (c *Crawler) writeComments(postID string, comments []model.Row) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	flat := model.FlattenComments(comments, postID)
	for _, row := range flat {
		if _, ok := row["_scrape_ts"]; !ok {
			row["_scrape_ts"] = ts
		}
		row["_run_id"] = c.runID
	}
	n, err := c.sink.AppendComments(flat)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	metrics.AddComments(n)
	_, err = c.state.AddComments(n)
	return err
}

// fetchComments pulls a post's full comment tree. The done marker is written
// only on natural exhaustion or a 404; a transient failure or an interrupt
// leaves the post unmarked so the next run retries it.
func (c *Crawler) fetchComments(ctx context.Context, postID string) error {
	path := api.PostCommentsPath(postID)
	page, err := c.ensureMode(ctx, "comments", &c.commentsPage, path, nil)
	if err != nil {
		return err
	}

	if page.Mode == api.ModeLimit {
		if c.stopRequested() {
			return nil
		}
		payload, err := c.client.FetchJSON(ctx, path, map[string]string{"limit": strconv.Itoa(page.Limit)})
		switch {
		case errors.Is(err, api.ErrNotFound):
			return c.sink.MarkCommentsDone(postID)
		case err != nil:
			return nil
		}
		if rows, ok := model.ExtractList(payload); ok && len(rows) > 0 {
			if err := c.writeComments(postID, rows); err != nil {
				return err
			}
		}
		return c.sink.MarkCommentsDone(postID)
	}

	cursor := page.Start()
	pageIdx := 0
	seen := make(map[string]struct{})
	interrupted := false
	for !c.stopRequested() {
		payload, err := c.client.FetchJSON(ctx, path, page.Params(cursor))
		if errors.Is(err, api.ErrNotFound) {
			break
		}
		if err != nil {
			interrupted = true
			break
		}
		rows, _ := model.ExtractList(payload)
		if len(rows) == 0 {
			break
		}

		fresh := 0
		for _, row := range rows {
			if id, _ := row["id"].(string); id != "" {
				if _, ok := seen[id]; !ok {
					fresh++
					seen[id] = struct{}{}
				}
			}
		}
		// A repeated page means the endpoint ignores cursors entirely; pin
		// it to single-page mode for the rest of the crawl.
		if fresh == 0 && pageIdx > 0 {
			if err := c.forceCommentsLimitMode(); err != nil {
				return err
			}
			break
		}

		if err := c.writeComments(postID, rows); err != nil {
			return err
		}
		cursor = page.Next(cursor, len(rows))
		pageIdx++
		if c.cfg.MaxCommentPages > 0 && pageIdx >= c.cfg.MaxCommentPages {
			break
		}
	}
	if c.stopRequested() {
		interrupted = true
	}
	if interrupted {
		return nil
	}
	return c.sink.MarkCommentsDone(postID)
}
