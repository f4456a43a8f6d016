package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/model"
)

// runPreflight probes the whole request chain once before committing to a
// long crawl: submolt index, one random submolt's posts, one random post's
// detail and comments. Raw payloads are dumped under preflight/ for manual
// inspection of the platform's current response shapes. The boolean result
// reports whether the chain worked; the error is reserved for persistence
// failures.
func (c *Crawler) runPreflight(ctx context.Context) (bool, error) {
	if c.state.PreflightDone() && !c.cfg.ForcePreflight {
		return true, nil
	}
	dir := filepath.Join(c.sink.Dir(), "preflight")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create preflight dir: %w", err)
	}

	page, err := c.ensureMode(ctx, "submolts", &c.submoltsPage, api.SubmoltsPath, nil)
	if err != nil {
		return false, err
	}
	payload, err := c.client.FetchJSON(ctx, api.SubmoltsPath, page.Params(page.Start()))
	if err != nil {
		return c.preflightFailed("no_submolts_payload"), nil
	}
	submolts, _ := model.ExtractList(payload)
	if len(submolts) == 0 {
		return c.preflightFailed("empty_submolts"), nil
	}
	submolt := submolts[rand.Intn(len(submolts))]
	name := model.SubmoltName(submolt)
	if name == "" {
		return c.preflightFailed("submolt_no_name"), nil
	}

	kind, err := c.client.ResolveSubmoltEndpoint(ctx, c.state, name, c.cfg.SubmoltSorts[0])
	if err != nil {
		return false, err
	}
	params := api.SubmoltPostsParams(kind, name, c.cfg.SubmoltSorts[0])
	params["limit"] = fmt.Sprint(min(c.cfg.SubmoltPostsPageSize, 25))
	postsPayload, err := c.client.FetchJSON(ctx, api.SubmoltPostsPath(kind, name), params)
	if err != nil {
		return c.preflightFailed("submolt_fetch_failed"), nil
	}
	dumpJSON(dir, fmt.Sprintf("submolt_posts_%s_%s.json", kind, name), postsPayload)

	posts, _ := model.ExtractList(postsPayload)
	if len(posts) == 0 {
		return c.preflightFailed("submolt_no_posts"), nil
	}
	postID := model.RowID(posts[rand.Intn(len(posts))])
	if postID == "" {
		return c.preflightFailed("post_no_id"), nil
	}

	detail, err := c.client.FetchJSON(ctx, api.PostDetailPath(postID), nil)
	if err != nil {
		return c.preflightFailed("post_detail_failed"), nil
	}
	dumpJSON(dir, fmt.Sprintf("post_%s.json", postID), detail)

	commentsPath := api.PostCommentsPath(postID)
	commentsPage, err := c.ensureMode(ctx, "comments", &c.commentsPage, commentsPath, nil)
	if err != nil {
		return false, err
	}
	commentsPayload, err := c.client.FetchJSON(ctx, commentsPath, commentsPage.Params(commentsPage.Start()))
	var comments []model.Row
	if err == nil {
		comments, _ = model.ExtractList(commentsPayload)
	}
	if len(comments) == 0 {
		if obj, ok := detail.(map[string]any); ok {
			if embedded, ok := obj["comments"].([]any); ok {
				comments, _ = model.ExtractList(embedded)
			}
		}
	}
	if comments != nil {
		dumpJSON(dir, fmt.Sprintf("comments_%s.json", postID), comments)
	}

	if err := c.state.SetPreflight(name, postID); err != nil {
		return false, err
	}
	log.Info().Str("submolt", name).Str("post_id", postID).Msg("Preflight passed")
	return true, nil
}

func (c *Crawler) preflightFailed(reason string) bool {
	c.journal.Error(map[string]any{"event": "preflight_failed", "reason": reason})
	log.Error().Str("reason", reason).Msg("Preflight failed")
	return false
}

func dumpJSON(dir, name string, payload any) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Failed to write preflight dump")
	}
}
