package crawl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/moltlab/moltbook-scraper/model"
	"github.com/moltlab/moltbook-scraper/store"
)

type commentTask struct {
	postID       string
	commentCount int
	hasCount     bool
}

// RunCommentsOnly backfills comment trees for posts already present in
// posts.jsonl, skipping posts whose comments are marked done and, when
// configured, posts whose stored record reports zero comments.
func (c *Crawler) RunCommentsOnly(ctx context.Context) error {
	tasks, err := c.commentBacklog()
	if err != nil {
		return err
	}
	log.Info().Int("posts", len(tasks)).Msg("Starting comments-only pass")

	queue := make(chan commentTask)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.PostConcurrency; i++ {
		g.Go(func() error {
			for task := range queue {
				if c.stopRequested() {
					continue
				}
				if err := c.fetchComments(gctx, task.postID); err != nil {
					return err
				}
			}
			return nil
		})
	}
feed:
	for _, task := range tasks {
		select {
		case queue <- task:
		case <-gctx.Done():
			break feed
		}
	}
	close(queue)
	return g.Wait()
}

func (c *Crawler) commentBacklog() ([]commentTask, error) {
	path := filepath.Join(c.sink.Dir(), store.PostsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	only, err := c.cfg.OnlySubmoltList()
	if err != nil {
		return nil, err
	}
	var keep map[string]struct{}
	if len(only) > 0 {
		keep = make(map[string]struct{}, len(only))
		for _, n := range only {
			keep[n] = struct{}{}
		}
	}

	var tasks []commentTask
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row model.Row
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		postID := model.RowID(row)
		if postID == "" {
			continue
		}
		if keep != nil {
			if _, ok := keep[model.RowSubmolt(row)]; !ok {
				continue
			}
		}
		if c.sink.CommentsDone.Has(postID) {
			continue
		}
		count, hasCount := model.IntField(row, "comment_count")
		if c.cfg.SkipCommentsWhenZero && hasCount && count == 0 {
			continue
		}
		tasks = append(tasks, commentTask{postID: postID, commentCount: count, hasCount: hasCount})
	}
	return tasks, scanner.Err()
}
