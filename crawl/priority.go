package crawl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/moltlab/moltbook-scraper/model"
	"github.com/moltlab/moltbook-scraper/store"
)

type submoltMeta struct {
	subscribers  float64
	lastActivity float64
}

// prioritizeSubmolts orders the queue so high-signal communities are crawled
// first and an interrupted run still covers the most valuable ground. The
// ranking metadata comes from submolts.jsonl written during discovery.
func (c *Crawler) prioritizeSubmolts(names []string) []string {
	if c.cfg.SubmoltPriority == "none" {
		return names
	}
	meta := c.loadSubmoltMeta()

	key := func(name string) (float64, float64) {
		info := meta[name]
		if c.cfg.SubmoltPriority == "last_activity" {
			return info.lastActivity, info.subscribers
		}
		return info.subscribers, info.lastActivity
	}
	sort.SliceStable(names, func(i, j int) bool {
		pi, si := key(names[i])
		pj, sj := key(names[j])
		if pi != pj {
			return pi > pj
		}
		return si > sj
	})
	return names
}

func (c *Crawler) loadSubmoltMeta() map[string]submoltMeta {
	meta := make(map[string]submoltMeta)
	f, err := os.Open(filepath.Join(c.sink.Dir(), store.SubmoltsFile))
	if err != nil {
		return meta
	}
	defer f.Close()

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
		name := model.SubmoltName(row)
		if name == "" {
			continue
		}
		subs, _ := model.IntField(row, "subscriber_count")
		var lastActivity float64
		if raw, ok := row["last_activity_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				lastActivity = float64(ts.Unix())
			}
		}
		meta[name] = submoltMeta{subscribers: float64(subs), lastActivity: lastActivity}
	}
	return meta
}
