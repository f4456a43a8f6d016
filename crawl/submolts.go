package crawl

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/model"
)

// discoverSubmolts pages through the submolt index until it is exhausted,
// appending raw rows to submolts.jsonl and collecting names into the state.
// A fetch failure leaves discovery undone so the next run continues from the
// persisted cursor rather than treating a partial index as complete.
func (c *Crawler) discoverSubmolts(ctx context.Context) error {
	if c.state.Discovery().Done {
		return nil
	}
	page, err := c.ensureMode(ctx, "submolts", &c.submoltsPage, api.SubmoltsPath, nil)
	if err != nil {
		return err
	}

	cursor := c.state.Discovery().Cursor
	if cursor == 0 && page.Mode == api.ModePage {
		cursor = 1
	}

	for !c.stopRequested() {
		payload, err := c.client.FetchJSON(ctx, api.SubmoltsPath, page.Params(cursor))
		if err != nil {
			break
		}
		rows, _ := model.ExtractList(payload)
		if len(rows) == 0 {
			if err := c.state.MarkSubmoltsDone(); err != nil {
				return err
			}
			break
		}
		hasMore, hasMoreKnown := model.HasMore(payload)

		c.journal.Event(map[string]any{"event": "submolts_page", "cursor": cursor, "count": len(rows)})
		if err := c.sink.AppendSubmolts(rows); err != nil {
			return err
		}
		var names []string
		for _, row := range rows {
			if name := model.SubmoltName(row); name != "" {
				names = append(names, name)
			}
		}
		cursor = page.Next(cursor, len(rows))
		if err := c.state.RecordSubmoltPage(names, len(rows), cursor); err != nil {
			return err
		}

		if hasMoreKnown && !hasMore {
			if err := c.state.MarkSubmoltsDone(); err != nil {
				return err
			}
			break
		}
		if c.cfg.MaxSubmolts > 0 && len(c.state.SubmoltNames()) >= c.cfg.MaxSubmolts {
			if err := c.state.MarkSubmoltsDone(); err != nil {
				return err
			}
			break
		}
	}

	if c.state.Discovery().Done {
		count := len(c.state.SubmoltNames())
		c.journal.Event(map[string]any{"event": "submolts_done", "count": count})
		log.Info().Int("count", count).Msg("Submolt discovery complete")
	}
	return nil
}
