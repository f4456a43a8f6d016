package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/moltlab/moltbook-scraper/model"
)

// Mode is a pagination convention an endpoint may use.
type Mode string

const (
	// ModeAuto means the convention is unknown and must be probed.
	ModeAuto Mode = "auto"
	// ModeOffset advances by row count through an offset parameter.
	ModeOffset Mode = "offset"
	// ModePage advances a 1-based page number.
	ModePage Mode = "page"
	// ModeLimit means the endpoint serves a single page and ignores cursors.
	ModeLimit Mode = "limit"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeOffset, ModePage, ModeLimit:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid pagination mode %q (want offset, page, limit or auto)", s)
}

// Pagination carries the convention and page size for one endpoint family.
type Pagination struct {
	Mode  Mode
	Limit int
}

// Start returns the first cursor for the current mode.
func (p Pagination) Start() int {
	if p.Mode == ModePage {
		return 1
	}
	return 0
}

// Params builds the query parameters requesting the page at cursor.
func (p Pagination) Params(cursor int) map[string]string {
	params := map[string]string{"limit": strconv.Itoa(p.Limit)}
	switch p.Mode {
	case ModePage:
		params["page"] = strconv.Itoa(cursor)
	case ModeOffset:
		params["offset"] = strconv.Itoa(cursor)
	}
	return params
}

// Next returns the cursor for the page after one that returned count rows.
// Limit mode has no next page and returns the cursor unchanged.
func (p Pagination) Next(cursor, count int) int {
	switch p.Mode {
	case ModeLimit:
		return cursor
	case ModePage:
		return cursor + 1
	default:
		step := count
		if step <= 0 {
			step = p.Limit
		}
		return cursor + step
	}
}

// ModeCache persists resolved pagination modes across process restarts.
type ModeCache interface {
	PaginationMode(key string) (string, bool)
	SetPaginationMode(key, mode string) error
}

// EnsureMode settles which pagination convention the endpoint behind key
// uses and stores it on p. An explicitly configured mode wins and is cached
// without probing; a cached mode is reused without probing; otherwise the
// endpoint is probed once and the decision persisted for the life of the
// crawl. Different endpoints on the same platform legitimately disagree, so
// the decision is per endpoint key, never global.
func (c *Client) EnsureMode(ctx context.Context, cache ModeCache, key string, p *Pagination, path string, baseParams map[string]string) (Mode, error) {
	if p.Mode != ModeAuto {
		if err := cache.SetPaginationMode(key, string(p.Mode)); err != nil {
			return "", err
		}
		return p.Mode, nil
	}
	if stored, ok := cache.PaginationMode(key); ok {
		if mode, err := ParseMode(stored); err == nil && mode != ModeAuto {
			p.Mode = mode
			return mode, nil
		}
	}

	mode := c.probeMode(ctx, path, baseParams, p.Limit)
	p.Mode = mode
	if err := cache.SetPaginationMode(key, string(mode)); err != nil {
		return "", err
	}
	c.journal.Event(map[string]any{"event": "pagination_resolved", "key": key, "mode": string(mode)})
	return mode, nil
}

// probeMode requests the endpoint once with page=1 and once with offset=0 at
// the same limit and compares the shapes. Whichever parameter yields a
// recognizable list wins; when both do, the one with more rows wins (an
// ignored parameter typically echoes the same first page). Ambiguity
// defaults to page: under-paginating is recoverable on the next run, while
// failing here would lose progress.
func (c *Client) probeMode(ctx context.Context, path string, baseParams map[string]string, limit int) Mode {
	rowsPage, okPage := c.probe(ctx, path, baseParams, map[string]string{"limit": strconv.Itoa(limit), "page": "1"})
	rowsOffset, okOffset := c.probe(ctx, path, baseParams, map[string]string{"limit": strconv.Itoa(limit), "offset": "0"})

	switch {
	case okPage && !okOffset:
		return ModePage
	case okOffset && !okPage:
		return ModeOffset
	case okPage && okOffset:
		if len(rowsOffset) >= len(rowsPage) {
			return ModeOffset
		}
		return ModePage
	default:
		return ModePage
	}
}

func (c *Client) probe(ctx context.Context, path string, baseParams, pageParams map[string]string) ([]model.Row, bool) {
	params := make(map[string]string, len(baseParams)+len(pageParams))
	for k, v := range baseParams {
		params[k] = v
	}
	for k, v := range pageParams {
		params[k] = v
	}
	payload, err := c.FetchJSON(ctx, path, params)
	if err != nil {
		return nil, false
	}
	return model.ExtractList(payload)
}
