// Package state persists every piece of resumable crawl progress: cursors,
// completion flags, the pagination-mode cache, per-submolt endpoint choices,
// preflight status and counters. The snapshot is written atomically after
// every state-changing step so a crash always leaves the previous consistent
// snapshot on disk.
package state

// Version is the current snapshot schema version.
const Version = 1

// SortProgress tracks one (scope, sort) traversal.
type SortProgress struct {
	Cursor int  `json:"cursor"`
	Done   bool `json:"done"`
	Failed bool `json:"failed,omitempty"`
}

// SubmoltProgress tracks all sorts of one submolt.
type SubmoltProgress struct {
	Sorts map[string]*SortProgress `json:"sorts"`
	Done  bool                     `json:"done"`
}

// SubmoltDiscovery tracks paging through the submolt-listing endpoint.
type SubmoltDiscovery struct {
	Cursor int  `json:"cursor"`
	Done   bool `json:"done"`
	Count  int  `json:"count"`
}

// GlobalPosts tracks the platform-wide feed traversal.
type GlobalPosts struct {
	Cursor int                      `json:"cursor"`
	Done   bool                     `json:"done"`
	Sorts  map[string]*SortProgress `json:"sorts"`
}

// Preflight records the one-time sanity probe.
type Preflight struct {
	Done    bool   `json:"done"`
	Submolt string `json:"submolt,omitempty"`
	PostID  string `json:"post_id,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// Counts accumulates records written across all runs against this state.
type Counts struct {
	Posts    int `json:"posts"`
	Comments int `json:"comments"`
	Submolts int `json:"submolts"`
}

// ErrorTally keeps the failure counter and the most recent failure record.
type ErrorTally struct {
	Count int            `json:"count"`
	Last  map[string]any `json:"last,omitempty"`
}

// CrawlState is the full persisted snapshot. It is owned by the Manager and
// must only be touched through its accessors.
type CrawlState struct {
	Version   int    `json:"version"`
	BaseURL   string `json:"base_url"`
	StartedAt string `json:"started_at"`
	UpdatedAt string `json:"updated_at"`
	RunID     string `json:"run_id"`

	Preflight       Preflight                   `json:"preflight"`
	Submolts        SubmoltDiscovery            `json:"submolts"`
	SubmoltNames    []string                    `json:"submolt_names"`
	SubmoltProgress map[string]*SubmoltProgress `json:"submolt_progress"`
	GlobalPosts     GlobalPosts                 `json:"global_posts"`

	Counts Counts     `json:"counts"`
	Errors ErrorTally `json:"errors"`

	// Pagination caches the resolved pagination mode per endpoint key so an
	// endpoint is never re-probed for the life of the crawl, including
	// across process restarts.
	Pagination map[string]string `json:"pagination"`

	// SubmoltEndpointByName caches whether a submolt's posts are served by
	// its /feed route or by the global /posts route filtered by name.
	SubmoltEndpointByName map[string]string `json:"submolt_endpoint_by_name"`
}
