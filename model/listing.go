package model

// Listing is one observed ranking position of a post at crawl time. Listings
// are append-only events and are never deduplicated: the same post appearing
// under several sorts or cursors is expected and meaningful downstream.
type Listing struct {
	PostID       string `json:"post_id"`
	Submolt      string `json:"submolt,omitempty"`
	Sort         string `json:"sort"`
	Endpoint     string `json:"endpoint"`
	Cursor       int    `json:"cursor"`
	Rank         int    `json:"rank"`
	ScrapeTS     string `json:"scrape_ts"`
	RunID        string `json:"run_id"`
	Snapshot     bool   `json:"snapshot"`
	Score        any    `json:"score"`
	CommentCount any    `json:"comment_count"`
	CreatedAt    any    `json:"created_at"`
}

// CommentsDoneMarker records that comment traversal for a post reached a
// terminal state. Its absence means comments must be (re)attempted next run.
type CommentsDoneMarker struct {
	PostID string `json:"post_id"`
}
