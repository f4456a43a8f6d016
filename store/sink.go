package store

import (
	"path/filepath"

	"github.com/moltlab/moltbook-scraper/model"
)

// Output file names inside the crawl's output directory.
const (
	PostsFile        = "posts.jsonl"
	CommentsFile     = "comments.jsonl"
	CommentsDoneFile = "comments_done.jsonl"
	ListingsFile     = "listings.jsonl"
	SubmoltsFile     = "submolts.jsonl"
	LogFile          = "log.jsonl"
	ErrorsFile       = "errors.jsonl"
)

// Sink appends crawl records to the JSONL output files and carries the dedup
// ledgers rebuilt from them at startup.
type Sink struct {
	dir string

	posts        *appender
	comments     *appender
	commentsDone *appender
	listings     *appender
	submolts     *appender

	// SeenPosts holds post IDs already written to posts.jsonl, SeenComments
	// comment IDs already in comments.jsonl, and CommentsDone the post IDs
	// whose comment traversal reached a terminal state.
	SeenPosts    *Ledger
	SeenComments *Ledger
	CommentsDone *Ledger
}

// Open creates a sink rooted at dir, reconstructing the ledgers from any
// output files a previous run left behind.
func Open(dir string) (*Sink, error) {
	seenPosts, err := NewLedger(filepath.Join(dir, PostsFile), "id")
	if err != nil {
		return nil, err
	}
	seenComments, err := NewLedger(filepath.Join(dir, CommentsFile), "id")
	if err != nil {
		return nil, err
	}
	commentsDone, err := NewLedger(filepath.Join(dir, CommentsDoneFile), "post_id")
	if err != nil {
		return nil, err
	}
	return &Sink{
		dir:          dir,
		posts:        newAppender(filepath.Join(dir, PostsFile)),
		comments:     newAppender(filepath.Join(dir, CommentsFile)),
		commentsDone: newAppender(filepath.Join(dir, CommentsDoneFile)),
		listings:     newAppender(filepath.Join(dir, ListingsFile)),
		submolts:     newAppender(filepath.Join(dir, SubmoltsFile)),
		SeenPosts:    seenPosts,
		SeenComments: seenComments,
		CommentsDone: commentsDone,
	}, nil
}

// Dir returns the output directory the sink writes under.
func (s *Sink) Dir() string { return s.dir }

// AppendPost writes one post record and marks its ID as seen.
func (s *Sink) AppendPost(id string, row model.Row) error {
	if err := s.posts.append(row); err != nil {
		return err
	}
	s.SeenPosts.Add(id)
	return nil
}

// AppendComments writes comment rows that are not already in the seen-comments
// ledger and returns how many were new.
func (s *Sink) AppendComments(rows []model.Row) (int, error) {
	fresh := make([]any, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id != "" && s.SeenComments.Has(id) {
			continue
		}
		fresh = append(fresh, row)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.comments.append(fresh...); err != nil {
		return 0, err
	}
	for _, row := range fresh {
		if id, _ := row.(model.Row)["id"].(string); id != "" {
			s.SeenComments.Add(id)
		}
	}
	return len(fresh), nil
}

// MarkCommentsDone writes the comments-done marker for a post. The marker row
// is written before the ledger is updated so a crash between the two only
// costs a redundant line, never a lost marker.
func (s *Sink) MarkCommentsDone(postID string) error {
	if s.CommentsDone.Has(postID) {
		return nil
	}
	if err := s.commentsDone.append(model.CommentsDoneMarker{PostID: postID}); err != nil {
		return err
	}
	s.CommentsDone.Add(postID)
	return nil
}

// AppendListings writes listing rows. Listings are never deduplicated.
func (s *Sink) AppendListings(rows []model.Listing) error {
	asAny := make([]any, len(rows))
	for i := range rows {
		asAny[i] = rows[i]
	}
	return s.listings.append(asAny...)
}

// AppendSubmolts writes raw submolt rows exactly as the API returned them.
func (s *Sink) AppendSubmolts(rows []model.Row) error {
	asAny := make([]any, len(rows))
	for i := range rows {
		asAny[i] = rows[i]
	}
	return s.submolts.append(asAny...)
}
