package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlab/moltbook-scraper/model"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())
	return rows
}

func TestAppendPostMarksSeen(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, sink.AppendPost("p1", model.Row{"id": "p1", "title": "hello"}))
	assert.True(t, sink.SeenPosts.Has("p1"))
	assert.False(t, sink.SeenPosts.Has("p2"))

	rows := readLines(t, filepath.Join(dir, PostsFile))
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["title"])
}

func TestAppendCommentsDeduplicates(t *testing.T) {
	sink, err := Open(t.TempDir())
	require.NoError(t, err)

	n, err := sink.AppendComments([]model.Row{{"id": "c1"}, {"id": "c2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sink.AppendComments([]model.Row{{"id": "c2"}, {"id": "c3"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, sink.SeenComments.Len())
}

func TestMarkCommentsDoneIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, sink.MarkCommentsDone("p1"))
	require.NoError(t, sink.MarkCommentsDone("p1"))
	assert.True(t, sink.CommentsDone.Has("p1"))

	rows := readLines(t, filepath.Join(dir, CommentsDoneFile))
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0]["post_id"])
}

func TestOpenRebuildsLedgersFromFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, sink.AppendPost("p1", model.Row{"id": "p1"}))
	_, err = sink.AppendComments([]model.Row{{"id": "c1"}, {"id": "c2"}})
	require.NoError(t, err)
	require.NoError(t, sink.MarkCommentsDone("p1"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, reopened.SeenPosts.Has("p1"))
	assert.True(t, reopened.SeenComments.Has("c1"))
	assert.True(t, reopened.SeenComments.Has("c2"))
	assert.True(t, reopened.CommentsDone.Has("p1"))
	assert.Equal(t, 1, reopened.SeenPosts.Len())
}

func TestLoadSeenIDsSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PostsFile)
	content := `{"id":"p1"}
not json at all
{"title":"no id"}
{"id":"p2"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ids, err := LoadSeenIDs(path, "id")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "p1")
	assert.Contains(t, ids, "p2")
}

func TestLoadSeenIDsMissingFile(t *testing.T) {
	ids, err := LoadSeenIDs(filepath.Join(t.TempDir(), "absent.jsonl"), "id")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAppendListings(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	listings := []model.Listing{
		{PostID: "p1", Submolt: "golang", Sort: "new", Endpoint: "feed", Cursor: 0, Rank: 1, RunID: "r1"},
		{PostID: "p1", Submolt: "golang", Sort: "hot", Endpoint: "feed", Cursor: 0, Rank: 3, RunID: "r1"},
	}
	require.NoError(t, sink.AppendListings(listings))
	// Same post under two sorts stays two rows: listings are observations,
	// not entities.
	rows := readLines(t, filepath.Join(dir, ListingsFile))
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0]["sort"])
	assert.Equal(t, float64(3), rows[1]["rank"])
}

func TestJournalStampsAndPreservesCallerMap(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(filepath.Join(dir, LogFile), filepath.Join(dir, ErrorsFile))

	event := map[string]any{"event": "submolts_page", "count": 10}
	j.Event(event)
	j.Error(map[string]any{"event": "request_error", "path": "/api/v1/posts"})

	_, mutated := event["ts"]
	assert.False(t, mutated)

	logRows := readLines(t, filepath.Join(dir, LogFile))
	require.Len(t, logRows, 1)
	assert.Equal(t, "submolts_page", logRows[0]["event"])
	assert.NotEmpty(t, logRows[0]["ts"])

	errRows := readLines(t, filepath.Join(dir, ErrorsFile))
	require.Len(t, errRows, 1)
	assert.Equal(t, "request_error", errRows[0]["event"])
}
