package crawl

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPreflightHappyPath(t *testing.T) {
	ts := newTestServer(t)
	ts.respondJSON("/api/v1/submolts", `{"data":[{"name":"test"}]}`)
	ts.respondJSON("/api/v1/submolts/test/feed", `{"data":[{"id":"p1"}]}`)
	ts.respondJSON("/api/v1/posts/p1", `{"id":"p1","title":"probe"}`)
	ts.respondJSON("/api/v1/posts/p1/comments", `[{"id":"c1"}]`)

	dir := t.TempDir()
	crawler := newTestCrawler(t, testConfig(dir, ts.URL))

	ok, err := crawler.runPreflight(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, crawler.state.PreflightDone())

	// Raw payloads are dumped for manual inspection.
	entries, err := os.ReadDir(filepath.Join(dir, "preflight"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "submolt_posts_feed_test.json")
	assert.Contains(t, names, "post_p1.json")
	assert.Contains(t, names, "comments_p1.json")
}

func TestRunPreflightSkippedWhenAlreadyDone(t *testing.T) {
	ts := newTestServer(t)
	crawler := newTestCrawler(t, testConfig(t.TempDir(), ts.URL))
	require.NoError(t, crawler.state.SetPreflight("test", "p1"))

	ok, err := crawler.runPreflight(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, ts.totalHits())
}

func TestRunPreflightFailureReported(t *testing.T) {
	ts := newTestServer(t)
	ts.mux.HandleFunc("/api/v1/submolts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	crawler := newTestCrawler(t, testConfig(t.TempDir(), ts.URL))
	ok, err := crawler.runPreflight(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, crawler.state.PreflightDone())
}

func TestRunAbortsWhenPreflightFails(t *testing.T) {
	ts := newTestServer(t)
	ts.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cfg := testConfig(t.TempDir(), ts.URL)
	cfg.SkipPreflight = false
	crawler := newTestCrawler(t, cfg)
	require.NoError(t, crawler.Run(context.Background()))

	// The run stopped at preflight: nothing was traversed.
	assert.False(t, crawler.state.Discovery().Done)
	assert.Empty(t, crawler.state.SubmoltNames())
}

func TestPrioritizeSubmoltsBySubscribers(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	cfg := testConfig(dir, ts.URL)
	cfg.SubmoltPriority = "subscriber_count"
	crawler := newTestCrawler(t, cfg)

	require.NoError(t, crawler.sink.AppendSubmolts([]map[string]any{
		{"name": "small", "subscriber_count": 5},
		{"name": "big", "subscriber_count": 5000},
		{"name": "mid", "subscriber_count": 300},
	}))

	got := crawler.prioritizeSubmolts([]string{"small", "big", "mid"})
	assert.Equal(t, []string{"big", "mid", "small"}, got)
}

func TestPrioritizeSubmoltsByLastActivity(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	cfg := testConfig(dir, ts.URL)
	cfg.SubmoltPriority = "last_activity"
	crawler := newTestCrawler(t, cfg)

	require.NoError(t, crawler.sink.AppendSubmolts([]map[string]any{
		{"name": "stale", "subscriber_count": 9000, "last_activity_at": "2024-01-01T00:00:00Z"},
		{"name": "active", "subscriber_count": 10, "last_activity_at": "2026-08-01T12:00:00Z"},
	}))

	got := crawler.prioritizeSubmolts([]string{"stale", "active"})
	assert.Equal(t, []string{"active", "stale"}, got)
}

func TestPrioritizeSubmoltsNoneKeepsOrder(t *testing.T) {
	ts := newTestServer(t)
	cfg := testConfig(t.TempDir(), ts.URL)
	cfg.SubmoltPriority = "none"
	crawler := newTestCrawler(t, cfg)

	got := crawler.prioritizeSubmolts([]string{"b", "a", "c"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestPrioritizeSubmoltsMissingMetadataGoesLast(t *testing.T) {
	ts := newTestServer(t)
	cfg := testConfig(t.TempDir(), ts.URL)
	crawler := newTestCrawler(t, cfg)

	require.NoError(t, crawler.sink.AppendSubmolts([]map[string]any{
		{"name": "known", "subscriber_count": 100},
	}))
	got := crawler.prioritizeSubmolts([]string{"unknown", "known"})
	assert.Equal(t, []string{"known", "unknown"}, got)
}
