package crawl

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moltlab/moltbook-scraper/api"
	"github.com/moltlab/moltbook-scraper/config"
	"github.com/moltlab/moltbook-scraper/state"
	"github.com/moltlab/moltbook-scraper/store"
)

// testServer wraps a mux with per-path request counting.
type testServer struct {
	*httptest.Server
	mux *http.ServeMux

	mu   sync.Mutex
	hits map[string]int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		mux:  http.NewServeMux(),
		hits: make(map[string]int),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		ts.mu.Unlock()
		ts.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) hitCount(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[path]
}

func (ts *testServer) totalHits() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	total := 0
	for _, n := range ts.hits {
		total += n
	}
	return total
}

// respondJSON writes a static JSON body for a path.
func (ts *testServer) respondJSON(path, body string) {
	ts.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

// respondPaged serves one body per offset value, defaulting to an empty list
// past the configured pages. Explicit offset mode in tests keeps these
// handlers trivial.
func (ts *testServer) respondPaged(path string, pages map[string]string) {
	ts.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if body, ok := pages[r.URL.Query().Get("offset")]; ok {
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
}

func testConfig(dir, baseURL string) config.Config {
	return config.Config{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
		RateRPS:   500,
		OutDir:    dir,

		SubmoltsPageSize:     100,
		SubmoltsMode:         "offset",
		SubmoltPostsPageSize: 100,
		SubmoltPostsMode:     "offset",
		GlobalPostsPageSize:  100,
		GlobalPostsMode:      "offset",
		CommentsPageSize:     500,
		CommentsMode:         "limit",

		SubmoltSorts: []string{"new"},
		GlobalSorts:  []string{"new"},

		SubmoltWorkers:  2,
		PostConcurrency: 4,

		SubmoltPriority:      "none",
		SkipCommentsWhenZero: true,
		SkipPreflight:        true,
		NoGlobal:             true,
	}
}

// newTestCrawler assembles a crawler against dir and baseURL. Retries are
// disabled so handlers that fail on purpose fail fast.
func newTestCrawler(t *testing.T, cfg config.Config) *Crawler {
	t.Helper()

	st, err := state.Load(filepath.Join(cfg.OutDir, "state.json"), state.Options{
		RunID:   "test-run-" + uuid.NewString()[:8],
		BaseURL: cfg.BaseURL,
	})
	require.NoError(t, err)

	sink, err := store.Open(cfg.OutDir)
	require.NoError(t, err)
	journal := store.NewJournal(
		filepath.Join(cfg.OutDir, store.LogFile),
		filepath.Join(cfg.OutDir, store.ErrorsFile),
	)

	client := api.New(api.Options{
		BaseURL:     cfg.BaseURL,
		UserAgent:   cfg.UserAgent,
		RPS:         cfg.RateRPS,
		MaxAttempts: 1,
		Journal:     journal,
	})

	crawler, err := New(cfg, client, st, sink, journal)
	require.NoError(t, err)
	return crawler
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())
	return rows
}
