package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/moltlab/moltbook-scraper/store"
)

// fakeCache is an in-memory stand-in for the state manager's pagination and
// endpoint caches.
type fakeCache struct {
	modes     map[string]string
	endpoints map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		modes:     make(map[string]string),
		endpoints: make(map[string]string),
	}
}

func (f *fakeCache) PaginationMode(key string) (string, bool) {
	v, ok := f.modes[key]
	return v, ok
}

func (f *fakeCache) SetPaginationMode(key, mode string) error {
	f.modes[key] = mode
	return nil
}

func (f *fakeCache) SubmoltEndpoint(name string) (string, bool) {
	v, ok := f.endpoints[name]
	return v, ok
}

func (f *fakeCache) SetSubmoltEndpoint(name, kind string) error {
	f.endpoints[name] = kind
	return nil
}

// newTestClient builds a client against a test server with backoff sleeps
// stubbed out so retry paths run instantly.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	dir := t.TempDir()
	c := New(Options{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
		RPS:       1000,
		Journal:   store.NewJournal(filepath.Join(dir, "log.jsonl"), filepath.Join(dir, "errors.jsonl")),
	})
	c.sleep = func(ctx context.Context, d time.Duration) {}
	return c
}
