package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager owns one CrawlState snapshot. Every accessor serializes through a
// single mutex and every mutating accessor persists before returning, so the
// on-disk snapshot is never more than one step behind. Persistence errors are
// returned to the caller and must be treated as fatal: continuing with
// unpersisted state breaks resumability.
type Manager struct {
	mu    sync.Mutex
	path  string
	state CrawlState
}

// Options configure how a snapshot is loaded or defaulted.
type Options struct {
	RunID   string
	BaseURL string

	// SubmoltStartCursor seeds the submolt-listing cursor for a fresh state.
	SubmoltStartCursor int

	// Fresh ignores any existing snapshot and starts over.
	Fresh bool
}

// Load reads the snapshot at path, or initializes a default one when the
// file is absent or Fresh is set.
func Load(path string, opts Options) (*Manager, error) {
	m := &Manager{path: path}

	if !opts.Fresh {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &m.state); err != nil {
				return nil, fmt.Errorf("parse state file %s: %w", path, err)
			}
			m.fillDefaults()
			m.state.RunID = opts.RunID
			log.Info().Str("path", path).Int("submolts", len(m.state.SubmoltNames)).Msg("Resuming from existing crawl state")
			return m, nil
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read state file %s: %w", path, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	m.state = CrawlState{
		Version:   Version,
		BaseURL:   opts.BaseURL,
		StartedAt: now,
		UpdatedAt: now,
		RunID:     opts.RunID,
		Submolts:  SubmoltDiscovery{Cursor: opts.SubmoltStartCursor},
	}
	m.fillDefaults()
	return m, nil
}

// fillDefaults initializes maps a hand-edited or older snapshot may lack.
func (m *Manager) fillDefaults() {
	if m.state.Version == 0 {
		m.state.Version = Version
	}
	if m.state.SubmoltProgress == nil {
		m.state.SubmoltProgress = make(map[string]*SubmoltProgress)
	}
	if m.state.GlobalPosts.Sorts == nil {
		m.state.GlobalPosts.Sorts = make(map[string]*SortProgress)
	}
	if m.state.Pagination == nil {
		m.state.Pagination = make(map[string]string)
	}
	if m.state.SubmoltEndpointByName == nil {
		m.state.SubmoltEndpointByName = make(map[string]string)
	}
	for _, p := range m.state.SubmoltProgress {
		if p.Sorts == nil {
			p.Sorts = make(map[string]*SortProgress)
		}
	}
}

// save writes the snapshot to a temp file and renames it into place. Callers
// must hold the mutex.
func (m *Manager) save() error {
	m.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crawl state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Save persists the current snapshot.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// Path returns the snapshot location.
func (m *Manager) Path() string { return m.path }

// RunID returns the identifier of the current run.
func (m *Manager) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.RunID
}

// Snapshot returns a deep-enough copy of the state for inspection in tests
// and logs. Mutating the copy has no effect on the persisted state.
func (m *Manager) Snapshot() CrawlState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.state
	cp.SubmoltNames = append([]string(nil), m.state.SubmoltNames...)
	cp.Pagination = copyStringMap(m.state.Pagination)
	cp.SubmoltEndpointByName = copyStringMap(m.state.SubmoltEndpointByName)
	cp.SubmoltProgress = make(map[string]*SubmoltProgress, len(m.state.SubmoltProgress))
	for name, p := range m.state.SubmoltProgress {
		cp.SubmoltProgress[name] = copySubmoltProgress(p)
	}
	cp.GlobalPosts.Sorts = copySorts(m.state.GlobalPosts.Sorts)
	return cp
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copySorts(src map[string]*SortProgress) map[string]*SortProgress {
	dst := make(map[string]*SortProgress, len(src))
	for k, v := range src {
		c := *v
		dst[k] = &c
	}
	return dst
}

func copySubmoltProgress(p *SubmoltProgress) *SubmoltProgress {
	return &SubmoltProgress{Sorts: copySorts(p.Sorts), Done: p.Done}
}

// PaginationMode returns the cached mode for an endpoint key.
func (m *Manager) PaginationMode(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.state.Pagination[key]
	return mode, ok
}

// SetPaginationMode caches the resolved mode for an endpoint key.
func (m *Manager) SetPaginationMode(key, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Pagination[key] = mode
	return m.save()
}

// SubmoltEndpoint returns the cached posts-endpoint kind for a submolt.
func (m *Manager) SubmoltEndpoint(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, ok := m.state.SubmoltEndpointByName[name]
	return kind, ok
}

// SetSubmoltEndpoint caches the posts-endpoint kind for a submolt.
func (m *Manager) SetSubmoltEndpoint(name, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SubmoltEndpointByName[name] = kind
	return m.save()
}

// PreflightDone reports whether the one-time sanity probe has succeeded.
func (m *Manager) PreflightDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Preflight.Done
}

// SetPreflight records a successful preflight.
func (m *Manager) SetPreflight(submolt, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Preflight = Preflight{
		Done:    true,
		Submolt: submolt,
		PostID:  postID,
		TS:      time.Now().UTC().Format(time.RFC3339),
	}
	return m.save()
}

// Discovery returns the submolt-listing progress.
func (m *Manager) Discovery() SubmoltDiscovery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Submolts
}

// RecordSubmoltPage appends newly discovered names (deduplicated, order
// preserved), bumps the counters and advances the discovery cursor in one
// persisted step.
func (m *Manager) RecordSubmoltPage(names []string, rowCount, nextCursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]struct{}, len(m.state.SubmoltNames))
	for _, n := range m.state.SubmoltNames {
		known[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; ok {
			continue
		}
		known[n] = struct{}{}
		m.state.SubmoltNames = append(m.state.SubmoltNames, n)
	}
	m.state.Counts.Submolts += rowCount
	m.state.Submolts.Count = m.state.Counts.Submolts
	m.state.Submolts.Cursor = nextCursor
	return m.save()
}

// MarkSubmoltsDone marks discovery as naturally exhausted.
func (m *Manager) MarkSubmoltsDone() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Submolts.Done = true
	return m.save()
}

// SubmoltNames returns a copy of the discovered names in discovery order.
func (m *Manager) SubmoltNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.state.SubmoltNames...)
}

// sortProgress returns the live progress record for a (scope, sort) pair,
// creating it when absent. An empty submolt addresses the global feed.
// Callers must hold the mutex.
func (m *Manager) sortProgress(submolt, sort string) *SortProgress {
	var sorts map[string]*SortProgress
	if submolt == "" {
		sorts = m.state.GlobalPosts.Sorts
	} else {
		p, ok := m.state.SubmoltProgress[submolt]
		if !ok {
			p = &SubmoltProgress{Sorts: make(map[string]*SortProgress)}
			m.state.SubmoltProgress[submolt] = p
		}
		sorts = p.Sorts
	}
	s, ok := sorts[sort]
	if !ok {
		s = &SortProgress{Cursor: -1}
		sorts[sort] = s
	}
	return s
}

// Sort returns a copy of the progress for a (scope, sort) pair. A cursor of
// -1 means no page has been fetched yet.
func (m *Manager) Sort(submolt, sort string) SortProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sortProgress(submolt, sort)
}

// SetSortCursor persists the next cursor for a (scope, sort) pair.
func (m *Manager) SetSortCursor(submolt, sort string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortProgress(submolt, sort).Cursor = cursor
	return m.save()
}

// MarkSort records the terminal flags for a (scope, sort) pair.
func (m *Manager) MarkSort(submolt, sort string, done, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sortProgress(submolt, sort)
	s.Done = done
	s.Failed = failed
	return m.save()
}

// FinishSubmolt marks a submolt done when every sort finished and the scope
// was not interrupted mid-page.
func (m *Manager) FinishSubmolt(name string, interrupted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.SubmoltProgress[name]
	if !ok {
		return nil
	}
	p.Done = !interrupted && allDone(p.Sorts)
	return m.save()
}

// FinishGlobal marks the global feed done when every sort finished.
func (m *Manager) FinishGlobal() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.GlobalPosts.Done = allDone(m.state.GlobalPosts.Sorts)
	return m.state.GlobalPosts.Done, m.save()
}

func allDone(sorts map[string]*SortProgress) bool {
	for _, s := range sorts {
		if !s.Done {
			return false
		}
	}
	return len(sorts) > 0
}

// SubmoltDone reports whether a submolt's traversal completed.
func (m *Manager) SubmoltDone(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.SubmoltProgress[name]
	return ok && p.Done
}

// GlobalDone reports whether the global feed traversal completed.
func (m *Manager) GlobalDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.GlobalPosts.Done
}

// IncPosts bumps the post counter and returns the new total.
func (m *Manager) IncPosts() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Counts.Posts++
	return m.state.Counts.Posts, m.save()
}

// AddComments bumps the comment counter by n and returns the new total.
func (m *Manager) AddComments(n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Counts.Comments += n
	return m.state.Counts.Comments, m.save()
}

// PostCount returns how many posts have been stored across all runs.
func (m *Manager) PostCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Counts.Posts
}

// RecordError bumps the failure tally and keeps the most recent record.
func (m *Manager) RecordError(event map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Errors.Count++
	m.state.Errors.Last = event
	return m.save()
}

// RequeueSubmolts clears all per-submolt progress so every submolt is
// traversed again. Discovered names and the pagination cache are kept.
func (m *Manager) RequeueSubmolts() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SubmoltProgress = make(map[string]*SubmoltProgress)
	return m.save()
}

// ClearSubmoltProgress drops progress for the named submolts only.
func (m *Manager) ClearSubmoltProgress(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		delete(m.state.SubmoltProgress, name)
	}
	return m.save()
}
