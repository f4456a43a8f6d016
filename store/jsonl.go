// Package store owns everything the crawler persists except the crawl state
// snapshot: the JSONL output files, the dedup ledgers reconstructed from
// them, and the durable event/error journals.
//
// Each output file has its own mutex so concurrent traversal tasks cannot
// interleave partial lines; records are immutable once written.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// appender serializes appends to a single JSON Lines file.
type appender struct {
	mu   sync.Mutex
	path string
}

func newAppender(path string) *appender {
	return &appender{path: path}
}

// append marshals each row onto its own line and writes them in one call so
// a crash cannot leave another writer's line split in half.
func (a *appender) append(rows ...any) error {
	if len(rows) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row for %s: %w", a.path, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append to %s: %w", a.path, err)
	}
	return nil
}

// LoadSeenIDs scans an existing JSONL file and collects the string values of
// the given key. Missing files yield an empty set; malformed lines are
// skipped, since a crashed run may have left a truncated tail.
func LoadSeenIDs(path, key string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			continue
		}
		if id, ok := obj[key].(string); ok && id != "" {
			seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return seen, nil
}
