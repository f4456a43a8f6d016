package store

import "sync"

// Ledger is an append-only membership set rebuilt from an output file at
// startup. A restarted process consults it before scheduling work so nothing
// already completed is requested again.
type Ledger struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewLedger loads a ledger from the string values of key in a JSONL file.
func NewLedger(path, key string) (*Ledger, error) {
	ids, err := LoadSeenIDs(path, key)
	if err != nil {
		return nil, err
	}
	return &Ledger{ids: ids}, nil
}

// Has reports whether id is already a member.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Add records id. It reports whether the id was new.
func (l *Ledger) Add(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

// Len returns the number of members.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
