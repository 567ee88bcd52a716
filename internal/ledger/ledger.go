// Package ledger tracks which sessions have been analyzed, keyed by
// content-version signature, enabling incremental crash-safe re-runs.
//
// The ledger file is the one concurrently-shared mutable resource in a
// run: a mutex serializes all mutations, and every save writes the full
// new state to a temporary file before atomically renaming it over the
// real path. A half-written file can never become visible.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorrupted indicates the ledger file exists but cannot be parsed.
// Silently discarding progress state would be worse than stopping, so
// this is surfaced as a fatal setup error.
var ErrCorrupted = errors.New("ledger file corrupted")

// Record is one session's progress entry.
type Record struct {
	SessionID    string    `json:"session_id"`
	Signature    string    `json:"signature"`
	ProcessedAt  time.Time `json:"processed_at"`
	FindingCount int       `json:"finding_count"`
}

// state is the persisted ledger structure.
type state struct {
	LastRunAt time.Time          `json:"last_run_at"`
	Sessions  map[string]*Record `json:"sessions"`
}

// Ledger is the on-disk progress store.
type Ledger struct {
	path string

	mu    sync.Mutex
	state *state
}

// Open loads the ledger at path. A missing file is normal and yields an
// empty ledger; an unparseable file returns ErrCorrupted.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		state: &state{
			Sessions: make(map[string]*Record),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if st.Sessions == nil {
		st.Sessions = make(map[string]*Record)
	}
	l.state = &st
	return l, nil
}

// IsProcessed reports whether a record exists for the session with an
// exactly matching signature. Any mismatch, including no record at all,
// means the session needs reprocessing.
func (l *Ledger) IsProcessed(sessionID, signature string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.state.Sessions[sessionID]
	return ok && rec.Signature == signature
}

// MarkProcessed upserts the session's record, stamps the ledger-wide last
// run time, and saves. Saving after every session trades write frequency
// for at most one session's result lost on crash.
func (l *Ledger) MarkProcessed(sessionID, signature string, findingCount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.state.Sessions[sessionID] = &Record{
		SessionID:    sessionID,
		Signature:    signature,
		ProcessedAt:  now,
		FindingCount: findingCount,
	}
	l.state.LastRunAt = now

	return l.save()
}

// Len returns the number of recorded sessions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.Sessions)
}

// LastRunAt returns the last successful processing time.
func (l *Ledger) LastRunAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.LastRunAt
}

// Reset deletes the ledger file and clears in-memory state.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = &state{Sessions: make(map[string]*Record)}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing ledger: %w", err)
	}
	return nil
}

// save writes the full state atomically. Caller holds the mutex.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming ledger: %w", err)
	}
	return nil
}
