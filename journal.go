package stepseq

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EntryKind classifies journal entries.
type EntryKind string

const (
	EntryDispatched EntryKind = "dispatched"
	EntryAdvanced   EntryKind = "advanced"
	EntryFailed     EntryKind = "failed"
	EntryCompleted  EntryKind = "completed"
)

// Entry is one record of a run's history.
type Entry struct {
	RunID    string
	Seq      int
	Scenario string
	Kind     EntryKind
	Step     string
	Index    int
	Args     []string
	Status   string
	Error    string
	At       time.Time
}

// Journal persists run history per run ID.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	Load(ctx context.Context, runID string) ([]Entry, error)
}

// MemJournal is an in-memory Journal implementation for testing/dev.
type MemJournal struct {
	mu   sync.RWMutex
	data map[string][]Entry
}

// NewMemJournal creates a memory-backed journal.
func NewMemJournal() *MemJournal {
	return &MemJournal{data: make(map[string][]Entry)}
}

// Append implements Journal.
func (m *MemJournal) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[e.RunID] = append(m.data[e.RunID], e)
	return nil
}

// Load implements Journal.
func (m *MemJournal) Load(ctx context.Context, runID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.data[runID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Runs lists run IDs that have at least one entry.
func (m *MemJournal) Runs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
