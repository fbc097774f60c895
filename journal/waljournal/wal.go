// Package waljournal is an append-only run journal on top of a segmented
// write-ahead log. Entries are never rewritten; Load scans the log.
package waljournal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/wal"

	"github.com/neonlab-dev/stepseq"
)

// WAL journals entries to a tidwall/wal log.
type WAL struct {
	mutex sync.Mutex
	log   *wal.Log

	// Index of the next entry to append; the underlying log counts from 1.
	idx uint64
}

// Open opens or creates the log directory at path.
func Open(path string, sync bool) (*WAL, error) {
	log, err := wal.Open(path, &wal.Options{
		NoSync: !sync,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open WAL: %w", err)
	}
	last, err := log.LastIndex()
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("failed obtaining last WAL index: %w", err)
	}
	return &WAL{log: log, idx: last + 1}, nil
}

// Append implements stepseq.Journal.
func (w *WAL) Append(ctx context.Context, e stepseq.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not marshal entry: %w", err)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := w.log.Write(w.idx, data); err != nil {
		return fmt.Errorf("could not write WAL index %d: %w", w.idx, err)
	}
	w.idx++
	return nil
}

// Load implements stepseq.Journal.
func (w *WAL) Load(ctx context.Context, runID string) ([]stepseq.Entry, error) {
	var out []stepseq.Entry
	err := w.LoadAll(ctx, func(e stepseq.Entry) {
		if e.RunID == runID {
			out = append(out, e)
		}
	})
	return out, err
}

// LoadAll replays every entry in append order.
func (w *WAL) LoadAll(ctx context.Context, forEach func(stepseq.Entry)) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	first, err := w.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("could not read first index: %w", err)
	}
	if first == 0 {
		// empty log
		return nil
	}
	last, err := w.log.LastIndex()
	if err != nil {
		return fmt.Errorf("could not read last index: %w", err)
	}

	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := w.log.Read(i)
		if err != nil {
			return fmt.Errorf("could not read index %d: %w", i, err)
		}
		var e stepseq.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("error decoding index %d, is the WAL corrupt?: %w", i, err)
		}
		forEach(e)
	}
	return nil
}

// Close syncs and closes the log.
func (w *WAL) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := w.log.Sync(); err != nil {
		_ = w.log.Close()
		return err
	}
	return w.log.Close()
}

var _ stepseq.Journal = (*WAL)(nil)
