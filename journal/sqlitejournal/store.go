// Package sqlitejournal provides a SQLite-backed run journal.
package sqlitejournal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neonlab-dev/stepseq"
)

const schema = `CREATE TABLE IF NOT EXISTS run_entries (
	run_id     TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	scenario   TEXT    NOT NULL DEFAULT '',
	kind       TEXT    NOT NULL,
	step       TEXT    NOT NULL DEFAULT '',
	step_index INTEGER NOT NULL DEFAULT 0,
	args       TEXT    NOT NULL DEFAULT '[]',
	status     TEXT    NOT NULL DEFAULT '',
	error      TEXT    NOT NULL DEFAULT '',
	at         INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

// Store persists journal entries in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal and creates its table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append implements stepseq.Journal.
func (s *Store) Append(ctx context.Context, e stepseq.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	if e.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	args, err := json.Marshal(nonNil(e.Args))
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO run_entries (
		   run_id,
		   seq,
		   scenario,
		   kind,
		   step,
		   step_index,
		   args,
		   status,
		   error,
		   at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID,
		e.Seq,
		e.Scenario,
		string(e.Kind),
		e.Step,
		e.Index,
		string(args),
		e.Status,
		e.Error,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s/%d: %w", e.RunID, e.Seq, err)
	}
	return nil
}

// Load implements stepseq.Journal.
func (s *Store) Load(ctx context.Context, runID string) ([]stepseq.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT run_id, seq, scenario, kind, step, step_index, args, status, error, at
		   FROM run_entries
		  WHERE run_id = ?
		  ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []stepseq.Entry
	for rows.Next() {
		var (
			e    stepseq.Entry
			kind string
			args string
			at   int64
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Scenario, &kind, &e.Step, &e.Index, &args, &e.Status, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = stepseq.EntryKind(kind)
		e.At = fromMillis(at)
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		if len(e.Args) == 0 {
			e.Args = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Runs lists journaled run IDs in first-seen order.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT run_id FROM run_entries GROUP BY run_id ORDER BY MIN(at), run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ stepseq.Journal = (*Store)(nil)
