package sqlitejournal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/neonlab-dev/stepseq"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAppendLoadRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	want := []stepseq.Entry{
		{RunID: "run-1", Seq: 1, Scenario: "seek", Kind: stepseq.EntryDispatched, Step: "seek", Index: 3, Args: []string{"5000"}, At: at},
		{RunID: "run-1", Seq: 2, Scenario: "seek", Kind: stepseq.EntryAdvanced, Step: "seek", Index: 3, At: at},
		{RunID: "run-1", Seq: 3, Scenario: "seek", Kind: stepseq.EntryCompleted, Status: "passed", At: at},
	}
	// insert out of order; Load sorts by seq
	for _, i := range []int{2, 0, 1} {
		if err := store.Append(ctx, want[i]); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := store.Append(ctx, stepseq.Entry{RunID: "run-2", Seq: 1, Kind: stepseq.EntryFailed, Error: "boom", At: at}); err != nil {
		t.Fatalf("append other run: %v", err)
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	runs, err := store.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", runs)
	}
}

func TestAppendRejectsDuplicateSeq(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	e := stepseq.Entry{RunID: "run-1", Seq: 1, Kind: stepseq.EntryDispatched, Step: "create"}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, e); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestAppendRequiresRunID(t *testing.T) {
	store := openTempStore(t)
	if err := store.Append(context.Background(), stepseq.Entry{Seq: 1}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
	if _, err := store.Load(context.Background(), "x"); err == nil {
		t.Fatal("expected error from nil store")
	}
}

func TestSequencerJournalsToSQLite(t *testing.T) {
	store := openTempStore(t)

	reg := stepseq.NewRegistry[*int]()
	reg.Step("make").Creates().Handle(func(ctx context.Context, c *stepseq.Call[*int]) error {
		v := 0
		if err := c.SetTarget(&v); err != nil {
			return err
		}
		return c.Next()
	})
	seq := stepseq.New(stepseq.Config[*int]{Registry: reg, Journal: store})

	res, err := seq.Run(context.Background(), stepseq.Steps("make", "end"), stepseq.WithRunID("r"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("expected pass, got %v", res.Err)
	}

	entries, err := store.Load(context.Background(), "r")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var kinds []stepseq.EntryKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	want := []stepseq.EntryKind{stepseq.EntryDispatched, stepseq.EntryAdvanced, stepseq.EntryDispatched, stepseq.EntryCompleted}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}
