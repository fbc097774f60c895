package waljournal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/neonlab-dev/stepseq"
)

func TestAppendLoadAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	ctx := context.Background()

	w, err := Open(dir, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := []stepseq.Entry{
		{RunID: "a", Seq: 1, Kind: stepseq.EntryDispatched, Step: "create"},
		{RunID: "b", Seq: 1, Kind: stepseq.EntryDispatched, Step: "create"},
		{RunID: "a", Seq: 2, Kind: stepseq.EntryAdvanced, Step: "create"},
	}
	for _, e := range first {
		if err := w.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, err = Open(dir, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	if err := w.Append(ctx, stepseq.Entry{RunID: "a", Seq: 3, Kind: stepseq.EntryCompleted, Status: "passed"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	got, err := w.Load(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []stepseq.Entry{first[0], first[2], {RunID: "a", Seq: 3, Kind: stepseq.EntryCompleted, Status: "passed"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	var total int
	if err := w.LoadAll(ctx, func(stepseq.Entry) { total++ }); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 entries, got %d", total)
	}
}

func TestLoadEmpty(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "wal"), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	got, err := w.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestAppendHonoursContext(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "wal"), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Append(ctx, stepseq.Entry{RunID: "a", Seq: 1}); err == nil {
		t.Fatal("expected canceled context error")
	}
}
