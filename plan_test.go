package stepseq

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildPlanSequencer() *Sequencer[int] {
	reg := mediaLikeRegistry()
	return New(Config[int]{Name: "player", Registry: reg})
}

func seekScenario() []Token {
	toks := append(Steps("create", "seek"), Param(5000))
	toks = append(toks, Step("expectError"), Step("release"), Step("wait"), Param(10), Step("end"))
	return toks
}

func TestPlanSnapshot(t *testing.T) {
	seq := buildPlanSequencer()
	snap, err := seq.Registry().Plan("seek", seekScenario())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	var labels []string
	var indexes []int
	for _, s := range snap.Steps {
		labels = append(labels, s.Label())
		indexes = append(indexes, s.Index)
	}
	if diff := cmp.Diff([]string{"create", "seek(5000)", "expectError", "release", "wait(10)", "end"}, labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 3, 4, 5, 7}, indexes); diff != "" {
		t.Fatalf("indexes mismatch (-want +got):\n%s", diff)
	}
	if !snap.Steps[0].Creates || snap.Steps[1].Builtin || !snap.Steps[2].Builtin {
		t.Fatalf("flags wrong: %+v", snap.Steps)
	}
}

func TestPlanErrors(t *testing.T) {
	reg := mediaLikeRegistry()
	if _, err := reg.Plan("x", Steps("create")); !errors.Is(err, ErrMissingEnd) {
		t.Fatalf("expected ErrMissingEnd, got %v", err)
	}
	if _, err := reg.Plan("x", Steps("create", "end", "end")); !errors.Is(err, ErrMalformedSteps) {
		t.Fatalf("expected ErrMalformedSteps, got %v", err)
	}
}

func TestExportDOT(t *testing.T) {
	seq := buildPlanSequencer()

	var buf bytes.Buffer
	if err := seq.ExportDOT(&buf, "seek", seekScenario()); err != nil {
		t.Fatalf("ExportDOT failed: %v", err)
	}
	want := strings.Join([]string{
		`digraph "seek" {`,
		`  rankdir=LR;`,
		`  node [shape=box];`,
		`  __start__ [shape=point];`,
		`  s0 [label="create", style=bold];`,
		`  __start__ -> s0;`,
		`  s1 [label="seek(5000)"];`,
		`  s0 -> s1;`,
		`  s3 [label="expectError", style=dashed];`,
		`  s1 -> s3;`,
		`  s4 [label="release"];`,
		`  s3 -> s4;`,
		`  s5 [label="wait(10)", style=dashed];`,
		`  s4 -> s5;`,
		`  s7 [label="end", shape=doublecircle];`,
		`  s5 -> s7;`,
		`}`,
	}, "\n") + "\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("DOT mismatch (-want +got):\n%s", diff)
	}
}

func TestExportDOTOptions(t *testing.T) {
	seq := buildPlanSequencer()

	var buf bytes.Buffer
	if err := seq.ExportDOT(&buf, "", seekScenario(), WithoutArgs(), WithoutBuiltins(), WithRankDir("TB")); err != nil {
		t.Fatalf("ExportDOT failed: %v", err)
	}
	dot := buf.String()
	for _, want := range []string{`digraph "scenario"`, "rankdir=TB;", `label="seek"`, "s1 -> s4;", "s4 -> s7;"} {
		if !strings.Contains(dot, want) {
			t.Fatalf("DOT missing %q:\n%s", want, dot)
		}
	}
	for _, unwanted := range []string{"expectError", "wait", "5000"} {
		if strings.Contains(dot, unwanted) {
			t.Fatalf("DOT should not contain %q:\n%s", unwanted, dot)
		}
	}
}

func TestExportDOTRejectsInvalidList(t *testing.T) {
	seq := buildPlanSequencer()
	if err := seq.ExportDOT(&bytes.Buffer{}, "x", Steps("create", "fly", "end")); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestDotQuoteEscapes(t *testing.T) {
	if got := dotQuote(`say "hi"`); got != `"say \"hi\""` {
		t.Fatalf("dotQuote = %s", got)
	}
}
