package stepseq

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(b.buf.String()))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode log line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogObserverWritesStructuredEvents(t *testing.T) {
	var buf syncBuffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	f := newFixture(t)
	seq := New(Config[*device]{Name: "player", Registry: f.reg, Observer: NewLogObserver(logger)})
	closeSequencer(t, seq)

	steps := append([]Token{Step("seek"), Param(5000)}, Step("fail"), Step("end"))
	res := runWithTimeout(t, seq, steps, WithRunID("r-log"), WithScenario("seek"), WithTarget(&device{}))
	if res.Passed() {
		t.Fatal("expected failure")
	}

	var msgs []string
	for _, line := range buf.lines(t) {
		if line["component"] != "stepseq" {
			t.Fatalf("missing component field: %v", line)
		}
		msgs = append(msgs, line["message"].(string))
		switch line["message"] {
		case "step started":
			if line["run"] != "r-log" || line["scenario"] != "seek" {
				t.Fatalf("step event lacks run metadata: %v", line)
			}
			if line["step"] == "seek" {
				args, _ := line["args"].([]any)
				if len(args) != 1 || args[0] != "5000" {
					t.Fatalf("unexpected args: %v", line["args"])
				}
			}
		case "step failed":
			if line["level"] != "error" || !strings.Contains(line["error"].(string), "media error") {
				t.Fatalf("unexpected failure event: %v", line)
			}
		case "run completed":
			if line["level"] != "warn" || line["status"] != "failed" || line["steps"] != float64(2) {
				t.Fatalf("unexpected completion event: %v", line)
			}
		}
	}
	want := []string{"step started", "step done", "step started", "step failed", "run completed"}
	if strings.Join(msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected event sequence: %v", msgs)
	}
}

func TestLogObserverInfoLevelOnlyReportsCompletion(t *testing.T) {
	var buf syncBuffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	f := newFixture(t)
	seq := New(Config[*device]{Registry: f.reg, Observer: NewLogObserver(logger)})
	closeSequencer(t, seq)

	runWithTimeout(t, seq, Steps("create", "play", "end"))
	lines := buf.lines(t)
	if len(lines) != 1 || lines[0]["message"] != "run completed" || lines[0]["level"] != "info" {
		t.Fatalf("unexpected log lines: %v", lines)
	}
}

func TestNoopObserverIsDefault(t *testing.T) {
	seq := New(Config[int]{})
	if _, ok := seq.observer.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver, got %T", seq.observer)
	}
}
