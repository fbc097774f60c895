package stepseq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errMedia = errors.New("media error")

// device is a stand-in target that records every operation issued on it.
type device struct {
	mu    sync.Mutex
	calls []string
}

func (d *device) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// operate simulates an asynchronous platform call reporting err.
func (d *device) operate(name string, err error) func(done func(error)) {
	return func(done func(error)) {
		d.record(name)
		go done(err)
	}
}

// fixture bundles a registry with observations made by its handlers.
type fixture struct {
	reg *Registry[*device]

	mu        sync.Mutex
	remaining map[string][]string
	args      map[string][]string
}

func (f *fixture) capture(c *Call[*device]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining[c.Name] = renderTokens(c.Remaining())
	f.args[c.Name] = renderTokens(c.Args)
}

func (f *fixture) Remaining(step string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining[step]
}

func (f *fixture) Args(step string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[step]
}

func opStep(f *fixture, err error) Handler[*device] {
	return func(ctx context.Context, c *Call[*device]) error {
		f.capture(c)
		d := c.Target()
		Invoke(c, d.operate(c.Name, err), func(err error) { _ = c.Check(err) })
		return nil
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:       NewRegistry[*device](),
		remaining: make(map[string][]string),
		args:      make(map[string][]string),
	}
	f.reg.Step("create").Creates().Handle(func(ctx context.Context, c *Call[*device]) error {
		f.capture(c)
		InvokeValue(c,
			func(done func(*device, error)) { go done(&device{}, nil) },
			func(d *device, err error) {
				if !c.Succeeded(err) {
					return
				}
				if err := c.SetTarget(d); err != nil {
					_ = c.Fail(err)
					return
				}
				d.record("create")
				_ = c.Next()
			})
		return nil
	})
	for _, name := range []string{"setSurface", "prepare", "play", "release"} {
		f.reg.MustRegister(name, opStep(f, nil))
	}
	f.reg.MustRegister("fail", opStep(f, errMedia))
	f.reg.Step("seek").Params(1).Handle(func(ctx context.Context, c *Call[*device]) error {
		f.capture(c)
		ms, err := c.Arg(0).Int()
		if err != nil {
			return err
		}
		d := c.Target()
		Invoke(c, d.operate(fmt.Sprintf("seek:%d", ms), nil), func(err error) { _ = c.Check(err) })
		return nil
	})
	f.reg.Step("push").Params(1).Handle(func(ctx context.Context, c *Call[*device]) error {
		c.Target().record(c.Arg(0).String())
		return c.Next()
	})
	return f
}

// recordingObserver keeps observer callbacks for assertions.
type recordingObserver struct {
	NoopObserver

	mu       sync.Mutex
	started  []string
	done     []string
	failed   []error
	waits    []time.Duration
	misuse   []error
	journal  []error
	complete []Result
}

func (o *recordingObserver) OnStepStart(_ context.Context, info StepInfo) {
	o.mu.Lock()
	o.started = append(o.started, info.Step)
	o.mu.Unlock()
}

func (o *recordingObserver) OnStepDone(_ context.Context, info StepInfo) {
	o.mu.Lock()
	o.done = append(o.done, info.Step)
	o.mu.Unlock()
}

func (o *recordingObserver) OnStepFailed(_ context.Context, _ StepInfo, err error) {
	o.mu.Lock()
	o.failed = append(o.failed, err)
	o.mu.Unlock()
}

func (o *recordingObserver) OnWait(_ context.Context, _ StepInfo, d time.Duration) {
	o.mu.Lock()
	o.waits = append(o.waits, d)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunComplete(_ context.Context, res Result) {
	o.mu.Lock()
	o.complete = append(o.complete, res)
	o.mu.Unlock()
}

func (o *recordingObserver) OnMisuse(_ context.Context, _ StepInfo, err error) {
	o.mu.Lock()
	o.misuse = append(o.misuse, err)
	o.mu.Unlock()
}

func (o *recordingObserver) OnJournalError(_ context.Context, _ Entry, err error) {
	o.mu.Lock()
	o.journal = append(o.journal, err)
	o.mu.Unlock()
}

func (o *recordingObserver) Misuse() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.misuse...)
}

func (o *recordingObserver) Completions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.complete)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func runWithTimeout[T any](t *testing.T, s *Sequencer[T], steps []Token, opts ...RunOption) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.Run(ctx, steps, opts...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func closeSequencer[T any](t *testing.T, s *Sequencer[T]) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
}
