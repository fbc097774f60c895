package stepseq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Run is one scenario's execution: its remaining steps, its target and its
// completion signal. Runs are never shared between scenarios.
type Run[T any] struct {
	seq      *Sequencer[T]
	id       string
	scenario string
	style    Style

	mu         sync.Mutex
	ctx        context.Context
	state      State
	steps      []Token // remaining, consumed front-first
	index      int     // position of steps[0] in the original list
	target     T
	hasTarget  bool
	expectErr  bool
	executed   []string
	pending    bool
	looping    bool
	done       func(Result)
	result     Result
	started    time.Time
	journalSeq int
	doneCh     chan struct{}
}

// ID returns the run ID.
func (r *Run[T]) ID() string { return r.id }

// Scenario returns the scenario name given through WithScenario.
func (r *Run[T]) Scenario() string { return r.scenario }

// Style returns the invocation style of the run.
func (r *Run[T]) Style() Style { return r.style }

// State returns the current lifecycle state.
func (r *Run[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Remaining returns a copy of the steps not yet dispatched.
func (r *Run[T]) Remaining() []Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Token(nil), r.steps...)
}

// Executed returns the names of the steps dispatched so far, end excluded.
func (r *Run[T]) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

// Done is closed after the completion signal fired.
func (r *Run[T]) Done() <-chan struct{} { return r.doneCh }

// Result returns the final result once the run completed.
func (r *Run[T]) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.state == StateCompleted
}

// Start moves an idle run to Running and dispatches its first step.
// The context's values travel with the run; its cancellation does not.
func (r *Run[T]) Start(ctx context.Context, done func(Result)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if r.seq.closed.Load() {
		r.mu.Unlock()
		return ErrClosed
	}
	r.state = StateRunning
	r.ctx = context.WithoutCancel(ctx)
	r.done = done
	r.started = time.Now()
	r.seq.runsWG.Add(1)
	r.mu.Unlock()

	r.schedule()
	return nil
}

// schedule requests the next dispatch. Requests made while a handler is
// executing are picked up by the loop already on the stack, so chains of
// synchronous completions are processed iteratively.
func (r *Run[T]) schedule() {
	r.mu.Lock()
	r.pending = true
	if r.looping {
		r.mu.Unlock()
		return
	}
	r.looping = true
	r.mu.Unlock()
	r.loop()
}

func (r *Run[T]) loop() {
	for {
		r.mu.Lock()
		if !r.pending || r.state != StateRunning {
			r.looping = false
			r.mu.Unlock()
			return
		}
		r.pending = false
		call, def, err := r.popLocked()
		r.mu.Unlock()

		if err != nil {
			r.abort(call, err)
			continue
		}
		r.dispatch(call, def)
	}
}

// popLocked removes the next step and its parameters from the list.
func (r *Run[T]) popLocked() (*Call[T], *stepDef[T], error) {
	idx := r.index
	if len(r.steps) == 0 {
		return &Call[T]{Index: idx, run: r}, nil, fmt.Errorf("%w: list exhausted at %d", ErrMissingEnd, idx)
	}
	tok := r.steps[0]
	if !tok.IsStep() {
		return &Call[T]{Name: tok.String(), Index: idx, run: r}, nil, fmt.Errorf("%w: parameter %v at %d has no step", ErrMalformedSteps, tok, idx)
	}
	call := &Call[T]{Name: tok.Name(), Index: idx, run: r}
	def, ok := r.seq.registry.lookup(tok.Name())
	if !ok {
		return call, nil, fmt.Errorf("%w: %q at %d", ErrUnknownStep, tok.Name(), idx)
	}
	if len(r.steps)-1 < def.params {
		return call, nil, fmt.Errorf("%w: step %q needs %d parameters", ErrMalformedSteps, def.name, def.params)
	}
	args := append([]Token(nil), r.steps[1:1+def.params]...)
	for _, a := range args {
		if a.IsStep() {
			return call, nil, fmt.Errorf("%w: step %q where a parameter of %q belongs", ErrMalformedSteps, a.Name(), def.name)
		}
	}
	r.steps = r.steps[1+def.params:]
	r.index += 1 + def.params

	if r.expectErr && def.builtin != notBuiltin {
		return call, nil, fmt.Errorf("%w: %q must be followed by a step with a handler, got %q", ErrMalformedSteps, ExpectErrorStep, def.name)
	}
	call.Args = args
	call.def = def
	switch def.builtin {
	case builtinExpectError:
		r.expectErr = true
	case notBuiltin:
		call.expectFailure = r.expectErr
		r.expectErr = false
	}
	if def.builtin != builtinEnd {
		r.executed = append(r.executed, def.name)
	}
	return call, def, nil
}

func (r *Run[T]) dispatch(c *Call[T], def *stepDef[T]) {
	ctx := r.ctx
	info := c.info()
	r.record(Entry{Kind: EntryDispatched, Step: c.Name, Index: c.Index, Args: renderTokens(c.Args)})
	r.seq.observer.OnStepStart(ctx, info)

	switch def.builtin {
	case builtinEnd:
		c.advanced.Store(true)
		r.complete(StatusPassed, nil)
		return
	case builtinExpectError:
		_ = c.Next()
		return
	case builtinWait:
		ms, err := c.Arg(0).Int()
		if err == nil && ms < 0 {
			err = fmt.Errorf("negative duration %d", ms)
		}
		if err != nil {
			_ = c.Fail(&StepError{Step: c.Name, Index: c.Index, What: "duration", Err: err})
			return
		}
		d := time.Duration(ms) * time.Millisecond
		r.seq.observer.OnWait(ctx, info, d)
		r.seq.after(d, func() { _ = c.Next() }, func() { _ = c.Fail(ErrClosed) })
		return
	}

	if !def.creates {
		r.mu.Lock()
		has := r.hasTarget
		r.mu.Unlock()
		if !has {
			_ = c.Fail(&StepError{Step: c.Name, Index: c.Index, Err: ErrNoTarget})
			return
		}
	}

	h, ok := r.seq.handlers[def.name]
	if !ok {
		_ = c.Fail(fmt.Errorf("%w: %q", ErrUnknownStep, def.name))
		return
	}
	if err := h(ctx, c); err != nil {
		if c.advanced.Load() {
			r.seq.observer.OnMisuse(ctx, info, fmt.Errorf("handler returned after advancing: %w", err))
			return
		}
		_ = c.Fail(err)
	}
}

// abort fails the run for a malformed list detected at dispatch time.
func (r *Run[T]) abort(c *Call[T], err error) {
	se := &StepError{Step: c.Name, Index: c.Index, Err: err}
	r.seq.observer.OnStepFailed(r.ctx, c.info(), se)
	r.record(Entry{Kind: EntryFailed, Step: c.Name, Index: c.Index, Error: se.Error()})
	r.complete(StatusFailed, se)
}

// complete fires the completion signal; only the first call has an effect.
func (r *Run[T]) complete(status Status, err error) bool {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return false
	}
	r.state = StateCompleted
	r.pending = false
	res := Result{
		RunID:    r.id,
		Scenario: r.scenario,
		Status:   status,
		Executed: append([]string(nil), r.executed...),
		Err:      err,
		Started:  r.started,
		Finished: time.Now(),
	}
	r.result = res
	done := r.done
	target, hasTarget := r.target, r.hasTarget
	var zero T
	r.target, r.hasTarget = zero, false
	r.mu.Unlock()

	if hasTarget && r.seq.teardown != nil {
		r.seq.teardown(r.ctx, target)
	}

	e := Entry{Kind: EntryCompleted, Status: status.String()}
	if err != nil {
		e.Error = err.Error()
	}
	r.record(e)
	r.seq.observer.OnRunComplete(r.ctx, res)
	if done != nil {
		done(res)
	}
	close(r.doneCh)
	r.seq.runsWG.Done()
	return true
}

func (r *Run[T]) record(e Entry) {
	j := r.seq.journal
	if j == nil {
		return
	}
	r.mu.Lock()
	r.journalSeq++
	e.Seq = r.journalSeq
	r.mu.Unlock()
	e.RunID = r.id
	e.Scenario = r.scenario
	e.At = time.Now()
	if err := j.Append(r.ctx, e); err != nil {
		if r.seq.journalHook != nil {
			r.seq.journalHook(r.ctx, e, err)
			return
		}
		r.seq.observer.OnJournalError(r.ctx, e, err)
	}
}

// Call is handed to a handler for one dispatched step. It advances the
// chain exactly once through Next, Fail, Check, Succeeded or Expect.
type Call[T any] struct {
	Name  string
	Index int
	Args  []Token

	run           *Run[T]
	def           *stepDef[T]
	expectFailure bool
	advanced      atomic.Bool
}

// Arg returns the i-th parameter; out of range yields an empty parameter.
func (c *Call[T]) Arg(i int) Token {
	if i < 0 || i >= len(c.Args) {
		return Param(nil)
	}
	return c.Args[i]
}

// RunID returns the owning run's ID.
func (c *Call[T]) RunID() string { return c.run.id }

// Scenario returns the owning run's scenario name.
func (c *Call[T]) Scenario() string { return c.run.scenario }

// Style returns the run's invocation style.
func (c *Call[T]) Style() Style { return c.run.style }

// Context returns the run context, detached from the caller's cancellation.
func (c *Call[T]) Context() context.Context { return c.run.ctx }

// ExpectsFailure reports whether an expectError step precedes this one.
func (c *Call[T]) ExpectsFailure() bool { return c.expectFailure }

// Remaining returns a copy of the steps after this one and its parameters.
func (c *Call[T]) Remaining() []Token { return c.run.Remaining() }

// Target returns the run's target.
func (c *Call[T]) Target() T {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()
	return c.run.target
}

// SetTarget assigns the target; only steps registered with Creates may call it.
// A target arriving after completion goes straight to the teardown hook.
func (c *Call[T]) SetTarget(v T) error {
	if c.def == nil || !c.def.creates {
		return fmt.Errorf("%w: step %q", ErrTargetReassigned, c.Name)
	}
	c.run.mu.Lock()
	if c.run.state == StateCompleted {
		c.run.mu.Unlock()
		if c.run.seq.teardown != nil {
			c.run.seq.teardown(c.run.ctx, v)
		}
		return ErrCompleted
	}
	c.run.target = v
	c.run.hasTarget = true
	c.run.mu.Unlock()
	return nil
}

func (c *Call[T]) info() StepInfo {
	return StepInfo{
		Sequencer: c.run.seq.name,
		RunID:     c.run.id,
		Scenario:  c.run.scenario,
		Step:      c.Name,
		Index:     c.Index,
		Args:      c.Args,
	}
}

func (c *Call[T]) claim() error {
	if c.run.State() == StateCompleted {
		err := fmt.Errorf("%w: step %d (%s)", ErrCompleted, c.Index, c.Name)
		c.run.seq.observer.OnMisuse(c.run.ctx, c.info(), err)
		return err
	}
	if !c.advanced.CompareAndSwap(false, true) {
		err := fmt.Errorf("%w: step %d (%s)", ErrAlreadyAdvanced, c.Index, c.Name)
		c.run.seq.observer.OnMisuse(c.run.ctx, c.info(), err)
		return err
	}
	return nil
}

// Next advances the chain to the following step.
func (c *Call[T]) Next() error {
	if err := c.claim(); err != nil {
		return err
	}
	c.run.record(Entry{Kind: EntryAdvanced, Step: c.Name, Index: c.Index})
	c.run.seq.observer.OnStepDone(c.run.ctx, c.info())
	c.run.schedule()
	return nil
}

// Fail ends the run as failed at this step.
func (c *Call[T]) Fail(err error) error {
	if err := c.claim(); err != nil {
		return err
	}
	if err == nil {
		err = errors.New("failed")
	}
	var se *StepError
	if !errors.As(err, &se) {
		se = &StepError{Step: c.Name, Index: c.Index, Err: err}
	}
	c.run.seq.observer.OnStepFailed(c.run.ctx, c.info(), se)
	c.run.record(Entry{Kind: EntryFailed, Step: c.Name, Index: c.Index, Error: se.Error()})
	c.run.complete(StatusFailed, se)
	return nil
}

// Failf is Fail with a formatted cause.
func (c *Call[T]) Failf(format string, args ...any) error {
	return c.Fail(fmt.Errorf(format, args...))
}

// Succeeded settles the outcome of the step's operation. It returns true
// when err is nil and no failure was expected; the handler then asserts its
// post-conditions and advances. Otherwise the call is already settled:
// an expected failure advances, anything else fails the run.
func (c *Call[T]) Succeeded(err error) bool {
	switch {
	case c.expectFailure && err == nil:
		_ = c.Fail(&StepError{Step: c.Name, Index: c.Index, What: "result", Expected: "error", Observed: "success"})
		return false
	case c.expectFailure:
		_ = c.Next()
		return false
	case err != nil:
		_ = c.Fail(&StepError{Step: c.Name, Index: c.Index, What: "result", Expected: "success", Observed: "error", Err: err})
		return false
	}
	return true
}

// Check advances on the expected outcome and fails otherwise.
func (c *Call[T]) Check(err error) error {
	if c.Succeeded(err) {
		return c.Next()
	}
	return nil
}

// Expect compares want and got; on mismatch the run fails with both values
// and false is returned.
func (c *Call[T]) Expect(what string, want, got any, opts ...cmp.Option) bool {
	if cmp.Equal(want, got, opts...) {
		return true
	}
	_ = c.Fail(&StepError{Step: c.Name, Index: c.Index, What: what, Expected: want, Observed: got})
	return false
}
