package stepseq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config defines Sequencer construction-time options.
type Config[T any] struct {
	Name           string
	Registry       *Registry[T]
	Observer       Observer
	Middlewares    []Middleware[T]
	Journal        Journal
	OnJournalError JournalErrorHandler
	// NewRunID defaults to random UUIDs.
	NewRunID func() string
	// Teardown receives the run's target once the run completes, passed or
	// failed, including targets seeded with WithTarget. It is not called
	// for runs that never got a target.
	Teardown func(ctx context.Context, target T)
}

// Sequencer drives step lists against a target of type T, one run per scenario.
type Sequencer[T any] struct {
	name     string
	registry *Registry[T]
	handlers map[string]Handler[T]

	observer    Observer
	journal     Journal
	journalHook JournalErrorHandler
	newRunID    func() string
	teardown    func(ctx context.Context, target T)

	timerMu sync.Mutex
	timers  map[*time.Timer]func() // pending wait timers and their cancel paths

	runsWG sync.WaitGroup
	closed atomic.Bool
}

// New creates a Sequencer and freezes its registry.
func New[T any](cfg Config[T]) *Sequencer[T] {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry[T]()
	}
	reg.Freeze()

	var obs Observer = NoopObserver{}
	if cfg.Observer != nil {
		obs = cfg.Observer
	}
	newID := cfg.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}

	s := &Sequencer[T]{
		name:        cfg.Name,
		registry:    reg,
		handlers:    make(map[string]Handler[T]),
		observer:    obs,
		journal:     cfg.Journal,
		journalHook: cfg.OnJournalError,
		newRunID:    newID,
		teardown:    cfg.Teardown,
		timers:      make(map[*time.Timer]func()),
	}
	for _, name := range reg.Names() {
		def, _ := reg.lookup(name)
		if def.handler == nil {
			continue
		}
		wrapped := def.handler
		for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
			wrapped = cfg.Middlewares[i](wrapped)
		}
		s.handlers[name] = wrapped
	}
	return s
}

// Name returns the configured sequencer name.
func (s *Sequencer[T]) Name() string { return s.name }

// Registry returns the (frozen) registry backing the sequencer.
func (s *Sequencer[T]) Registry() *Registry[T] { return s.registry }

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	id        string
	scenario  string
	style     Style
	target    any
	hasTarget bool
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.id = id }
}

// WithScenario names the scenario the run belongs to.
func WithScenario(name string) RunOption {
	return func(o *runOptions) { o.scenario = name }
}

// WithStyle selects the invocation style handlers use for their operation.
func WithStyle(st Style) RunOption {
	return func(o *runOptions) { o.style = st }
}

// WithTarget seeds the run with an existing target; no creation step is needed.
func WithTarget(target any) RunOption {
	return func(o *runOptions) {
		o.target = target
		o.hasTarget = true
	}
}

// NewRun validates steps and returns an idle run.
func (s *Sequencer[T]) NewRun(steps []Token, opts ...RunOption) (*Run[T], error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := s.registry.Plan(o.scenario, steps); err != nil {
		return nil, err
	}

	r := &Run[T]{
		seq:      s,
		id:       o.id,
		scenario: o.scenario,
		style:    o.style,
		steps:    append([]Token(nil), steps...),
		state:    StateIdle,
		ctx:      context.Background(),
		doneCh:   make(chan struct{}),
	}
	if r.id == "" {
		r.id = s.newRunID()
	}
	if o.hasTarget {
		t, ok := o.target.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("stepseq: target of type %T is not %T", o.target, zero)
		}
		r.target = t
		r.hasTarget = true
	}
	return r, nil
}

// Start validates steps and begins dispatching them. done is invoked exactly once.
func (s *Sequencer[T]) Start(ctx context.Context, steps []Token, done func(Result), opts ...RunOption) (*Run[T], error) {
	r, err := s.NewRun(steps, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Start(ctx, done); err != nil {
		return nil, err
	}
	return r, nil
}

// Run starts steps and blocks until the run completes or ctx is done.
// A ctx deadline stands in for the enclosing test timeout: the chain
// itself is not aborted and still completes on its own.
func (s *Sequencer[T]) Run(ctx context.Context, steps []Token, opts ...RunOption) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resCh := make(chan Result, 1)
	r, err := s.Start(ctx, steps, func(res Result) { resCh <- res }, opts...)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-resCh:
		return res, nil
	case <-ctx.Done():
		return Result{RunID: r.ID(), Scenario: r.Scenario(), Executed: r.Executed()}, ctx.Err()
	}
}

// after schedules fn; cancel runs instead if Close stops the timer first.
func (s *Sequencer[T]) after(d time.Duration, fn, cancel func()) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.timerMu.Lock()
		delete(s.timers, t)
		s.timerMu.Unlock()
		fn()
	})
	s.timers[t] = cancel
}

// Close refuses new runs, fails runs parked on a wait timer, and waits for in-flight runs to drain.
func (s *Sequencer[T]) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.timerMu.Lock()
	timers := s.timers
	s.timers = make(map[*time.Timer]func())
	s.timerMu.Unlock()

	for t, cancel := range timers {
		if t.Stop() {
			cancel()
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	waitCh := make(chan struct{})
	go func() {
		s.runsWG.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
	}
	return nil
}
