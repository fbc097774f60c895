package stepseq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownStep is returned when a step name has no registered handler.
	ErrUnknownStep = errors.New("stepseq: unknown step")
	// ErrDuplicateStep is returned when a name is registered twice.
	ErrDuplicateStep = errors.New("stepseq: duplicate step")
	// ErrReservedStep is returned when registering one of the built-in names.
	ErrReservedStep = errors.New("stepseq: reserved step name")
	// ErrRegistryFrozen is returned when registering after a sequencer took ownership of the registry.
	ErrRegistryFrozen = errors.New("stepseq: registry frozen")
	// ErrMissingEnd is returned when a step list does not terminate with the end token.
	ErrMissingEnd = errors.New("stepseq: step list does not end with the end token")
	// ErrMalformedSteps is returned when parameters and step names are interleaved incorrectly.
	ErrMalformedSteps = errors.New("stepseq: malformed step list")
	// ErrNoTarget indicates a step needs the target before any creation step produced it.
	ErrNoTarget = errors.New("stepseq: target not created")
	// ErrTargetReassigned indicates a non-creation step tried to replace the target.
	ErrTargetReassigned = errors.New("stepseq: target reassigned")
	// ErrAlreadyAdvanced indicates a step tried to advance the chain twice.
	ErrAlreadyAdvanced = errors.New("stepseq: step already advanced")
	// ErrCompleted indicates the run already signaled completion.
	ErrCompleted = errors.New("stepseq: run completed")
	// ErrAlreadyStarted is returned by Run.Start on a run that left the Idle state.
	ErrAlreadyStarted = errors.New("stepseq: run already started")
	// ErrClosed indicates the sequencer has been closed and no longer accepts runs.
	ErrClosed = errors.New("stepseq: closed")
)

// Built-in steps handled by the sequencer itself.
const (
	// EndStep terminates a step list and completes the run as passed.
	EndStep = "end"
	// WaitStep takes one parameter (milliseconds) and resumes the chain after a timer.
	WaitStep = "wait"
	// ExpectErrorStep marks the following step as expected to fail.
	ExpectErrorStep = "expectError"
)

// Handler performs one step against the run's target.
// A non-nil error fails the run immediately. A nil return means the handler
// issued its operation and will advance the chain exactly once through the Call.
type Handler[T any] func(ctx context.Context, c *Call[T]) error

// Middleware wraps handlers (e.g., tracing/recover/metrics).
type Middleware[T any] func(next Handler[T]) Handler[T]

// State is the lifecycle of one run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the verdict of a completed run.
type Status int

const (
	StatusPassed Status = iota + 1
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepInfo identifies one dispatched step for observers and middlewares.
type StepInfo struct {
	Sequencer string
	RunID     string
	Scenario  string
	Step      string
	Index     int
	Args      []Token
}

// Observer exposes hooks for telemetry/logging.
type Observer interface {
	OnStepStart(ctx context.Context, info StepInfo)
	OnStepDone(ctx context.Context, info StepInfo)
	OnStepFailed(ctx context.Context, info StepInfo, err error)
	OnWait(ctx context.Context, info StepInfo, d time.Duration)
	OnRunComplete(ctx context.Context, res Result)
	// OnMisuse receives advances attempted after a step already advanced or after completion.
	OnMisuse(ctx context.Context, info StepInfo, err error)
	OnJournalError(ctx context.Context, e Entry, err error)
}

// Result is delivered once per run through the completion signal.
type Result struct {
	RunID    string
	Scenario string
	Status   Status
	Executed []string
	Err      error
	Started  time.Time
	Finished time.Time
}

// Passed reports whether the run completed without failure.
func (r Result) Passed() bool { return r.Status == StatusPassed }

// StepError describes which step failed and what was expected versus observed.
type StepError struct {
	Step     string
	Index    int
	What     string
	Expected any
	Observed any
	Err      error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d (%s)", e.Index, e.Step)
	if e.What != "" {
		fmt.Fprintf(&b, " %s", e.What)
	}
	if e.Expected != nil || e.Observed != nil {
		fmt.Fprintf(&b, ": expected %v, observed %v", e.Expected, e.Observed)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// JournalErrorHandler allows callers to observe journal failures.
type JournalErrorHandler func(ctx context.Context, e Entry, err error)
