package stepseq

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NoopObserver discards all observer events.
type NoopObserver struct{}

func (NoopObserver) OnStepStart(context.Context, StepInfo) {}
func (NoopObserver) OnStepDone(context.Context, StepInfo) {}
func (NoopObserver) OnStepFailed(context.Context, StepInfo, error) {}
func (NoopObserver) OnWait(context.Context, StepInfo, time.Duration) {}
func (NoopObserver) OnRunComplete(context.Context, Result) {}
func (NoopObserver) OnMisuse(context.Context, StepInfo, error) {}
func (NoopObserver) OnJournalError(context.Context, Entry, error) {}

// LogObserver writes structured events through zerolog.
type LogObserver struct {
	Logger zerolog.Logger
}

// NewLogObserver tags every event with component=stepseq.
func NewLogObserver(l zerolog.Logger) LogObserver {
	return LogObserver{Logger: l.With().Str("component", "stepseq").Logger()}
}

func (o LogObserver) step(ev *zerolog.Event, info StepInfo) *zerolog.Event {
	ev = ev.Str("run", info.RunID).
		Str("step", info.Step).
		Int("index", info.Index)
	if info.Scenario != "" {
		ev = ev.Str("scenario", info.Scenario)
	}
	if len(info.Args) > 0 {
		ev = ev.Strs("args", renderTokens(info.Args))
	}
	return ev
}

func (o LogObserver) OnStepStart(_ context.Context, info StepInfo) {
	o.step(o.Logger.Debug(), info).Msg("step started")
}

func (o LogObserver) OnStepDone(_ context.Context, info StepInfo) {
	o.step(o.Logger.Debug(), info).Msg("step done")
}

func (o LogObserver) OnStepFailed(_ context.Context, info StepInfo, err error) {
	o.step(o.Logger.Error(), info).Err(err).Msg("step failed")
}

func (o LogObserver) OnWait(_ context.Context, info StepInfo, d time.Duration) {
	o.step(o.Logger.Debug(), info).Dur("after", d).Msg("wait scheduled")
}

func (o LogObserver) OnRunComplete(_ context.Context, res Result) {
	ev := o.Logger.Info()
	if !res.Passed() {
		ev = o.Logger.Warn().Err(res.Err)
	}
	ev.Str("run", res.RunID).
		Str("scenario", res.Scenario).
		Str("status", res.Status.String()).
		Int("steps", len(res.Executed)).
		Dur("elapsed", res.Finished.Sub(res.Started)).
		Msg("run completed")
}

func (o LogObserver) OnMisuse(_ context.Context, info StepInfo, err error) {
	o.step(o.Logger.Warn(), info).Err(err).Msg("step advanced twice")
}

func (o LogObserver) OnJournalError(_ context.Context, e Entry, err error) {
	o.Logger.Error().Err(err).
		Str("run", e.RunID).
		Str("kind", string(e.Kind)).
		Int("seq", e.Seq).
		Msg("journal append failed")
}
