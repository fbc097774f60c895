package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/neonlab-dev/stepseq"
)

// Step names registered by Register.
const (
	StepCreate           = "create"
	StepSetSurface       = "setSurface"
	StepPrepare          = "prepare"
	StepPlay             = "play"
	StepPause            = "pause"
	StepStop             = "stop"
	StepReset            = "reset"
	StepRelease          = "release"
	StepSeek             = "seek"
	StepSeekMode         = "seekMode"
	StepSetVolume        = "setVolume"
	StepSetSpeed         = "setSpeed"
	StepTrackDescription = "getTrackDescription"
)

// DefaultSurface is used when Options.Surface is empty.
const DefaultSurface = "surface-0"

// Options configures the media steps.
type Options struct {
	NewPlayer Factory
	Source    string
	Surface   string

	// Values asserted after prepare and getTrackDescription; zero skips the check.
	Duration int
	Width    int
	Height   int
	Tracks   int
}

// Register installs one step per player operation into reg.
func Register(reg *stepseq.Registry[Player], opts Options) error {
	if reg == nil {
		return errors.New("media: nil registry")
	}
	if opts.NewPlayer == nil {
		return errors.New("media: nil player factory")
	}
	if opts.Surface == "" {
		opts.Surface = DefaultSurface
	}

	type entry struct {
		name string
		h    stepseq.Handler[Player]
		opts []stepseq.StepOption
	}
	entries := []entry{
		{StepCreate, createStep(opts), []stepseq.StepOption{stepseq.Creates(), stepseq.WithDescription("create the player for the configured source")}},
		{StepSetSurface, setSurfaceStep(opts.Surface), []stepseq.StepOption{stepseq.WithDescription("attach the display surface")}},
		{StepPrepare, prepareStep(opts), []stepseq.StepOption{stepseq.WithDescription("prepare and check duration and size")}},
		{StepPlay, transitionStep(Player.Play, StatePlaying), []stepseq.StepOption{stepseq.WithDescription("start playback")}},
		{StepPause, transitionStep(Player.Pause, StatePaused), []stepseq.StepOption{stepseq.WithDescription("pause playback")}},
		{StepStop, transitionStep(Player.Stop, StateStopped), []stepseq.StepOption{stepseq.WithDescription("stop playback")}},
		{StepReset, transitionStep(Player.Reset, StateIdle), []stepseq.StepOption{stepseq.WithDescription("reset to idle")}},
		{StepRelease, transitionStep(Player.Release, StateReleased), []stepseq.StepOption{stepseq.WithDescription("release the player")}},
		{StepSeek, seekStep(), []stepseq.StepOption{stepseq.WithParams(1), stepseq.WithDescription("seek to N milliseconds")}},
		{StepSeekMode, seekModeStep(), []stepseq.StepOption{stepseq.WithParams(2), stepseq.WithDescription("seek to N milliseconds with a seek mode")}},
		{StepSetVolume, setVolumeStep(), []stepseq.StepOption{stepseq.WithParams(1), stepseq.WithDescription("set volume in [0,1]")}},
		{StepSetSpeed, setSpeedStep(), []stepseq.StepOption{stepseq.WithParams(1), stepseq.WithDescription("set playback speed")}},
		{StepTrackDescription, trackDescriptionStep(opts.Tracks), []stepseq.StepOption{stepseq.WithDescription("fetch and check track descriptions")}},
	}
	for _, e := range entries {
		if err := reg.Register(e.name, e.h, e.opts...); err != nil {
			return err
		}
	}
	return nil
}

// Teardown releases a player the scenario left behind; pass it as
// stepseq.Config.Teardown.
func Teardown(_ context.Context, p Player) {
	if p == nil || p.State() == StateReleased {
		return
	}
	p.Release(func(error) {})
}

func createStep(opts Options) stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		stepseq.InvokeValue(c,
			func(done func(Player, error)) { opts.NewPlayer(opts.Source, done) },
			func(p Player, err error) {
				if !c.Succeeded(err) {
					return
				}
				if p == nil {
					_ = c.Failf("factory reported no player")
					return
				}
				if err := c.SetTarget(p); err != nil {
					_ = c.Fail(err)
					return
				}
				if !c.Expect("state", StateIdle, p.State()) {
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

func setSurfaceStep(surface string) stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		p := c.Target()
		stepseq.Invoke(c,
			func(done func(error)) { p.SetSurface(surface, done) },
			func(err error) { _ = c.Check(err) })
		return nil
	}
}

func prepareStep(opts Options) stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		p := c.Target()
		stepseq.Invoke(c, p.Prepare, func(err error) {
			if !c.Succeeded(err) {
				return
			}
			if !c.Expect("state", StatePrepared, p.State()) {
				return
			}
			if opts.Duration != 0 && !c.Expect("duration", opts.Duration, p.Duration()) {
				return
			}
			if opts.Width != 0 && !c.Expect("width", opts.Width, p.Width()) {
				return
			}
			if opts.Height != 0 && !c.Expect("height", opts.Height, p.Height()) {
				return
			}
			_ = c.Next()
		})
		return nil
	}
}

// transitionStep issues op and asserts the state it must leave the player in.
func transitionStep(op func(Player, func(error)), want State) stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		p := c.Target()
		stepseq.Invoke(c,
			func(done func(error)) { op(p, done) },
			func(err error) {
				if !c.Succeeded(err) {
					return
				}
				if !c.Expect("state", want, p.State()) {
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

// rejectArg settles a step whose parameter cannot be decoded the same way a
// platform rejection would: it advances after expectError and fails otherwise.
func rejectArg(c *stepseq.Call[Player], what string, err error) {
	c.Succeeded(fmt.Errorf("%w: %s: %w", ErrInvalidArgument, what, err))
}

func clamp(ms, duration int) int {
	if ms < 0 {
		return 0
	}
	if duration >= 0 && ms > duration {
		return duration
	}
	return ms
}

func seekStep() stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		ms, err := c.Arg(0).Int()
		if err != nil {
			rejectArg(c, "seek target", err)
			return nil
		}
		p := c.Target()
		stepseq.InvokeValue(c,
			func(done func(int, error)) { p.Seek(ms, done) },
			func(pos int, err error) {
				if !c.Succeeded(err) {
					return
				}
				if !c.Expect("seek position", clamp(ms, p.Duration()), pos) {
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

func seekModeArg(tok stepseq.Token) (SeekMode, error) {
	if m, ok := tok.Value().(SeekMode); ok {
		return m, nil
	}
	s, err := tok.Text()
	if err != nil {
		return 0, err
	}
	return ParseSeekMode(s)
}

func seekModeStep() stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		ms, err := c.Arg(0).Int()
		if err != nil {
			rejectArg(c, "seek target", err)
			return nil
		}
		mode, err := seekModeArg(c.Arg(1))
		if err != nil {
			rejectArg(c, "seek mode", err)
			return nil
		}
		p := c.Target()
		stepseq.InvokeValue(c,
			func(done func(int, error)) { p.SeekWithMode(ms, mode, done) },
			func(pos int, err error) {
				if !c.Succeeded(err) {
					return
				}
				dur := p.Duration()
				target := clamp(ms, dur)
				ok := true
				switch mode {
				case SeekClosest:
					ok = pos == target
				case SeekNextSync:
					ok = pos >= target && (dur < 0 || pos <= dur)
				case SeekPrevSync:
					ok = pos <= target && pos >= 0
				case SeekClosestSync:
					ok = pos >= 0 && (dur < 0 || pos <= dur)
				}
				if !ok {
					_ = c.Fail(&stepseq.StepError{
						Step:     c.Name,
						Index:    c.Index,
						What:     "seek position (" + mode.String() + ")",
						Expected: target,
						Observed: pos,
					})
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

func setVolumeStep() stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		v, err := c.Arg(0).Float()
		if err != nil {
			rejectArg(c, "volume", err)
			return nil
		}
		p := c.Target()
		stepseq.Invoke(c,
			func(done func(error)) { p.SetVolume(v, done) },
			func(err error) {
				if !c.Succeeded(err) {
					return
				}
				if !c.Expect("volume", v, p.Volume()) {
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

func speedArg(tok stepseq.Token) (Speed, error) {
	switch v := tok.Value().(type) {
	case Speed:
		return v, nil
	case string:
		return ParseSpeed(v)
	case int, int64, float32, float64:
		f, err := tok.Float()
		if err != nil {
			return 0, err
		}
		return SpeedForFactor(f)
	}
	s, err := tok.Text()
	if err != nil {
		return 0, err
	}
	return ParseSpeed(s)
}

func setSpeedStep() stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		speed, err := speedArg(c.Arg(0))
		if err != nil {
			rejectArg(c, "speed", err)
			return nil
		}
		p := c.Target()
		stepseq.InvokeValue(c,
			func(done func(Speed, error)) { p.SetSpeed(speed, done) },
			func(got Speed, err error) {
				if !c.Succeeded(err) {
					return
				}
				if !c.Expect("speed", speed, got) {
					return
				}
				if !c.Expect("speed property", speed, p.Speed()) {
					return
				}
				_ = c.Next()
			})
		return nil
	}
}

func trackDescriptionStep(want int) stepseq.Handler[Player] {
	return func(ctx context.Context, c *stepseq.Call[Player]) error {
		p := c.Target()
		stepseq.InvokeValue(c, p.TrackDescription, func(tracks []TrackDescription, err error) {
			if !c.Succeeded(err) {
				return
			}
			if want > 0 {
				if !c.Expect("track count", want, len(tracks)) {
					return
				}
			} else if len(tracks) == 0 {
				_ = c.Fail(&stepseq.StepError{Step: c.Name, Index: c.Index, What: "track count", Expected: "at least one", Observed: 0})
				return
			}
			for _, tr := range tracks {
				if tr.MediaType != "audio" && tr.MediaType != "video" {
					_ = c.Fail(&stepseq.StepError{Step: c.Name, Index: c.Index, What: fmt.Sprintf("track %d media type", tr.Index), Expected: "audio|video", Observed: tr.MediaType})
					return
				}
			}
			_ = c.Next()
		})
		return nil
	}
}
