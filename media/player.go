// Package media describes the media player surface driven by step lists and
// registers one step handler per player operation.
package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidState is reported for an operation not permitted in the current state.
	ErrInvalidState = errors.New("media: operation not permitted in current state")
	// ErrInvalidArgument is reported for out of range volumes, speeds or seek targets.
	ErrInvalidArgument = errors.New("media: invalid argument")
	// ErrReleased is reported by every operation after release.
	ErrReleased = errors.New("media: player released")
	// ErrNoSurface is reported when preparing a video player without a display surface.
	ErrNoSurface = errors.New("media: display surface not set")
	// ErrNoSource is reported when preparing without a media source.
	ErrNoSource = errors.New("media: source not set")
)

// State is the player state as reported by the player itself.
type State string

const (
	StateIdle      State = "idle"
	StatePrepared  State = "prepared"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateReleased  State = "released"
	StateError     State = "error"
)

// SeekMode selects how a seek target snaps to sync frames.
type SeekMode int

const (
	SeekNextSync SeekMode = iota
	SeekPrevSync
	SeekClosestSync
	SeekClosest
)

func (m SeekMode) String() string {
	switch m {
	case SeekNextSync:
		return "SEEK_NEXT_SYNC"
	case SeekPrevSync:
		return "SEEK_PREV_SYNC"
	case SeekClosestSync:
		return "SEEK_CLOSEST_SYNC"
	case SeekClosest:
		return "SEEK_CLOSEST"
	default:
		return fmt.Sprintf("SEEK_MODE(%d)", int(m))
	}
}

// ParseSeekMode accepts the enum name (case-insensitive, with or without
// the SEEK_ prefix) or its numeric value.
func ParseSeekMode(s string) (SeekMode, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "SEEK_")
	switch norm {
	case "NEXT_SYNC", "0":
		return SeekNextSync, nil
	case "PREV_SYNC", "1":
		return SeekPrevSync, nil
	case "CLOSEST_SYNC", "2":
		return SeekClosestSync, nil
	case "CLOSEST", "3":
		return SeekClosest, nil
	}
	return 0, fmt.Errorf("%w: seek mode %q", ErrInvalidArgument, s)
}

// Speed is the playback speed enum.
type Speed int

const (
	Speed075X Speed = iota
	Speed100X
	Speed125X
	Speed175X
	Speed200X
)

// Factor returns the rate multiplier of s.
func (s Speed) Factor() float64 {
	switch s {
	case Speed075X:
		return 0.75
	case Speed125X:
		return 1.25
	case Speed175X:
		return 1.75
	case Speed200X:
		return 2
	default:
		return 1
	}
}

// Valid reports whether s is one of the defined speeds.
func (s Speed) Valid() bool { return s >= Speed075X && s <= Speed200X }

func (s Speed) String() string {
	switch s {
	case Speed075X:
		return "SPEED_FORWARD_0_75_X"
	case Speed100X:
		return "SPEED_FORWARD_1_00_X"
	case Speed125X:
		return "SPEED_FORWARD_1_25_X"
	case Speed175X:
		return "SPEED_FORWARD_1_75_X"
	case Speed200X:
		return "SPEED_FORWARD_2_00_X"
	default:
		return fmt.Sprintf("SPEED(%d)", int(s))
	}
}

// ParseSpeed accepts the enum name or a factor such as "1.25", "2" or "0.75x".
// Numbers are always factors, never enum ordinals.
func ParseSpeed(s string) (Speed, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for sp := Speed075X; sp <= Speed200X; sp++ {
		if norm == sp.String() {
			return sp, nil
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(norm, "X"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: speed %q", ErrInvalidArgument, s)
	}
	return SpeedForFactor(f)
}

// SpeedForFactor maps a rate multiplier to its enum value.
func SpeedForFactor(f float64) (Speed, error) {
	for sp := Speed075X; sp <= Speed200X; sp++ {
		if sp.Factor() == f {
			return sp, nil
		}
	}
	return 0, fmt.Errorf("%w: speed factor %v", ErrInvalidArgument, f)
}

// TrackDescription describes one elementary stream of the source.
type TrackDescription struct {
	Index        int
	MediaType    string // "audio" or "video"
	CodecMime    string
	Bitrate      int
	Width        int
	Height       int
	FrameRate    float64
	SampleRate   int
	ChannelCount int
}

// Player is the contract the media steps require from a player handle.
// Every mutating operation reports exactly once through its callback,
// usually from another goroutine.
type Player interface {
	State() State
	Duration() int // milliseconds, -1 when unknown
	Width() int
	Height() int
	CurrentTime() int // milliseconds
	Volume() float64
	Speed() Speed

	SetSurface(id string, done func(error))
	Prepare(done func(error))
	Play(done func(error))
	Pause(done func(error))
	Stop(done func(error))
	Reset(done func(error))
	Release(done func(error))
	Seek(ms int, done func(int, error))
	SeekWithMode(ms int, mode SeekMode, done func(int, error))
	SetVolume(v float64, done func(error))
	SetSpeed(s Speed, done func(Speed, error))
	TrackDescription(done func([]TrackDescription, error))
}

// Factory creates a player for source and reports it through done.
type Factory func(source string, done func(Player, error))
