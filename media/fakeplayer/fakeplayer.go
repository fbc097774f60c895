// Package fakeplayer is an in-process media player with the state machine of
// the platform player. Callbacks are delivered from a per-player goroutine in
// the order operations were issued.
package fakeplayer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/neonlab-dev/stepseq/media"
)

// Op names a player operation for fault injection.
type Op string

const (
	OpCreate           Op = "create"
	OpSetSurface       Op = "setSurface"
	OpPrepare          Op = "prepare"
	OpPlay             Op = "play"
	OpPause            Op = "pause"
	OpStop             Op = "stop"
	OpReset            Op = "reset"
	OpRelease          Op = "release"
	OpSeek             Op = "seek"
	OpSetVolume        Op = "setVolume"
	OpSetSpeed         Op = "setSpeed"
	OpTrackDescription Op = "getTrackDescription"
)

type config struct {
	duration int
	width    int
	height   int
	keyframe int
	tracks   []media.TrackDescription
	latency  time.Duration
	faults   map[Op]error
	now      func() time.Time
}

// Option configures players produced by New.
type Option func(*config)

// WithDuration sets the media duration in milliseconds.
func WithDuration(ms int) Option {
	return func(c *config) { c.duration = ms }
}

// WithSize sets the video dimensions.
func WithSize(width, height int) Option {
	return func(c *config) {
		c.width = width
		c.height = height
	}
}

// WithKeyframeInterval sets the sync frame spacing used by sync seek modes.
func WithKeyframeInterval(ms int) Option {
	return func(c *config) {
		if ms > 0 {
			c.keyframe = ms
		}
	}
}

// WithTracks replaces the reported track descriptions.
func WithTracks(tracks ...media.TrackDescription) Option {
	return func(c *config) { c.tracks = append([]media.TrackDescription(nil), tracks...) }
}

// WithLatency delays every callback by d.
func WithLatency(d time.Duration) Option {
	return func(c *config) { c.latency = d }
}

// WithFault makes op always fail with err.
func WithFault(op Op, err error) Option {
	return func(c *config) { c.faults[op] = err }
}

// WithClock overrides the time source used for playback position.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

func defaultConfig() config {
	return config{
		duration: 10000,
		width:    720,
		height:   480,
		keyframe: 1000,
		tracks: []media.TrackDescription{
			{Index: 0, MediaType: "video", CodecMime: "video/avc", Bitrate: 1366541, Width: 720, Height: 480, FrameRate: 30},
			{Index: 1, MediaType: "audio", CodecMime: "audio/mp4a-latm", Bitrate: 129236, SampleRate: 44100, ChannelCount: 2},
		},
		faults: make(map[Op]error),
		now:    time.Now,
	}
}

// New returns a factory producing simulated players.
func New(opts ...Option) media.Factory {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(source string, done func(media.Player, error)) {
		if err := cfg.faults[OpCreate]; err != nil {
			go done(nil, err)
			return
		}
		p := newPlayer(source, cfg)
		go done(p, nil)
	}
}

// Player is a simulated media player.
type Player struct {
	cfg    config
	source string

	mu          sync.Mutex
	state       media.State
	surface     string
	position    int
	playStarted time.Time
	volume      float64
	speed       media.Speed

	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []func()
	stopped bool
}

func newPlayer(source string, cfg config) *Player {
	p := &Player{
		cfg:    cfg,
		source: source,
		state:  media.StateIdle,
		volume: 1,
		speed:  media.Speed100X,
	}
	p.qcond = sync.NewCond(&p.qmu)
	go p.serve()
	return p
}

func (p *Player) serve() {
	for {
		p.qmu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.qcond.Wait()
		}
		if len(p.queue) == 0 {
			p.qmu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.qmu.Unlock()

		if p.cfg.latency > 0 {
			time.Sleep(p.cfg.latency)
		}
		fn()
	}
}

func (p *Player) enqueue(fn func()) bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.stopped {
		return false
	}
	p.queue = append(p.queue, fn)
	p.qcond.Signal()
	return true
}

func (p *Player) shutdown() {
	p.qmu.Lock()
	p.stopped = true
	p.qcond.Signal()
	p.qmu.Unlock()
}

// do runs apply on the player goroutine under the state lock and reports through done.
func (p *Player) do(op Op, apply func() error, done func(error)) {
	ok := p.enqueue(func() {
		err := p.cfg.faults[op]
		if err == nil {
			p.mu.Lock()
			p.refreshLocked()
			if p.state == media.StateReleased {
				err = fmt.Errorf("%w: %s", media.ErrReleased, op)
			} else {
				err = apply()
			}
			p.mu.Unlock()
		}
		done(err)
	})
	if !ok {
		go done(fmt.Errorf("%w: %s", media.ErrReleased, op))
	}
}

func (p *Player) positionLocked() int {
	if p.state != media.StatePlaying {
		return p.position
	}
	elapsed := p.cfg.now().Sub(p.playStarted)
	pos := p.position + int(float64(elapsed.Milliseconds())*p.speed.Factor())
	if pos > p.cfg.duration {
		return p.cfg.duration
	}
	return pos
}

// refreshLocked moves a playing player to completed once it reached the end.
func (p *Player) refreshLocked() {
	if p.state == media.StatePlaying && p.positionLocked() >= p.cfg.duration {
		p.position = p.cfg.duration
		p.state = media.StateCompleted
	}
}

func (p *Player) requireLocked(op Op, states ...media.State) error {
	for _, st := range states {
		if p.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", media.ErrInvalidState, op, p.state)
}

func (p *Player) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	return p.state
}

func (p *Player) Duration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == media.StateIdle {
		return -1
	}
	return p.cfg.duration
}

func (p *Player) Width() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == media.StateIdle {
		return 0
	}
	return p.cfg.width
}

func (p *Player) Height() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == media.StateIdle {
		return 0
	}
	return p.cfg.height
}

func (p *Player) CurrentTime() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) Speed() media.Speed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *Player) SetSurface(id string, done func(error)) {
	p.do(OpSetSurface, func() error {
		if err := p.requireLocked(OpSetSurface, media.StateIdle); err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("%w: empty surface id", media.ErrInvalidArgument)
		}
		p.surface = id
		return nil
	}, done)
}

func (p *Player) Prepare(done func(error)) {
	p.do(OpPrepare, func() error {
		if err := p.requireLocked(OpPrepare, media.StateIdle, media.StateStopped); err != nil {
			return err
		}
		if p.source == "" {
			return media.ErrNoSource
		}
		if p.surface == "" {
			return media.ErrNoSurface
		}
		p.position = 0
		p.state = media.StatePrepared
		return nil
	}, done)
}

func (p *Player) Play(done func(error)) {
	p.do(OpPlay, func() error {
		if err := p.requireLocked(OpPlay, media.StatePrepared, media.StatePaused, media.StateCompleted); err != nil {
			return err
		}
		if p.state == media.StateCompleted {
			p.position = 0
		}
		p.playStarted = p.cfg.now()
		p.state = media.StatePlaying
		return nil
	}, done)
}

func (p *Player) Pause(done func(error)) {
	p.do(OpPause, func() error {
		if err := p.requireLocked(OpPause, media.StatePlaying); err != nil {
			return err
		}
		p.position = p.positionLocked()
		p.state = media.StatePaused
		return nil
	}, done)
}

func (p *Player) Stop(done func(error)) {
	p.do(OpStop, func() error {
		if err := p.requireLocked(OpStop, media.StatePrepared, media.StatePlaying, media.StatePaused, media.StateCompleted); err != nil {
			return err
		}
		p.position = 0
		p.state = media.StateStopped
		return nil
	}, done)
}

func (p *Player) Reset(done func(error)) {
	p.do(OpReset, func() error {
		p.position = 0
		p.volume = 1
		p.speed = media.Speed100X
		p.state = media.StateIdle
		return nil
	}, done)
}

func (p *Player) Release(done func(error)) {
	p.do(OpRelease, func() error {
		p.state = media.StateReleased
		p.shutdown()
		return nil
	}, done)
}

var seekable = []media.State{media.StatePrepared, media.StatePlaying, media.StatePaused, media.StateCompleted}

func (p *Player) Seek(ms int, done func(int, error)) {
	p.SeekWithMode(ms, media.SeekClosest, done)
}

func (p *Player) SeekWithMode(ms int, mode media.SeekMode, done func(int, error)) {
	var pos int
	p.do(OpSeek, func() error {
		if err := p.requireLocked(OpSeek, seekable...); err != nil {
			return err
		}
		if ms < 0 {
			return fmt.Errorf("%w: seek to %d", media.ErrInvalidArgument, ms)
		}
		pos = p.snap(min(ms, p.cfg.duration), mode)
		p.position = pos
		if p.state == media.StatePlaying {
			p.playStarted = p.cfg.now()
		}
		return nil
	}, func(err error) { done(pos, err) })
}

func (p *Player) snap(target int, mode media.SeekMode) int {
	k := float64(p.cfg.keyframe)
	var pos int
	switch mode {
	case media.SeekNextSync:
		pos = int(math.Ceil(float64(target)/k) * k)
	case media.SeekPrevSync:
		pos = int(math.Floor(float64(target)/k) * k)
	case media.SeekClosestSync:
		pos = int(math.Round(float64(target)/k) * k)
	default:
		pos = target
	}
	return min(pos, p.cfg.duration)
}

func (p *Player) SetVolume(v float64, done func(error)) {
	p.do(OpSetVolume, func() error {
		if err := p.requireLocked(OpSetVolume, seekable...); err != nil {
			return err
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: volume %v", media.ErrInvalidArgument, v)
		}
		p.volume = v
		return nil
	}, done)
}

func (p *Player) SetSpeed(s media.Speed, done func(media.Speed, error)) {
	p.do(OpSetSpeed, func() error {
		if err := p.requireLocked(OpSetSpeed, seekable...); err != nil {
			return err
		}
		if !s.Valid() {
			return fmt.Errorf("%w: speed %d", media.ErrInvalidArgument, int(s))
		}
		if p.state == media.StatePlaying {
			p.position = p.positionLocked()
			p.playStarted = p.cfg.now()
		}
		p.speed = s
		return nil
	}, func(err error) {
		if err != nil {
			done(0, err)
			return
		}
		done(s, nil)
	})
}

func (p *Player) TrackDescription(done func([]media.TrackDescription, error)) {
	var tracks []media.TrackDescription
	p.do(OpTrackDescription, func() error {
		if err := p.requireLocked(OpTrackDescription, seekable...); err != nil {
			return err
		}
		tracks = append([]media.TrackDescription(nil), p.cfg.tracks...)
		return nil
	}, func(err error) { done(tracks, err) })
}

var _ media.Player = (*Player)(nil)
