package fakeplayer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neonlab-dev/stepseq/media"
)

func await(t *testing.T, op func(done func(error))) error {
	t.Helper()
	ch := make(chan error, 1)
	op(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
		return nil
	}
}

func awaitPos(t *testing.T, op func(done func(int, error))) (int, error) {
	t.Helper()
	type out struct {
		pos int
		err error
	}
	ch := make(chan out, 1)
	op(func(pos int, err error) { ch <- out{pos, err} })
	select {
	case o := <-ch:
		return o.pos, o.err
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
		return 0, nil
	}
}

func newTestPlayer(t *testing.T, opts ...Option) *Player {
	t.Helper()
	ch := make(chan media.Player, 1)
	New(opts...)("file:///clip.mp4", func(p media.Player, err error) {
		require.NoError(t, err)
		ch <- p
	})
	p := (<-ch).(*Player)
	t.Cleanup(func() { p.Release(func(error) {}) })
	return p
}

func prepared(t *testing.T, opts ...Option) *Player {
	t.Helper()
	p := newTestPlayer(t, opts...)
	require.NoError(t, await(t, func(done func(error)) { p.SetSurface("s0", done) }))
	require.NoError(t, await(t, p.Prepare))
	return p
}

func TestLifecycle(t *testing.T) {
	p := newTestPlayer(t)
	assert.Equal(t, media.StateIdle, p.State())
	assert.Equal(t, -1, p.Duration())
	assert.Equal(t, 0, p.Width())

	err := await(t, p.Prepare)
	assert.True(t, errors.Is(err, media.ErrNoSurface), "%v", err)

	require.NoError(t, await(t, func(done func(error)) { p.SetSurface("s0", done) }))
	require.NoError(t, await(t, p.Prepare))
	assert.Equal(t, media.StatePrepared, p.State())
	assert.Equal(t, 10000, p.Duration())
	assert.Equal(t, 720, p.Width())
	assert.Equal(t, 480, p.Height())

	require.NoError(t, await(t, p.Play))
	assert.Equal(t, media.StatePlaying, p.State())
	require.NoError(t, await(t, p.Pause))
	assert.Equal(t, media.StatePaused, p.State())
	require.NoError(t, await(t, p.Stop))
	assert.Equal(t, media.StateStopped, p.State())
	require.NoError(t, await(t, p.Prepare))
	require.NoError(t, await(t, p.Reset))
	assert.Equal(t, media.StateIdle, p.State())

	require.NoError(t, await(t, p.Release))
	assert.Equal(t, media.StateReleased, p.State())
	err = await(t, p.Play)
	assert.True(t, errors.Is(err, media.ErrReleased), "%v", err)
}

func TestInvalidTransitions(t *testing.T) {
	p := newTestPlayer(t)
	for name, op := range map[string]func(func(error)){"play": p.Play, "pause": p.Pause, "stop": p.Stop} {
		err := await(t, op)
		assert.True(t, errors.Is(err, media.ErrInvalidState), "%s: %v", name, err)
	}
	err := await(t, func(done func(error)) { p.SetSurface("", done) })
	assert.True(t, errors.Is(err, media.ErrInvalidArgument), "%v", err)
}

func TestSeekSnapsToKeyframes(t *testing.T) {
	p := prepared(t, WithKeyframeInterval(1000), WithDuration(9500))

	cases := []struct {
		mode media.SeekMode
		ms   int
		want int
	}{
		{media.SeekClosest, 2500, 2500},
		{media.SeekNextSync, 2500, 3000},
		{media.SeekPrevSync, 2500, 2000},
		{media.SeekClosestSync, 2400, 2000},
		{media.SeekNextSync, 9400, 9500},
		{media.SeekClosest, 20000, 9500},
	}
	for _, tc := range cases {
		pos, err := awaitPos(t, func(done func(int, error)) { p.SeekWithMode(tc.ms, tc.mode, done) })
		require.NoError(t, err)
		assert.Equal(t, tc.want, pos, "%s %d", tc.mode, tc.ms)
		assert.Equal(t, tc.want, p.CurrentTime())
	}

	_, err := awaitPos(t, func(done func(int, error)) { p.Seek(-1, done) })
	assert.True(t, errors.Is(err, media.ErrInvalidArgument), "%v", err)
}

func TestPlaybackPositionFollowsClockAndSpeed(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	p := prepared(t, WithClock(clock), WithDuration(5000))
	require.NoError(t, await(t, p.Play))
	advance(time.Second)
	assert.Equal(t, 1000, p.CurrentTime())

	speedCh := make(chan media.Speed, 1)
	p.SetSpeed(media.Speed200X, func(s media.Speed, err error) {
		require.NoError(t, err)
		speedCh <- s
	})
	assert.Equal(t, media.Speed200X, <-speedCh)
	advance(time.Second)
	assert.Equal(t, 3000, p.CurrentTime())

	advance(5 * time.Second)
	assert.Equal(t, media.StateCompleted, p.State())
	assert.Equal(t, 5000, p.CurrentTime())

	// play from completed restarts
	require.NoError(t, await(t, p.Play))
	assert.Equal(t, 0, p.CurrentTime())
}

func TestVolumeAndSpeedValidation(t *testing.T) {
	p := prepared(t)
	require.NoError(t, await(t, func(done func(error)) { p.SetVolume(0.25, done) }))
	assert.Equal(t, 0.25, p.Volume())

	err := await(t, func(done func(error)) { p.SetVolume(-0.1, done) })
	assert.True(t, errors.Is(err, media.ErrInvalidArgument), "%v", err)

	errCh := make(chan error, 1)
	p.SetSpeed(media.Speed(42), func(_ media.Speed, err error) { errCh <- err })
	assert.True(t, errors.Is(<-errCh, media.ErrInvalidArgument))
	assert.Equal(t, media.Speed100X, p.Speed())
}

func TestTrackDescriptionCopies(t *testing.T) {
	p := prepared(t)
	ch := make(chan []media.TrackDescription, 1)
	p.TrackDescription(func(tracks []media.TrackDescription, err error) {
		require.NoError(t, err)
		ch <- tracks
	})
	tracks := <-ch
	require.Len(t, tracks, 2)
	tracks[0].MediaType = "mutated"

	p.TrackDescription(func(tracks []media.TrackDescription, err error) { ch <- tracks })
	assert.Equal(t, "video", (<-ch)[0].MediaType)
}

func TestFaultInjection(t *testing.T) {
	boom := errors.New("boom")
	p := newTestPlayer(t, WithFault(OpSetSurface, boom))
	err := await(t, func(done func(error)) { p.SetSurface("s0", done) })
	assert.Same(t, boom, err)

	errCh := make(chan error, 1)
	New(WithFault(OpCreate, boom))("src", func(p media.Player, err error) {
		assert.Nil(t, p)
		errCh <- err
	})
	assert.Same(t, boom, <-errCh)
}

func TestCallbacksPreserveIssueOrder(t *testing.T) {
	p := prepared(t, WithLatency(time.Millisecond))
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Seek(i*100, func(pos int, err error) {
			defer wg.Done()
			mu.Lock()
			order = append(order, pos)
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{0, 100, 200, 300, 400, 500, 600, 700, 800, 900}, order)
}
