package xyscreens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jkaflik/screens2mqtt/internal/screen"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = []byte{0xAA, 0xEE, 0xEE}

type fakeTransport struct {
	mu   sync.Mutex
	err  error
	sent [][]byte
}

func (t *fakeTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}

	p := make([]byte, len(payload))
	copy(p, payload)
	t.sent = append(t.sent, p)
	return nil
}

func (t *fakeTransport) count(op byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.sent {
		if p[len(p)-1] == op {
			n++
		}
	}
	return n
}

func newTestScreen(t *testing.T, travel time.Duration, initialPosition float64) (*Screen, *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{}
	s, err := New("test", transport, testAddress, travel, 0, initialPosition)
	require.NoError(t, err)
	return s, transport
}

func TestNew(t *testing.T) {
	t.Run("initial position derives the state", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Minute, 0)
		assert.Equal(t, screen.Up, s.State())
		assert.Equal(t, 0., s.Position())

		s, _ = newTestScreen(t, time.Minute, 100)
		assert.Equal(t, screen.Down, s.State())
		assert.Equal(t, 100., s.Position())

		s, _ = newTestScreen(t, time.Minute, 50)
		assert.Equal(t, screen.Stopped, s.State())
		assert.Equal(t, 50., s.Position())
	})

	t.Run("non-positive down duration is refused", func(t *testing.T) {
		_, err := New("test", &fakeTransport{}, testAddress, 0, 0, 0)
		assert.True(t, errors.Is(err, ErrInvalidDuration))

		_, err = New("test", &fakeTransport{}, testAddress, -time.Second, 0, 0)
		assert.True(t, errors.Is(err, ErrInvalidDuration))
	})

	t.Run("out of range initial position is refused", func(t *testing.T) {
		_, err := New("test", &fakeTransport{}, testAddress, time.Minute, 0, -0.001)
		assert.True(t, errors.Is(err, ErrInvalidPosition))

		_, err = New("test", &fakeTransport{}, testAddress, time.Minute, 0, 100.001)
		assert.True(t, errors.Is(err, ErrInvalidPosition))
	})
}

func TestRestorePosition(t *testing.T) {
	s, _ := newTestScreen(t, time.Minute, 0)

	t.Run("endpoints restore the endpoint states", func(t *testing.T) {
		require.NoError(t, s.RestorePosition(100))
		assert.Equal(t, screen.Down, s.State())
		assert.Equal(t, 100., s.Position())

		require.NoError(t, s.RestorePosition(0))
		assert.Equal(t, screen.Up, s.State())
		assert.Equal(t, 0., s.Position())
	})

	t.Run("anything in between restores stopped", func(t *testing.T) {
		require.NoError(t, s.RestorePosition(50))
		assert.Equal(t, screen.Stopped, s.State())
		assert.Equal(t, 50., s.Position())
	})

	t.Run("out of range is refused", func(t *testing.T) {
		assert.True(t, errors.Is(s.RestorePosition(-0.001), ErrInvalidPosition))
		assert.True(t, errors.Is(s.RestorePosition(100.001), ErrInvalidPosition))
	})

	t.Run("sends nothing on the wire", func(t *testing.T) {
		transport := &fakeTransport{}
		s, err := New("test", transport, testAddress, time.Minute, 0, 0)
		require.NoError(t, err)
		require.NoError(t, s.RestorePosition(50))
		assert.Empty(t, transport.sent)
	})
}

func TestCommandIdempotence(t *testing.T) {
	ctx := context.Background()

	t.Run("up when already up is a no-op", func(t *testing.T) {
		s, transport := newTestScreen(t, time.Minute, 0)

		changed, err := s.Up(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
		// The command still goes out, only the estimate is untouched.
		assert.Equal(t, 1, transport.count(opUp))
	})

	t.Run("down when already moving down is a no-op", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Minute, 0)

		changed, err := s.Down(ctx)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.Down(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("stop when stationary is a no-op", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Minute, 50)

		changed, err := s.Stop(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestNoMutationOnTransportFailure(t *testing.T) {
	ctx := context.Background()

	transport := &fakeTransport{err: errors.New("device unreachable")}
	s, err := New("test", transport, testAddress, time.Minute, 0, 50)
	require.NoError(t, err)

	_, errDown := s.Down(ctx)
	assert.Error(t, errDown)
	_, errUp := s.Up(ctx)
	assert.Error(t, errUp)
	_, errStop := s.Stop(ctx)
	assert.Error(t, errStop)

	assert.Equal(t, screen.Stopped, s.State())
	assert.Equal(t, 50., s.Position())
}

func TestEndpointExactness(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScreen(t, 100*time.Millisecond, 0)

	changed, err := s.Down(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, screen.Downward, s.State())

	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, screen.Down, s.State())
	assert.Equal(t, 100., s.Position())
}

func TestStopMidTravel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScreen(t, time.Second, 0)

	_, err := s.Down(ctx)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	changed, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, screen.Stopped, s.State())

	position := s.Position()
	assert.Greater(t, position, 0.)
	assert.Less(t, position, 100.)

	// Stopped means stopped, the estimate must not drift.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, position, s.Position())
}

func TestReversalContinuity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScreen(t, 400*time.Millisecond, 100)

	_, err := s.Up(ctx)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	changed, err := s.Down(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	state, position := s.Status()
	assert.Equal(t, screen.Downward, state)
	assert.InDelta(t, 50., position, 20.)
}

func TestSetPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("converges on the target and stops", func(t *testing.T) {
		s, transport := newTestScreen(t, 400*time.Millisecond, 0)

		changed, err := s.SetPosition(ctx, 50)
		require.NoError(t, err)
		assert.True(t, changed)

		state, position := s.Status()
		assert.Equal(t, screen.Stopped, state)
		assert.InDelta(t, 50., position, 20.)
		assert.Equal(t, 1, transport.count(opStop))

		// No drift once stopped.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, position, s.Position())
	})

	t.Run("converges upward", func(t *testing.T) {
		s, _ := newTestScreen(t, 400*time.Millisecond, 100)

		_, err := s.SetPosition(ctx, 50)
		require.NoError(t, err)

		state, position := s.Status()
		assert.Equal(t, screen.Stopped, state)
		assert.InDelta(t, 50., position, 20.)
	})

	t.Run("already on target issues a stop", func(t *testing.T) {
		s, transport := newTestScreen(t, time.Minute, 50)

		changed, err := s.SetPosition(ctx, 50)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 1, transport.count(opStop))
		assert.Zero(t, transport.count(opUp))
		assert.Zero(t, transport.count(opDown))
	})

	t.Run("out of range target is refused", func(t *testing.T) {
		s, transport := newTestScreen(t, time.Minute, 0)

		_, err := s.SetPosition(ctx, -1)
		assert.True(t, errors.Is(err, ErrInvalidPosition))
		_, err = s.SetPosition(ctx, 100.5)
		assert.True(t, errors.Is(err, ErrInvalidPosition))
		assert.Empty(t, transport.sent)
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Minute, 0)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := s.SetPosition(ctx, 50)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestSetPositionAsync(t *testing.T) {
	ctx := context.Background()

	t.Run("returns immediately and settles on the endpoint", func(t *testing.T) {
		s, _ := newTestScreen(t, 300*time.Millisecond, 0)

		updates := make(chan float64, 1024)
		s.OnUpdate(func(state screen.State, position float64) {
			if state == screen.Down {
				select {
				case updates <- position:
				default:
				}
			}
		})

		changed, err := s.DownAsync(ctx)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, screen.Downward, s.State())

		assert.Eventually(t, func() bool {
			return s.State() == screen.Down
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 100., s.Position())

		select {
		case position := <-updates:
			assert.Equal(t, 100., position)
		case <-time.After(time.Second):
			t.Fatal("no update for the down state")
		}
	})

	t.Run("superseding cancels the previous monitor", func(t *testing.T) {
		s, transport := newTestScreen(t, 300*time.Millisecond, 0)

		_, err := s.DownAsync(ctx)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)

		changed, err := s.UpAsync(ctx)
		require.NoError(t, err)
		assert.True(t, changed)

		assert.Eventually(t, func() bool {
			return s.State() == screen.Up
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 0., s.Position())

		// The cancelled monitor never reached its target and must not
		// have fired a stray stop; the second ends on the up endpoint
		// where no stop is needed either.
		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, transport.count(opStop))
	})

	t.Run("monitor stops the screen on a mid-range target", func(t *testing.T) {
		s, transport := newTestScreen(t, 300*time.Millisecond, 0)

		changed, err := s.SetPositionAsync(ctx, 50)
		require.NoError(t, err)
		assert.True(t, changed)

		assert.Eventually(t, func() bool {
			return s.State() == screen.Stopped
		}, time.Second, 10*time.Millisecond)
		assert.InDelta(t, 50., s.Position(), 20.)
		assert.Equal(t, 1, transport.count(opStop))
	})

	t.Run("stop cancels an outstanding monitor", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Second, 0)

		_, err := s.DownAsync(ctx)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)

		changed, err := s.Stop(ctx)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, screen.Stopped, s.State())

		// With the monitor gone, a second stop has nothing to do.
		changed, err = s.Stop(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestOnUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("observers see every state transition", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Second, 0)

		var mu sync.Mutex
		var states []screen.State
		s.OnUpdate(func(state screen.State, position float64) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, state)
		})

		_, err := s.Down(ctx)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		_, err = s.Stop(ctx)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, states, screen.Downward)
		assert.Contains(t, states, screen.Stopped)
	})

	t.Run("a panicking observer does not break the others", func(t *testing.T) {
		s, _ := newTestScreen(t, time.Second, 0)

		called := false
		s.OnUpdate(func(screen.State, float64) {
			panic("broken observer")
		})
		s.OnUpdate(func(screen.State, float64) {
			called = true
		})

		_, err := s.Down(ctx)
		require.NoError(t, err)
		assert.True(t, called)
	})
}

func TestMicroCommands(t *testing.T) {
	ctx := context.Background()
	s, transport := newTestScreen(t, time.Minute, 50)

	require.NoError(t, s.MicroUp(ctx))
	require.NoError(t, s.MicroDown(ctx))
	require.NoError(t, s.Program(ctx))

	assert.Equal(t, 1, transport.count(opMicroUp))
	assert.Equal(t, 1, transport.count(opMicroDown))
	assert.Equal(t, 1, transport.count(opProgram))

	// Pass-through commands never touch the estimate.
	assert.Equal(t, screen.Stopped, s.State())
	assert.Equal(t, 50., s.Position())
}
