package xyscreens

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jkaflik/screens2mqtt/internal/screen"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	fullyUp   = 0.
	fullyDown = 100.
)

// cancelWait bounds how long a command waits for an outstanding position
// monitor to acknowledge cancellation before the command is refused.
const cancelWait = time.Second

var (
	// ErrInvalidPosition is returned for positions outside 0..100.
	ErrInvalidPosition = errors.New("position out of range 0..100")
	// ErrInvalidDuration is returned for non-positive travel durations.
	ErrInvalidDuration = errors.New("travel duration must be positive")
	// ErrCancelTimeout is returned when an outstanding position monitor
	// could not be stopped and the new command is refused.
	ErrCancelTimeout = errors.New("position monitor did not stop in time")
)

// Screen estimates the state and position of an XY Screens projector screen
// from elapsed time and drives it towards requested positions.
type Screen struct {
	transport Transport
	commands  Commands

	name         string
	upDuration   time.Duration
	downDuration time.Duration

	mu       sync.Mutex
	cur      snapshot
	handlers []screen.UpdateHandler

	monitorMu sync.Mutex
	monitor   *monitorTask
}

// monitorTask is the single outstanding monitor a Screen owns. done is
// closed when the monitor goroutine exits for any reason.
type monitorTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Screen. downDuration is the full 0..100 travel time and must
// be positive; a zero upDuration defaults to downDuration. initialPosition
// seeds the estimate, typically from externally persisted state.
func New(name string, transport Transport, address []byte, downDuration, upDuration time.Duration, initialPosition float64) (*Screen, error) {
	if downDuration <= 0 {
		return nil, errors.Wrapf(ErrInvalidDuration, "%s: down %s", name, downDuration)
	}
	if upDuration < 0 {
		return nil, errors.Wrapf(ErrInvalidDuration, "%s: up %s", name, upDuration)
	}
	if upDuration == 0 {
		upDuration = downDuration
	}

	s := &Screen{
		transport:    transport,
		commands:     NewCommands(address),
		name:         name,
		upDuration:   upDuration,
		downDuration: downDuration,
	}

	if err := s.RestorePosition(initialPosition); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Screen) Name() string {
	return s.name
}

// State recomputes and returns the current state. The recompute timestamp is
// reset as a side effect.
func (s *Screen) State() screen.State {
	state, _ := s.Status()
	return state
}

// Position recomputes and returns the current position, 0.0 fully up to
// 100.0 fully down. The recompute timestamp is reset as a side effect.
func (s *Screen) Position() float64 {
	_, position := s.Status()
	return position
}

// Status recomputes and returns the current state and position.
func (s *Screen) Status() (screen.State, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur.recompute(time.Now(), s.upDuration, s.downDuration)
}

// RestorePosition seeds the position estimate without moving the screen. The
// state is derived from the position and the recompute timestamp is reset.
func (s *Screen) RestorePosition(position float64) error {
	if position < fullyUp || position > fullyDown {
		return errors.Wrapf(ErrInvalidPosition, "%s: %f", s.name, position)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur.position = position
	switch position {
	case fullyUp:
		s.cur.state = screen.Up
	case fullyDown:
		s.cur.state = screen.Down
	default:
		s.cur.state = screen.Stopped
	}
	s.cur.lastRecompute = time.Now()

	return nil
}

// OnUpdate registers a handler called with the state and position after
// every state transition. A panicking handler is logged and never prevents
// the remaining handlers from running.
func (s *Screen) OnUpdate(h screen.UpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = append(s.handlers, h)
}

func (s *Screen) notify() {
	s.mu.Lock()
	state, position := s.cur.recompute(time.Now(), s.upDuration, s.downDuration)
	handlers := make([]screen.UpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("%s: update handler panic: %v", s.name, r)
				}
			}()
			h(state, position)
		}()
	}
}

// Up starts moving the screen up. Returns false when the screen is already
// up or moving up. No state is mutated unless the command was delivered.
func (s *Screen) Up(ctx context.Context) (bool, error) {
	logrus.Infof("%s: up", s.name)

	if err := s.transport.Send(ctx, s.commands.Up()); err != nil {
		return false, errors.Wrapf(err, "%s: up command failed", s.name)
	}

	if !s.postUp() {
		return false, nil
	}

	s.notify()
	return true, nil
}

// postUp flips the estimate to Upward. A recompute right before the flip
// captures the true position at the reversal instant, so the new direction
// extrapolates from where the screen actually is.
func (s *Screen) postUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.state == screen.Up || s.cur.state == screen.Upward {
		return false
	}

	s.cur.recompute(time.Now(), s.upDuration, s.downDuration)
	s.cur.state = screen.Upward
	return true
}

// Down starts moving the screen down. Returns false when the screen is
// already down or moving down.
func (s *Screen) Down(ctx context.Context) (bool, error) {
	logrus.Infof("%s: down", s.name)

	if err := s.transport.Send(ctx, s.commands.Down()); err != nil {
		return false, errors.Wrapf(err, "%s: down command failed", s.name)
	}

	if !s.postDown() {
		return false, nil
	}

	s.notify()
	return true, nil
}

func (s *Screen) postDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.state == screen.Down || s.cur.state == screen.Downward {
		return false
	}

	s.cur.recompute(time.Now(), s.upDuration, s.downDuration)
	s.cur.state = screen.Downward
	return true
}

// Stop halts the screen. Any outstanding position monitor is cancelled and
// awaited first so the two never race to issue conflicting commands.
// Returns false when the screen is already stationary.
func (s *Screen) Stop(ctx context.Context) (bool, error) {
	logrus.Infof("%s: stop", s.name)

	if err := s.cancelMonitor(); err != nil {
		return false, err
	}

	if err := s.transport.Send(ctx, s.commands.Stop()); err != nil {
		return false, errors.Wrapf(err, "%s: stop command failed", s.name)
	}

	if !s.postStop() {
		return false, nil
	}

	s.notify()
	return true, nil
}

// postStop freezes the estimate. An endpoint reached exactly at stop time
// keeps the endpoint state, not Stopped.
func (s *Screen) postStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.cur.state {
	case screen.Up, screen.Down, screen.Stopped:
		return false
	}

	state, _ := s.cur.recompute(time.Now(), s.upDuration, s.downDuration)
	if state.Moving() {
		s.cur.state = screen.Stopped
	}
	return true
}

// MicroUp moves the screen up one step. The step is too small to affect the
// position estimate, so no state is mutated.
func (s *Screen) MicroUp(ctx context.Context) error {
	logrus.Infof("%s: micro up", s.name)

	return errors.Wrapf(s.transport.Send(ctx, s.commands.MicroUp()), "%s: micro up command failed", s.name)
}

// MicroDown moves the screen down one step.
func (s *Screen) MicroDown(ctx context.Context) error {
	logrus.Infof("%s: micro down", s.name)

	return errors.Wrapf(s.transport.Send(ctx, s.commands.MicroDown()), "%s: micro down command failed", s.name)
}

// Program puts the screen in address programming mode.
func (s *Screen) Program(ctx context.Context) error {
	logrus.Infof("%s: program", s.name)

	return errors.Wrapf(s.transport.Send(ctx, s.commands.Program()), "%s: program command failed", s.name)
}

// SetPosition moves the screen to target and blocks until it is reached or
// ctx is cancelled.
func (s *Screen) SetPosition(ctx context.Context, target float64) (bool, error) {
	logrus.Infof("%s: set position to %.1f", s.name, target)

	if target < fullyUp || target > fullyDown {
		return false, errors.Wrapf(ErrInvalidPosition, "%s: %f", s.name, target)
	}

	if math.Round(s.Position()) == math.Round(target) {
		logrus.Debugf("%s: already on position %.1f", s.name, target)
		return s.Stop(ctx)
	}

	if err := s.cancelMonitor(); err != nil {
		return false, err
	}

	if err := s.moveTowards(ctx, target); err != nil {
		return false, err
	}

	interval := s.pollInterval()
	for {
		if s.targetReached(target) {
			if s.State().Moving() {
				if _, err := s.Stop(ctx); err != nil {
					return true, err
				}
			}
			s.notify()
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// SetPositionAsync moves the screen to target and returns once the
// directional command is sent, leaving a background monitor to stop the
// screen when the target is reached. An outstanding monitor from a previous
// call is cancelled and awaited before the new command is issued.
func (s *Screen) SetPositionAsync(ctx context.Context, target float64) (bool, error) {
	logrus.Infof("%s: set position to %.1f (async)", s.name, target)

	if target < fullyUp || target > fullyDown {
		return false, errors.Wrapf(ErrInvalidPosition, "%s: %f", s.name, target)
	}

	if math.Round(s.Position()) == math.Round(target) {
		logrus.Debugf("%s: already on position %.1f", s.name, target)
		return s.Stop(ctx)
	}

	if err := s.cancelMonitor(); err != nil {
		return false, err
	}

	if err := s.moveTowards(ctx, target); err != nil {
		return false, err
	}

	mctx, cancel := context.WithCancel(ctx)
	task := &monitorTask{cancel: cancel, done: make(chan struct{})}

	s.monitorMu.Lock()
	s.monitor = task
	s.monitorMu.Unlock()

	go s.monitorPosition(mctx, task, target)

	return true, nil
}

// UpAsync moves the screen fully up without blocking.
func (s *Screen) UpAsync(ctx context.Context) (bool, error) {
	return s.SetPositionAsync(ctx, fullyUp)
}

// DownAsync moves the screen fully down without blocking.
func (s *Screen) DownAsync(ctx context.Context) (bool, error) {
	return s.SetPositionAsync(ctx, fullyDown)
}

// moveTowards issues the directional command for target. Already moving in
// the right direction is fine, the command is a no-op on the wire.
func (s *Screen) moveTowards(ctx context.Context, target float64) error {
	if s.Position() < target {
		_, err := s.Down(ctx)
		return err
	}

	_, err := s.Up(ctx)
	return err
}

// targetReached recomputes and reports whether the target has been attained
// or passed in the direction of travel. A stationary screen counts as
// reached; it is not getting any closer.
func (s *Screen) targetReached(target float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, position := s.cur.recompute(time.Now(), s.upDuration, s.downDuration)

	switch state {
	case screen.Downward:
		return position >= target
	case screen.Upward:
		return position <= target
	}

	return true
}

// pollInterval is a thousandth of the fastest full travel, fine-grained
// enough to bound overshoot to a fraction of a percent.
func (s *Screen) pollInterval() time.Duration {
	d := s.downDuration
	if s.upDuration < d {
		d = s.upDuration
	}
	if interval := d / 1000; interval > 0 {
		return interval
	}
	return time.Millisecond
}

func (s *Screen) monitorPosition(ctx context.Context, task *monitorTask, target float64) {
	defer close(task.done)

	logrus.Debugf("%s: begin position monitor, target %.1f", s.name, target)

	interval := s.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reached := s.targetReached(target)
		s.notify()

		if reached {
			// Stop directly on the transport: Screen.Stop cancels
			// the monitor and would wait for this goroutine.
			if s.State().Moving() {
				if err := s.transport.Send(ctx, s.commands.Stop()); err != nil {
					logrus.Errorf("%s: stop at target failed: %s", s.name, err)
				} else if s.postStop() {
					s.notify()
				}
			}
			logrus.Debugf("%s: position monitor reached target %.1f", s.name, target)
			return
		}

		select {
		case <-ctx.Done():
			logrus.Debugf("%s: position monitor cancelled", s.name)
			return
		case <-ticker.C:
		}
	}
}

// cancelMonitor cancels and awaits the outstanding position monitor, if
// any. When the monitor does not exit within cancelWait the new command is
// refused rather than racing two movement loops.
func (s *Screen) cancelMonitor() error {
	s.monitorMu.Lock()
	task := s.monitor
	s.monitor = nil
	s.monitorMu.Unlock()

	if task == nil {
		return nil
	}

	task.cancel()

	select {
	case <-task.done:
	case <-time.After(cancelWait):
		logrus.Errorf("%s: failed to cancel position monitor", s.name)
		return errors.Wrapf(ErrCancelTimeout, "%s", s.name)
	}

	s.notify()
	return nil
}
