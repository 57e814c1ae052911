package xyscreens

import (
	"time"

	"github.com/jkaflik/screens2mqtt/internal/screen"
)

// snapshot is the live estimate of where the screen is. There is no position
// feedback from the device; while moving, position is extrapolated from the
// time elapsed since the last recompute.
type snapshot struct {
	state         screen.State
	position      float64
	lastRecompute time.Time
}

// recompute advances the estimate to now and returns it. The recompute
// timestamp is always reset, also while stationary, so elapsed time is never
// counted twice. Motion is linear; reaching an endpoint clamps the position
// and snaps the state to Up or Down.
func (s *snapshot) recompute(now time.Time, upDuration, downDuration time.Duration) (screen.State, float64) {
	var direction float64
	var travel time.Duration

	switch s.state {
	case screen.Downward:
		direction = 1.
		travel = downDuration
	case screen.Upward:
		direction = -1.
		travel = upDuration
	default:
		s.lastRecompute = now
		return s.state, s.position
	}

	elapsed := now.Sub(s.lastRecompute)
	position := s.position + direction*100*elapsed.Seconds()/travel.Seconds()
	s.lastRecompute = now

	if position >= fullyDown {
		s.state = screen.Down
		position = fullyDown
	}
	if position <= fullyUp {
		s.state = screen.Up
		position = fullyUp
	}
	s.position = position

	return s.state, s.position
}
