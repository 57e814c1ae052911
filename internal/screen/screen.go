package screen

import (
	"context"
)

// State describes what the screen is doing. Position 0.0 is fully
// retracted (up), 100.0 is fully extended (down).
type State int

const (
	// Stopped anywhere strictly between the endpoints.
	Stopped State = iota
	// Up, stopped and fully retracted.
	Up
	// Upward, moving towards the up endpoint.
	Upward
	// Downward, moving towards the down endpoint.
	Downward
	// Down, stopped and fully extended.
	Down
)

var stateNames = map[State]string{
	Stopped:  "stopped",
	Up:       "up",
	Upward:   "upward",
	Downward: "downward",
	Down:     "down",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Moving reports whether the state describes a screen in motion.
func (s State) Moving() bool {
	return s == Upward || s == Downward
}

type UpdateHandler func(state State, position float64)

// Screen is a motorized projector screen or lift. Command methods report
// whether they changed the screen state; an idempotent no-op returns false.
type Screen interface {
	Name() string

	State() State
	Position() float64

	OnUpdate(h UpdateHandler)

	Up(ctx context.Context) (bool, error)
	Down(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	SetPosition(ctx context.Context, target float64) (bool, error)

	UpAsync(ctx context.Context) (bool, error)
	DownAsync(ctx context.Context) (bool, error)
	SetPositionAsync(ctx context.Context, target float64) (bool, error)
}

// RestorableScreen can have its position seeded from externally persisted
// state without moving the screen.
type RestorableScreen interface {
	Screen

	RestorePosition(position float64) error
}

// MicroStepper supports single-step adjustment commands. The steps are too
// small to affect the position estimate.
type MicroStepper interface {
	MicroUp(ctx context.Context) error
	MicroDown(ctx context.Context) error
}
