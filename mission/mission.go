// Package mission defines the view the motion core has of the external mission state machine.
// The core never changes state itself; it reads the current state and asks for transitions.
package mission

import (
	"context"
	"fmt"
	"time"
)

// State identifies a mission state.
type State int

// The mission states the motion core reacts to. Any other value is treated as an active state.
const (
	StateOff State = iota
	StateStation
	StateError
	StateForward
	StateRoll
	StatePerimeterFind
	StatePerimeterTrack
)

var stateNames = map[State]string{
	StateOff:            "off",
	StateStation:        "station",
	StateError:          "error",
	StateForward:        "forward",
	StateRoll:           "roll",
	StatePerimeterFind:  "perimeter_find",
	StatePerimeterTrack: "perimeter_track",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Parked reports whether motors must stay still in s: off, docked or in error.
func (s State) Parked() bool {
	return s == StateOff || s == StateStation || s == StateError
}

// Idle reports whether s counts towards the idle shutoff timer.
func (s State) Idle() bool {
	return s == StateOff || s == StateError
}

// Machine is the external mission state machine.
type Machine interface {
	// State returns the current state.
	State() State
	// EnteredAt returns when the current state was entered.
	EnteredAt() time.Time
	// RequestState asks for a transition. The machine decides whether and when to honor it.
	RequestState(ctx context.Context, state State, reason string)
}

// Snapshot is the state information a single control pass works with.
type Snapshot struct {
	State     State
	EnteredAt time.Time
}

// Observe reads m once so every routine of a pass sees the same state.
func Observe(m Machine) Snapshot {
	return Snapshot{State: m.State(), EnteredAt: m.EnteredAt()}
}

// Since returns how long the state has been active at now.
func (s Snapshot) Since(now time.Time) time.Duration {
	return now.Sub(s.EnteredAt)
}
