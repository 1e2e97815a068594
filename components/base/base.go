// Package base holds the drive controllers that turn target speeds and headings into wheel PWM.
// All of them write through a motor.WheelDriver and share one pair of wheel speed loops.
package base

import (
	"time"

	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/mission"
)

// parkedHold is how long after entering a parked state the drive may still move.
const parkedHold = time.Second

// Gains is the tuning of the drive loops.
type Gains struct {
	Wheel     control.Gains `json:"wheel"`
	Roll      control.Gains `json:"roll"`
	Direction control.Gains `json:"direction"`
}

// WheelLoops is the pair of wheel speed loops. The right loop always runs with the tuning of the
// left one.
type WheelLoops struct {
	Left  *control.PID
	Right *control.PID
}

// NewWheelLoops returns a linked pair of wheel loops.
func NewWheelLoops(gains control.Gains) *WheelLoops {
	left := control.NewPID("wheel_left", gains)
	return &WheelLoops{Left: left, Right: control.NewLinkedPID("wheel_right", left)}
}

// Reset clears both loops.
func (l *WheelLoops) Reset() {
	l.Left.Reset()
	l.Right.Reset()
}

// parked reports whether outputs must be forced to zero.
func parked(st mission.Snapshot, now time.Time) bool {
	return st.State.Parked() && st.Since(now) > parkedHold
}
