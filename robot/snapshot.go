package robot

import (
	"time"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/odometry"
)

// Snapshot is a copy of the diagnostic state of the core.
type Snapshot struct {
	Mode           Mode
	Pose           odometry.Pose
	Left           motor.Wheel
	Right          motor.Wheel
	MowPWM         float64
	MowSpeed       float64
	BatteryVoltage float64
	BatteryLatched bool
	Idle           time.Duration
	Faults         map[faults.Kind]int
}

// Snapshot returns the current diagnostic state.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:           c.cmds.Mode,
		Pose:           c.odometry.Pose(),
		Left:           c.left,
		Right:          c.right,
		MowPWM:         c.mow.PWM(),
		MowSpeed:       c.blade.Speed(),
		BatteryVoltage: c.power.Voltage(),
		BatteryLatched: c.power.Latched(),
		Idle:           c.power.Idle(),
		Faults:         c.counters.Snapshot(),
	}
}
