// Package motor is the only path by which PWM values reach the motor drivers. It rate limits
// changes and protects the drivers against abrupt polarity reversal.
package motor

import (
	"context"
	"fmt"
	"time"
)

// ActuatorID names an output channel of the actuator sink.
type ActuatorID int

// The actuator channels driven by the motion core.
const (
	ActuatorMotorLeft ActuatorID = iota
	ActuatorMotorRight
	ActuatorMotorMow
	ActuatorBatterySwitch
	ActuatorMotorEnable
)

func (id ActuatorID) String() string {
	switch id {
	case ActuatorMotorLeft:
		return "motor_left"
	case ActuatorMotorRight:
		return "motor_right"
	case ActuatorMotorMow:
		return "motor_mow"
	case ActuatorBatterySwitch:
		return "battery_switch"
	case ActuatorMotorEnable:
		return "motor_enable"
	}
	return fmt.Sprintf("actuator(%d)", int(id))
}

// Actuators is the opaque sink that turns values into hardware outputs.
type Actuators interface {
	SetActuator(ctx context.Context, id ActuatorID, value float64) error
}

// Side selects a drive wheel.
type Side int

// Drive wheels.
const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Wheel is the control state of one drive wheel.
type Wheel struct {
	Side Side
	// PWM is the value currently applied, always within [-MaxPWM, MaxPWM].
	PWM float64
	// TargetRPM is the speed commanded by the mission layer.
	TargetRPM float64
	// RPM is the measured speed from odometry.
	RPM float64
	// ZeroTimeout is the remaining refractory time during which a polarity change is attenuated.
	ZeroTimeout time.Duration
	// SwapDir inverts the output polarity for a wheel wired the other way round.
	SwapDir bool
}

func (w *Wheel) actuator() ActuatorID {
	if w.Side == Left {
		return ActuatorMotorLeft
	}
	return ActuatorMotorRight
}
