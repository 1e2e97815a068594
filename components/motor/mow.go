package motor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/lawnbot/motioncore/utils"
)

// MowDriver applies blade PWM. The blade only turns one way, so there is no polarity protection;
// instead the output is held within [0, MaxPWM] and only increases are smoothed.
type MowDriver struct {
	MaxPWM float64
	Accel  time.Duration

	act     Actuators
	pwm     float64
	lastSet time.Time
}

// NewMowDriver returns a blade driver writing to act.
func NewMowDriver(maxPWM float64, accel time.Duration, act Actuators) *MowDriver {
	return &MowDriver{MaxPWM: maxPWM, Accel: accel, act: act}
}

// SetPWM requests a blade PWM. Lowering is applied at once; raising is smoothed when useAccel is
// set.
func (d *MowDriver) SetPWM(ctx context.Context, now time.Time, pwm float64, useAccel bool) error {
	tac := sampleTime(now, &d.lastSet)
	if !useAccel || pwm < d.pwm || d.Accel <= 0 {
		d.pwm = pwm
	} else {
		d.pwm += float64(tac) * (pwm - d.pwm) / float64(d.Accel)
	}
	d.pwm = utils.Clamp(d.pwm, 0, d.MaxPWM)
	if err := d.act.SetActuator(ctx, ActuatorMotorMow, d.pwm); err != nil {
		return errors.Wrap(err, "setting mow pwm")
	}
	return nil
}

// PWM returns the applied blade PWM.
func (d *MowDriver) PWM() float64 {
	return d.pwm
}
