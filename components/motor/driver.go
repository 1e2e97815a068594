package motor

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/utils"
)

// WheelConfig configures the wheel driver.
type WheelConfig struct {
	MaxPWM float64 `json:"max_pwm"`
	MaxRPM float64 `json:"max_rpm"`
	// Accel is the smoothing time constant used when a caller asks for acceleration smoothing.
	Accel time.Duration `json:"accel"`
	// OdometryFeedback selects whether measured RPM (true) or the applied PWM (false) decides if
	// a wheel has come to rest.
	OdometryFeedback bool `json:"odometry_feedback"`
	// ZeroTimeoutFeedback and ZeroTimeoutOpenLoop are the refractory times re-armed while a wheel
	// is still turning.
	ZeroTimeoutFeedback time.Duration `json:"zero_timeout_feedback"`
	ZeroTimeoutOpenLoop time.Duration `json:"zero_timeout_open_loop"`
	// ReverseRamp is the time over which a blocked reversal brings the wheel down to zero.
	ReverseRamp   time.Duration `json:"reverse_ramp"`
	SwapLeftDir   bool          `json:"swap_left_dir"`
	SwapRightDir  bool          `json:"swap_right_dir"`
	ZeroSettle    time.Duration `json:"zero_settle"`
	ControlPeriod time.Duration `json:"control_period"`
}

// Validate ensures all parts of the config are valid.
func (cfg *WheelConfig) Validate(path string) error {
	var errs error
	if cfg.MaxPWM <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: max_pwm should be positive", path))
	}
	if cfg.MaxRPM <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: max_rpm should be positive", path))
	}
	if cfg.Accel <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: accel should be positive", path))
	}
	if cfg.ReverseRamp <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: reverse_ramp should be positive", path))
	}
	if cfg.ZeroTimeoutFeedback < 0 || cfg.ZeroTimeoutOpenLoop < 0 || cfg.ZeroSettle < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: timeouts cannot be negative", path))
	}
	if cfg.ControlPeriod <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: control_period should be positive", path))
	}
	return errs
}

// sampleTime returns the time since the previous call, treating the first call and any gap
// longer than a second as a single millisecond.
func sampleTime(now time.Time, last *time.Time) time.Duration {
	tac := now.Sub(*last)
	if last.IsZero() || tac > time.Second || tac < 0 {
		tac = time.Millisecond
	}
	*last = now
	return tac
}

// WheelDriver applies wheel PWM values with smoothing and polarity-reversal protection.
type WheelDriver struct {
	cfg    WheelConfig
	act    Actuators
	logger logging.Logger

	left, right *Wheel
	lastSet     time.Time

	// applied PWM per wheel, published for encoder interrupts outside the control loop
	appliedLeft, appliedRight atomic.Float64
}

// NewWheelDriver returns a driver writing to act and updating the given wheel channels.
func NewWheelDriver(cfg WheelConfig, act Actuators, left, right *Wheel, logger logging.Logger) *WheelDriver {
	left.Side, right.Side = Left, Right
	left.SwapDir, right.SwapDir = cfg.SwapLeftDir, cfg.SwapRightDir
	return &WheelDriver{cfg: cfg, act: act, logger: logger, left: left, right: right}
}

// SetPWM requests new PWM values for both wheels. The applied values may differ from the
// requested ones: a request that would reverse a still turning wheel is attenuated towards zero
// instead. With useAccel the request is first low-pass filtered by the configured Accel.
func (d *WheelDriver) SetPWM(ctx context.Context, now time.Time, left, right float64, useAccel bool) error {
	tac := sampleTime(now, &d.lastSet)
	d.step(d.left, left, tac, useAccel)
	d.step(d.right, right, tac, useAccel)
	return multierr.Combine(d.apply(ctx, d.left), d.apply(ctx, d.right))
}

func (d *WheelDriver) step(w *Wheel, target float64, tac time.Duration, useAccel bool) {
	target = utils.ClampSym(target, d.cfg.MaxPWM)
	switch {
	case reversing(target, w.PWM) && w.ZeroTimeout > 0:
		// never let the attenuation overshoot through zero on a long sample
		k := math.Min(float64(tac)/float64(d.cfg.ReverseRamp), 1)
		target = w.PWM - w.PWM*k
	case useAccel:
		// framerate independent low pass: curr += dt * (target - curr) / smoothing
		target = w.PWM + float64(tac)*(target-w.PWM)/float64(d.cfg.Accel)
	}
	w.PWM = utils.ClampSym(target, d.cfg.MaxPWM)

	// open loop output below one step is treated as off
	spinning := math.Abs(w.PWM) >= 1
	refractory := d.cfg.ZeroTimeoutOpenLoop
	if d.cfg.OdometryFeedback {
		spinning = math.Abs(w.RPM) >= 1
		refractory = d.cfg.ZeroTimeoutFeedback
	}
	if spinning {
		w.ZeroTimeout = refractory
	} else {
		w.ZeroTimeout = max(0, w.ZeroTimeout-tac)
	}
}

// reversing reports whether applying target would change the direction of a wheel at curr.
func reversing(target, curr float64) bool {
	return (target < 0 && curr >= 0) || (target > 0 && curr <= 0)
}

func (d *WheelDriver) apply(ctx context.Context, w *Wheel) error {
	d.applied(w.Side).Store(w.PWM)
	out := w.PWM
	if w.SwapDir {
		out = -out
	}
	if err := d.act.SetActuator(ctx, w.actuator(), out); err != nil {
		return errors.Wrapf(err, "setting %s wheel pwm", w.Side)
	}
	return nil
}

func (d *WheelDriver) applied(side Side) *atomic.Float64 {
	if side == Left {
		return &d.appliedLeft
	}
	return &d.appliedRight
}

// AppliedPWM returns a reader of the PWM last applied to the wheel on side, before any polarity
// swap. The reader is safe to call from any goroutine and is meant for single wire encoders.
func (d *WheelDriver) AppliedPWM(side Side) func() float64 {
	v := d.applied(side)
	return v.Load
}

// ResetFault clears the zero-crossing timeouts so the protection re-arms from the next sample,
// and power cycles the motor driver enable line.
func (d *WheelDriver) ResetFault(ctx context.Context) error {
	d.left.ZeroTimeout = 0
	d.right.ZeroTimeout = 0
	d.logger.Infow("resetting motor fault", "left_pwm", d.left.PWM, "right_pwm", d.right.PWM)
	return multierr.Combine(
		d.act.SetActuator(ctx, ActuatorMotorEnable, 0),
		d.act.SetActuator(ctx, ActuatorMotorEnable, 1),
	)
}

// Wheels returns the driven wheel channels.
func (d *WheelDriver) Wheels() (*Wheel, *Wheel) {
	return d.left, d.right
}

// Config returns the driver configuration.
func (d *WheelDriver) Config() WheelConfig {
	return d.cfg
}
