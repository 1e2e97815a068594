// Package blade controls the mow motor: a slow ramp for open loop blades and a tachometer
// regulated loop for blades with a speed sensor.
package blade

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/components/encoder"
	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/schedule"
	"github.com/lawnbot/motioncore/utils"
)

// rpmPerPWM is the feed forward ratio between the speed setpoint and the blade PWM.
const rpmPerPWM = 20

// Config configures the blade.
type Config struct {
	MaxPWM float64       `json:"max_pwm"`
	Accel  time.Duration `json:"accel"`
	// PWMSet is the open loop PWM.
	PWMSet float64 `json:"pwm_set"`
	// RPMSet is the regulated speed target.
	RPMSet float64 `json:"rpm_set"`
	// Modulate regulates the speed against the tachometer.
	Modulate            bool          `json:"modulate"`
	PulsesPerRevolution float64       `json:"pulses_per_revolution"`
	RampStep            float64       `json:"ramp_step"`
	FilterHistory       float64       `json:"filter_history"`
	Gains               control.Gains `json:"pid"`
	Period              time.Duration `json:"period"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var errs error
	if cfg.MaxPWM <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: max_pwm should be positive", path))
	}
	if cfg.PWMSet < 0 || cfg.PWMSet > cfg.MaxPWM {
		errs = multierr.Append(errs, errors.Errorf("%s: pwm_set should be within [0, max_pwm]", path))
	}
	if cfg.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period should be positive", path))
	}
	// the speed filter is built for every blade, regulated or not
	if cfg.FilterHistory < 0 || cfg.FilterHistory >= 1 {
		errs = multierr.Append(errs, errors.Errorf("%s: filter_history should be in [0, 1)", path))
	}
	if cfg.Modulate {
		if cfg.PulsesPerRevolution <= 0 {
			errs = multierr.Append(errs, errors.Errorf("%s: pulses_per_revolution should be positive", path))
		}
		if cfg.RampStep <= 0 {
			errs = multierr.Append(errs, errors.Errorf("%s: ramp_step should be positive", path))
		}
		errs = multierr.Append(errs, cfg.Gains.Validate(path))
	}
	return errs
}

// Command is what the mission layer asks of the blade on a pass.
type Command struct {
	Enable bool
	// Override forces the blade off regardless of Enable.
	Override bool
	// Inhibit is set by the battery manager when the voltage is too low to mow.
	Inhibit bool
}

// Controller drives the mow motor.
type Controller struct {
	cfg      Config
	driver   *motor.MowDriver
	tach     *encoder.Tachometer
	pid      *control.PID
	filter   *control.LowPass
	counters *faults.Counters
	logger   logging.Logger
	task     *schedule.Task

	lastSpeed float64
	enabled   bool
}

// NewController returns a blade controller. tach may be nil when the blade has no speed sensor.
func NewController(
	cfg Config,
	driver *motor.MowDriver,
	tach *encoder.Tachometer,
	counters *faults.Counters,
	logger logging.Logger,
) (*Controller, error) {
	filter, err := control.NewLowPass(cfg.FilterHistory)
	if err != nil {
		return nil, errors.Wrap(err, "blade speed filter")
	}
	if cfg.Modulate && tach == nil {
		return nil, errors.New("a regulated blade needs a tachometer")
	}
	return &Controller{
		cfg:      cfg,
		driver:   driver,
		tach:     tach,
		pid:      control.NewPID("mow", cfg.Gains),
		filter:   filter,
		counters: counters,
		logger:   logger,
		task:     schedule.NewTask(cfg.Period),
	}, nil
}

// Control runs one pass if due.
func (c *Controller) Control(ctx context.Context, now time.Time, cmd Command) error {
	if !c.task.Due(now) {
		return nil
	}
	var rpm float64
	if c.tach != nil {
		rpm = c.tach.Sample(now, c.cfg.PulsesPerRevolution)
	}

	enabled := cmd.Enable && !cmd.Override && !cmd.Inhibit && !c.faulted()
	if enabled != c.enabled {
		c.logger.Infow("blade", "enabled", enabled, "override", cmd.Override, "inhibit", cmd.Inhibit, "faults", c.counters.String())
		c.enabled = enabled
	}
	if !enabled {
		c.lastSpeed = 0
		c.pid.Reset()
		c.pid.X = 0
		c.filter.Reset()
		return c.driver.SetPWM(ctx, now, 0, true)
	}

	if !c.cfg.Modulate {
		c.lastSpeed = c.cfg.PWMSet
		return c.driver.SetPWM(ctx, now, c.cfg.PWMSet, true)
	}

	speed := c.ramp()
	c.pid.X = c.filter.Next(rpm)
	c.pid.W = speed
	c.pid.SetLimits(control.Sym(c.cfg.MaxPWM / 2))
	y := c.pid.Update(now)
	c.lastSpeed = speed
	return c.driver.SetPWM(ctx, now, speed/rpmPerPWM+y, false)
}

// ramp steps the speed setpoint towards RPMSet by at most RampStep.
func (c *Controller) ramp() float64 {
	return c.lastSpeed + utils.ClampSym(c.cfg.RPMSet-c.lastSpeed, c.cfg.RampStep)
}

// faulted reports whether a blade fault is latched.
func (c *Controller) faulted() bool {
	return c.counters.Count(faults.MowSense) > 0 || c.counters.Count(faults.MotorStuck) > 0
}

// Sample reports the blade state for the mow-sense check.
func (c *Controller) Sample() faults.MowSample {
	s := faults.MowSample{Modulated: c.cfg.Modulate, PWM: c.driver.PWM()}
	if c.tach != nil {
		s.RPM = c.tach.RPM()
	}
	return s
}

// Speed returns the current speed setpoint.
func (c *Controller) Speed() float64 {
	return c.lastSpeed
}

// PID returns the speed loop for diagnostics.
func (c *Controller) PID() *control.PID {
	return c.pid
}
