// Package robot wires the control routines into one cooperative motion core. A Core owns every
// piece of control state; a single pass over all routines is a Tick.
package robot

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/lawnbot/motioncore/components/base"
	"github.com/lawnbot/motioncore/components/blade"
	"github.com/lawnbot/motioncore/components/encoder"
	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/config"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/odometry"
	"github.com/lawnbot/motioncore/schedule"
	"github.com/lawnbot/motioncore/services/perimeter"
	"github.com/lawnbot/motioncore/services/power"
	"github.com/lawnbot/motioncore/utils"
)

const (
	// diagnosticsPeriod is how often the diagnostic line is emitted.
	diagnosticsPeriod = time.Second
	// errorLogInterval bounds how often a failing pass is logged; the error is still returned.
	errorLogInterval = time.Second
)

// Sensors are the polled sensor readings.
type Sensors interface {
	// Yaw returns the IMU heading in radians and whether an IMU is present.
	Yaw() (float64, bool)
	PerimeterInside() bool
	BatteryVoltage() float64
}

// Mode selects the drive routine run on each pass.
type Mode int

// Drive modes.
const (
	// ModeSpeed tracks the commanded wheel RPMs.
	ModeSpeed Mode = iota
	// ModeRoll turns on the spot to the roll heading.
	ModeRoll
	// ModeHeading drives at the commanded RPMs while holding the drive heading.
	ModeHeading
	// ModePerimeter follows the perimeter wire.
	ModePerimeter
)

func (m Mode) String() string {
	switch m {
	case ModeSpeed:
		return "speed"
	case ModeRoll:
		return "roll"
	case ModeHeading:
		return "heading"
	case ModePerimeter:
		return "perimeter"
	}
	return "unknown"
}

// Commands is what the mission layer asks of the motion core.
type Commands struct {
	Mode     Mode
	LeftRPM  float64
	RightRPM float64
	// RollHeading and DriveHeading are in radians.
	RollHeading  float64
	DriveHeading float64
	MowEnable    bool
	MowOverride  bool
}

// Deps are the collaborators of the motion core.
type Deps struct {
	Actuators motor.Actuators
	Mission   mission.Machine
	Sensors   Sensors
	Persister faults.Persister
	// LeftTicks and RightTicks are fed by the encoder producers. New counters are created when nil.
	LeftTicks  *encoder.Counter
	RightTicks *encoder.Counter
	// Tachometer is the blade speed sensor, required by a regulated blade.
	Tachometer *encoder.Tachometer
	// Settle performs the hardware settling pauses. It defaults to sleeping on the clock.
	Settle func(time.Duration)
}

// Core is the motion control core.
type Core struct {
	mu     sync.Mutex
	cfg    *config.Config
	deps   Deps
	clk    clock.Clock
	logger logging.Logger
	diag   logging.Logger

	left, right motor.Wheel
	wheels      *motor.WheelDriver
	mow         *motor.MowDriver
	loops       *base.WheelLoops
	speed       *base.SpeedController
	heading     *base.HeadingController
	odometry    *odometry.Estimator
	perimeter   *perimeter.Tracker
	blade       *blade.Controller
	counters    *faults.Counters
	monitor     *faults.Monitor
	power       *power.Manager
	diagTask    *schedule.Task
	errLog      *rate.Limiter

	cmds    Commands
	entered time.Time
	workers utils.StoppableWorkers
}

// New builds a motion core from a validated config.
func New(cfg *config.Config, deps Deps, clk clock.Clock, logger logging.Logger) (*Core, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	if deps.Actuators == nil || deps.Mission == nil || deps.Sensors == nil || deps.Persister == nil {
		return nil, errors.New("actuators, mission, sensors and persister are all required")
	}
	if deps.LeftTicks == nil {
		deps.LeftTicks = &encoder.Counter{}
	}
	if deps.RightTicks == nil {
		deps.RightTicks = &encoder.Counter{}
	}
	if deps.Settle == nil {
		deps.Settle = clk.Sleep
	}

	c := &Core{
		cfg:      cfg,
		deps:     deps,
		clk:      clk,
		logger:   logger,
		diag:     logging.Diagnostics(logger, cfg.Logging.Diagnostics),
		counters: faults.NewCounters(),
		diagTask: schedule.NewTask(diagnosticsPeriod),
		errLog:   rate.NewLimiter(rate.Every(errorLogInterval), 1),
	}
	now := clk.Now()

	c.wheels = motor.NewWheelDriver(cfg.Wheels, deps.Actuators, &c.left, &c.right, logger.Sublogger("wheels"))
	c.mow = motor.NewMowDriver(cfg.Mow.MaxPWM, cfg.Mow.Accel, deps.Actuators)
	c.loops = base.NewWheelLoops(cfg.Drive.Wheel)
	c.heading = base.NewHeadingController(c.wheels, c.loops, cfg.Drive, c.diag)
	c.speed = base.NewSpeedController(c.wheels, c.loops, c.heading, c.diag)
	c.odometry = odometry.NewEstimator(cfg.Odometry, deps.LeftTicks, deps.RightTicks, now, c.diag)
	c.perimeter = perimeter.NewTracker(cfg.Perimeter, c.wheels, c.counters, deps.Mission, logger.Sublogger("perimeter"))

	var err error
	c.blade, err = blade.NewController(cfg.Mow, c.mow, deps.Tachometer, c.counters, logger.Sublogger("mow"))
	if err != nil {
		return nil, err
	}

	monitorCfg := cfg.Faults
	monitorCfg.OdometryFeedback = cfg.Wheels.OdometryFeedback
	c.monitor = faults.NewMonitor(monitorCfg, c.counters, c.wheels, &c.left, &c.right,
		deps.Settle, logger.Sublogger("faults"))
	c.power = power.NewManager(cfg.Battery, deps.Actuators, deps.Sensors, c.counters, deps.Persister,
		deps.Mission, deps.Settle, now, logger.Sublogger("battery"))
	return c, nil
}

// Tick runs one cooperative pass over every routine. Routines that are not due return at once.
// Errors from the actuator sink or persistence are returned combined and logged at most once per
// second; the pass always runs to the end.
func (c *Core) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	st := mission.Observe(c.deps.Mission)
	yaw, yawOK := c.deps.Sensors.Yaw()
	c.perimeter.Observe(now, c.deps.Sensors.PerimeterInside())
	if !st.EnteredAt.Equal(c.entered) {
		// a new mission state starts the wheel loops without history
		c.entered = st.EnteredAt
		c.loops.Reset()
	}

	if c.cfg.Wheels.OdometryFeedback && c.odometry.Update(now, yaw, yawOK) {
		c.left.RPM = c.odometry.LeftRPM()
		c.right.RPM = c.odometry.RightRPM()
	}
	c.left.TargetRPM = c.cmds.LeftRPM
	c.right.TargetRPM = c.cmds.RightRPM

	var errs error
	switch {
	case c.cmds.Mode == ModePerimeter:
		errs = multierr.Append(errs, c.perimeter.Control(ctx, now, st))
	case c.cmds.Mode == ModeRoll && yawOK:
		errs = multierr.Append(errs, c.heading.Roll(ctx, now, st, yaw))
	case c.cmds.Mode == ModeHeading && yawOK:
		errs = multierr.Append(errs, c.heading.Direction(ctx, now, st, yaw))
	default:
		// without an IMU the heading modes fall back to plain speed control
		errs = multierr.Append(errs, c.speed.Control(ctx, now, st, yaw, yawOK))
	}

	errs = multierr.Append(errs, c.blade.Control(ctx, now, blade.Command{
		Enable:   c.cmds.MowEnable,
		Override: c.cmds.MowOverride,
		Inhibit:  c.power.MowInhibited(),
	}))
	errs = multierr.Append(errs, c.monitor.Check(ctx, now, st, c.blade.Sample()))
	errs = multierr.Append(errs, c.power.Check(ctx, now, st))

	if c.diagTask.Due(now) {
		c.odometry.Describe()
		c.diag.Debugw("motion",
			"state", st.State,
			"mode", c.cmds.Mode,
			"left_pwm", c.left.PWM, "left_rpm", c.left.RPM,
			"right_pwm", c.right.PWM, "right_rpm", c.right.RPM,
			"wheel_pid_y", c.loops.Left.Y,
			"roll_heading", c.heading.RollHeading(),
			"drive_heading", c.heading.DriveHeading(),
			"wire_unchanged", now.Sub(c.perimeter.LastTransition()),
			"mow_pwm", c.mow.PWM(),
			"battery", c.power.Voltage(),
			"faults", c.counters.String())
	}

	if errs != nil {
		// the limiter is driven by the core clock, not wall time
		if c.errLog.AllowN(now, 1) {
			c.logger.Errorw("control pass failed", "error", errs)
		}
	}
	return errs
}

// SetCommands replaces the commands applied from the next pass on.
func (c *Core) SetCommands(cmds Commands) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = cmds
	c.heading.SetRollHeading(cmds.RollHeading)
	c.heading.SetDriveHeading(cmds.DriveHeading)
}

// ReportFault counts a fault detected outside the core, such as a stuck motor.
func (c *Core) ReportFault(kind faults.Kind) {
	count := c.counters.Add(kind)
	c.logger.Warnw("fault reported", "kind", kind, "count", count)
}

// ResetOdometry moves the pose estimate back to the origin.
func (c *Core) ResetOdometry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.odometry.Reset(c.clk.Now())
}

// LeftTicks returns the tick counter of the left wheel encoder.
func (c *Core) LeftTicks() *encoder.Counter {
	return c.deps.LeftTicks
}

// RightTicks returns the tick counter of the right wheel encoder.
func (c *Core) RightTicks() *encoder.Counter {
	return c.deps.RightTicks
}

// WheelDirection returns a reader of the PWM applied to a wheel, for single wire encoders that
// take their count direction from the drive.
func (c *Core) WheelDirection(side motor.Side) func() float64 {
	return c.wheels.AppliedPWM(side)
}

// Start runs Tick every configured period until Close.
func (c *Core) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workers != nil {
		return
	}
	c.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		ticker := c.clk.Ticker(c.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			//nolint:errcheck
			c.Tick(ctx)
		}
	})
}

// Close stops the control loop and sets every motor output to zero.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	workers := c.workers
	c.workers = nil
	c.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	return multierr.Combine(
		c.wheels.SetPWM(ctx, now, 0, 0, false),
		c.mow.SetPWM(ctx, now, 0, false),
	)
}
