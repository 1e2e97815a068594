package base

import (
	"context"
	"time"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/schedule"
	"github.com/lawnbot/motioncore/utils"
)

// rollScale reduces the authority of the roll loop; turning on the spot should be slower than
// driving.
const rollScale = 1.25

// HeadingController holds a heading from IMU yaw, either by turning on the spot (Roll) or by
// braking one wheel while driving (Direction). Both share one schedule so only one of them runs
// per period.
type HeadingController struct {
	driver *motor.WheelDriver
	loops  *WheelLoops
	roll   *control.PID
	dir    *control.PID
	logger logging.Logger
	task   *schedule.Task

	rollHeading  float64
	driveHeading float64
}

// NewHeadingController returns a heading controller.
func NewHeadingController(driver *motor.WheelDriver, loops *WheelLoops, gains Gains, logger logging.Logger) *HeadingController {
	return &HeadingController{
		driver: driver,
		loops:  loops,
		roll:   control.NewPID("imu_roll", gains.Roll),
		dir:    control.NewPID("imu_dir", gains.Direction),
		logger: logger,
		task:   schedule.NewTask(driver.Config().ControlPeriod),
	}
}

// SetRollHeading sets the heading, in radians, the robot turns to on the spot.
func (c *HeadingController) SetRollHeading(rad float64) {
	c.rollHeading = rad
}

// SetDriveHeading sets the heading, in radians, held while driving.
func (c *HeadingController) SetDriveHeading(rad float64) {
	c.driveHeading = rad
}

// RollHeading returns the roll target.
func (c *HeadingController) RollHeading() float64 {
	return c.rollHeading
}

// DriveHeading returns the drive target.
func (c *HeadingController) DriveHeading() float64 {
	return c.driveHeading
}

// Roll turns the robot on the spot towards the roll heading. The two wheels always receive
// opposite commands.
func (c *HeadingController) Roll(ctx context.Context, now time.Time, st mission.Snapshot, yaw float64) error {
	if !c.task.Due(now) {
		return nil
	}
	cfg := c.driver.Config()
	left, right := c.driver.Wheels()

	c.roll.X = utils.RadToDeg(utils.AngleDistance(yaw, c.rollHeading))
	c.roll.W = 0
	c.roll.SetLimits(control.Limits{
		Min:       -cfg.MaxPWM / rollScale,
		Max:       cfg.MaxPWM / rollScale,
		MaxOutput: cfg.MaxRPM / rollScale,
	})
	y := c.roll.Update(now)

	c.follow(c.loops.Left, left, -y, cfg.MaxPWM, now)
	c.follow(c.loops.Right, right, y, cfg.MaxPWM, now)

	l := utils.ClampSym(-y, cfg.MaxPWM)
	r := utils.ClampSym(y, cfg.MaxPWM)
	if parked(st, now) {
		l, r = 0, 0
	}
	c.logger.Debugw("roll", "yaw", yaw, "heading", c.rollHeading, "x", c.roll.X, "y", y)
	return c.driver.SetPWM(ctx, now, l, r, false)
}

// Direction holds the drive heading by reducing the speed of the wheel on the side the robot
// drifts to. A correction can stop a wheel but never reverse it.
func (c *HeadingController) Direction(ctx context.Context, now time.Time, st mission.Snapshot, yaw float64) error {
	if !c.task.Due(now) {
		return nil
	}
	cfg := c.driver.Config()
	left, right := c.driver.Wheels()

	c.dir.X = utils.RadToDeg(utils.AngleDistance(yaw, c.driveHeading))
	c.dir.W = 0
	c.dir.SetLimits(control.Limits{Min: -cfg.MaxPWM, Max: cfg.MaxPWM, MaxOutput: cfg.MaxRPM})
	y := c.dir.Update(now)

	var correctLeft, correctRight float64
	if y > 0 {
		correctLeft = y
	} else {
		correctRight = -y
	}
	l := c.braked(c.loops.Left, left, correctLeft, now)
	r := c.braked(c.loops.Right, right, correctRight, now)
	if parked(st, now) {
		l, r = 0, 0
	}
	c.logger.Debugw("direction", "yaw", yaw, "heading", c.driveHeading, "x", c.dir.X, "y", y)
	return c.driver.SetPWM(ctx, now, l, r, false)
}

// braked reduces the target speed of w by correction and returns the matching PWM.
func (c *HeadingController) braked(pid *control.PID, w *motor.Wheel, correction float64, now time.Time) float64 {
	cfg := c.driver.Config()
	rpm := w.TargetRPM - utils.Sign(w.TargetRPM)*correction
	if utils.Sign(rpm) != utils.Sign(w.TargetRPM) {
		rpm = 0
	}
	c.follow(pid, w, rpm, cfg.MaxPWM, now)
	return utils.ClampSym(utils.MapRange(rpm, -cfg.MaxRPM, cfg.MaxRPM, -cfg.MaxPWM, cfg.MaxPWM), cfg.MaxPWM)
}

// follow keeps a wheel loop tracking the setpoint it is effectively driven to, so switching back
// to speed control starts from current state.
func (c *HeadingController) follow(pid *control.PID, w *motor.Wheel, setpoint, maxPWM float64, now time.Time) {
	pid.X = w.RPM
	pid.W = setpoint
	pid.SetLimits(control.Sym(maxPWM))
	pid.Update(now)
}

// Loops returns the outer heading loops for diagnostics.
func (c *HeadingController) Loops() (roll, dir *control.PID) {
	return c.roll, c.dir
}
