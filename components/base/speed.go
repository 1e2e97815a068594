package base

import (
	"context"
	"math"
	"time"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/schedule"
	"github.com/lawnbot/motioncore/utils"
)

// SpeedController tracks the target RPM of both wheels.
type SpeedController struct {
	driver  *motor.WheelDriver
	loops   *WheelLoops
	heading *HeadingController
	logger  logging.Logger
	task    *schedule.Task
}

// NewSpeedController returns a speed controller. heading may be nil; when set, its drive heading
// is re-locked to the current yaw while an open loop drive settles.
func NewSpeedController(
	driver *motor.WheelDriver,
	loops *WheelLoops,
	heading *HeadingController,
	logger logging.Logger,
) *SpeedController {
	return &SpeedController{
		driver:  driver,
		loops:   loops,
		heading: heading,
		logger:  logger,
		task:    schedule.NewTask(driver.Config().ControlPeriod),
	}
}

// Control runs one pass if due. With odometry feedback both wheel loops track the target RPM;
// without it the target RPM is mapped linearly onto PWM.
func (c *SpeedController) Control(ctx context.Context, now time.Time, st mission.Snapshot, yaw float64, yawOK bool) error {
	if !c.task.Due(now) {
		return nil
	}
	cfg := c.driver.Config()
	left, right := c.driver.Wheels()
	settling := now.Before(st.EnteredAt.Add(cfg.ZeroSettle))

	if !cfg.OdometryFeedback {
		l := utils.ClampSym(utils.MapRange(left.TargetRPM, -cfg.MaxRPM, cfg.MaxRPM, -cfg.MaxPWM, cfg.MaxPWM), cfg.MaxPWM)
		r := utils.ClampSym(utils.MapRange(right.TargetRPM, -cfg.MaxRPM, cfg.MaxRPM, -cfg.MaxPWM, cfg.MaxPWM), cfg.MaxPWM)
		if settling {
			l, r = 0, 0
			if c.heading != nil && yawOK {
				c.heading.SetDriveHeading(yaw)
			}
		}
		return c.driver.SetPWM(ctx, now, l, r, true)
	}

	wl, wr := left.TargetRPM, right.TargetRPM
	if wl == wr {
		// straight line: steer the measured difference out
		diff := left.RPM - right.RPM
		wl -= diff / 2
		wr += diff / 2
	}
	if settling {
		wl, wr = 0, 0
	}
	l := c.track(c.loops.Left, left, wl, cfg.MaxPWM, now)
	r := c.track(c.loops.Right, right, wr, cfg.MaxPWM, now)
	return c.driver.SetPWM(ctx, now, l, r, false)
}

// track steps one wheel loop and returns the new PWM: the loop output is added to the PWM
// already applied.
func (c *SpeedController) track(pid *control.PID, w *motor.Wheel, setpoint, maxPWM float64, now time.Time) float64 {
	pid.X = w.RPM
	pid.W = setpoint
	pid.SetLimits(control.Sym(maxPWM))
	y := pid.Update(now)
	if math.Abs(pid.X) < 2 && math.Abs(pid.W) < 0.1 {
		return 0
	}
	return utils.ClampSym(w.PWM+y, maxPWM)
}
