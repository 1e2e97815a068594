package base

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/testutils/inject"
	"github.com/lawnbot/motioncore/utils"
)

var testGains = Gains{
	Wheel:     control.Gains{Kp: 1.5, Ki: 0.29, Kd: 0.25},
	Roll:      control.Gains{Kp: 0.8, Ki: 21},
	Direction: control.Gains{Kp: 5, Ki: 1, Kd: 1},
}

type fixture struct {
	clk     *clock.Mock
	act     *inject.Actuators
	left    *motor.Wheel
	right   *motor.Wheel
	loops   *WheelLoops
	heading *HeadingController
	speed   *SpeedController
}

func newFixture(t *testing.T, feedback bool) *fixture {
	t.Helper()
	logger := logging.NewTestLogger(t)
	f := &fixture{
		clk:   clock.NewMock(),
		act:   inject.NewActuators(),
		left:  &motor.Wheel{},
		right: &motor.Wheel{},
		loops: NewWheelLoops(testGains.Wheel),
	}
	cfg := motor.WheelConfig{
		MaxPWM:              255,
		MaxRPM:              25,
		Accel:               time.Second,
		OdometryFeedback:    feedback,
		ZeroTimeoutFeedback: 500 * time.Millisecond,
		ZeroTimeoutOpenLoop: 700 * time.Millisecond,
		ReverseRamp:         200 * time.Millisecond,
		ZeroSettle:          3 * time.Second,
		ControlPeriod:       100 * time.Millisecond,
	}
	driver := motor.NewWheelDriver(cfg, f.act, f.left, f.right, logger)
	f.heading = NewHeadingController(driver, f.loops, testGains, logger)
	f.speed = NewSpeedController(driver, f.loops, f.heading, logger)
	return f
}

// driving returns a forward state entered long enough ago to be past the settle time.
func (f *fixture) driving() mission.Snapshot {
	return mission.Snapshot{State: mission.StateForward, EnteredAt: f.clk.Now().Add(-10 * time.Second)}
}

func TestSpeedSettlesAfterStateChange(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 20

	st := mission.Snapshot{State: mission.StateForward, EnteredAt: f.clk.Now()}
	test.That(t, f.speed.Control(ctx, f.clk.Now(), st, 0, false), test.ShouldBeNil)
	test.That(t, f.loops.Left.W, test.ShouldEqual, 0)
	test.That(t, f.left.PWM, test.ShouldEqual, 0)
	test.That(t, f.right.PWM, test.ShouldEqual, 0)

	f.clk.Add(3 * time.Second)
	test.That(t, f.speed.Control(ctx, f.clk.Now(), st, 0, false), test.ShouldBeNil)
	test.That(t, f.loops.Left.W, test.ShouldEqual, 20)
	// the 3s gap since the last step counts as 1s: kp*20 + ki*20 + kd*20
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 40.8, 1e-9)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, 40.8, 1e-9)
}

func TestSpeedDriftCompensation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.left.TargetRPM, f.right.TargetRPM = 20, 20
	f.left.RPM, f.right.RPM = 22, 18
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	test.That(t, f.loops.Left.W, test.ShouldEqual, 18)
	test.That(t, f.loops.Right.W, test.ShouldEqual, 22)

	// a curve keeps independent setpoints
	f.clk.Add(100 * time.Millisecond)
	f.left.TargetRPM, f.right.TargetRPM = 20, 10
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	test.That(t, f.loops.Left.W, test.ShouldEqual, 20)
	test.That(t, f.loops.Right.W, test.ShouldEqual, 10)
}

func TestSpeedAddsToAppliedPWMAndSnapsToZero(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.left.PWM, f.right.PWM = 100, 40
	f.left.TargetRPM, f.right.TargetRPM = 20, 0
	f.left.RPM, f.right.RPM = 20, 1.5
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	// left is on target: the error is zero and the PWM is held
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 100, 1e-9)
	test.That(t, f.right.PWM, test.ShouldEqual, 0)
	test.That(t, f.act.Value(motor.ActuatorMotorRight), test.ShouldEqual, 0)
}

func TestSpeedOpenLoop(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.left.TargetRPM, f.right.TargetRPM = 12.5, -25
	st := mission.Snapshot{State: mission.StateForward, EnteredAt: f.clk.Now()}
	test.That(t, f.speed.Control(ctx, f.clk.Now(), st, 1.2, true), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldEqual, 0)
	test.That(t, f.heading.DriveHeading(), test.ShouldEqual, 1.2)

	f.clk.Add(3 * time.Second)
	for i := 0; i < 60; i++ {
		f.clk.Add(100 * time.Millisecond)
		test.That(t, f.speed.Control(ctx, f.clk.Now(), st, 0.4, true), test.ShouldBeNil)
	}
	test.That(t, f.heading.DriveHeading(), test.ShouldEqual, 1.2)
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 127.5, 1)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, -255, 2)
}

func TestSpeedIsGated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 20
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	calls := len(f.act.Calls)

	f.clk.Add(50 * time.Millisecond)
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	test.That(t, len(f.act.Calls), test.ShouldEqual, calls)
}

func TestRollDrivesWheelsOpposite(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.heading.SetRollHeading(0.5)
	test.That(t, f.heading.Roll(ctx, f.clk.Now(), f.driving(), 0), test.ShouldBeNil)
	// the roll loop output is capped at 25/1.25 rpm
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, -20, 1e-9)
	test.That(t, f.loops.Left.W, test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, f.loops.Right.W, test.ShouldAlmostEqual, -20, 1e-9)

	roll, _ := f.heading.Loops()
	test.That(t, roll.X, test.ShouldAlmostEqual, utils.RadToDeg(0.5), 1e-9)
}

func TestRollZeroWhenParked(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.heading.SetRollHeading(0.5)

	// just entered: still allowed to move
	st := mission.Snapshot{State: mission.StateOff, EnteredAt: f.clk.Now()}
	test.That(t, f.heading.Roll(ctx, f.clk.Now(), st, 0), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldNotEqual, 0)

	f.clk.Add(1100 * time.Millisecond)
	test.That(t, f.heading.Roll(ctx, f.clk.Now(), st, 0), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldEqual, 0)
	test.That(t, f.right.PWM, test.ShouldEqual, 0)
}

func TestDirectionBrakesOneWheel(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 20
	f.heading.SetDriveHeading(0)

	test.That(t, f.heading.Direction(ctx, f.clk.Now(), f.driving(), 0.01), test.ShouldBeNil)
	expected := (20 - 5*utils.RadToDeg(0.01)) * 255 / 25
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, expected, 1e-6)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, 204, 1e-9)

	// drifting the other way brakes the right wheel
	f.clk.Add(100 * time.Millisecond)
	f.heading = NewHeadingController(f.speed.driver, f.loops, testGains, logging.NewTestLogger(t))
	test.That(t, f.heading.Direction(ctx, f.clk.Now(), f.driving(), -0.01), test.ShouldBeNil)
	test.That(t, f.right.PWM, test.ShouldBeLessThan, 204)
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 204, 1e-9)
}

func TestDirectionNeverReverses(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 20

	test.That(t, f.heading.Direction(ctx, f.clk.Now(), f.driving(), 0.5), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldEqual, 0)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, 204, 1e-9)
}

func TestDirectionZeroWhenParked(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 20
	f.heading.SetDriveHeading(0)

	st := mission.Snapshot{State: mission.StateStation, EnteredAt: f.clk.Now()}
	test.That(t, f.heading.Direction(ctx, f.clk.Now(), st, 0), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldAlmostEqual, 204, 1e-9)
	test.That(t, f.right.PWM, test.ShouldAlmostEqual, 204, 1e-9)

	f.clk.Add(1100 * time.Millisecond)
	test.That(t, f.heading.Direction(ctx, f.clk.Now(), st, 0), test.ShouldBeNil)
	test.That(t, f.left.PWM, test.ShouldEqual, 0)
	test.That(t, f.right.PWM, test.ShouldEqual, 0)
}

func TestHeadingRoutinesShareSchedule(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.heading.SetRollHeading(0.5)
	f.left.TargetRPM, f.right.TargetRPM = 20, 20

	test.That(t, f.heading.Roll(ctx, f.clk.Now(), f.driving(), 0), test.ShouldBeNil)
	calls := len(f.act.Calls)
	test.That(t, f.heading.Direction(ctx, f.clk.Now(), f.driving(), 0), test.ShouldBeNil)
	test.That(t, len(f.act.Calls), test.ShouldEqual, calls)
}

func TestWheelLoopsReset(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.left.TargetRPM, f.right.TargetRPM = 20, 10

	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	f.clk.Add(100 * time.Millisecond)
	test.That(t, f.speed.Control(ctx, f.clk.Now(), f.driving(), 0, false), test.ShouldBeNil)
	test.That(t, f.loops.Left.Integral(), test.ShouldNotEqual, 0)
	test.That(t, f.loops.Right.Integral(), test.ShouldNotEqual, 0)

	f.loops.Reset()
	test.That(t, f.loops.Left.Integral(), test.ShouldEqual, 0)
	test.That(t, f.loops.Right.Integral(), test.ShouldEqual, 0)
	test.That(t, f.loops.Right.Gains(), test.ShouldResemble, testGains.Wheel)
}
