package blade

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/lawnbot/motioncore/components/encoder"
	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/testutils/inject"
)

func testConfig(modulate bool) Config {
	return Config{
		MaxPWM:              255,
		Accel:               2 * time.Second,
		PWMSet:              200,
		RPMSet:              3300,
		Modulate:            modulate,
		PulsesPerRevolution: 1,
		RampStep:            200,
		FilterHistory:       0.8,
		Gains:               control.Gains{Kp: 0.005, Ki: 0.01, Kd: 0.01},
		Period:              100 * time.Millisecond,
	}
}

type fixture struct {
	clk      *clock.Mock
	act      *inject.Actuators
	tach     *encoder.Tachometer
	driver   *motor.MowDriver
	counters *faults.Counters
	blade    *Controller
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewMock(),
		act:      inject.NewActuators(),
		tach:     &encoder.Tachometer{},
		counters: faults.NewCounters(),
	}
	f.driver = motor.NewMowDriver(cfg.MaxPWM, cfg.Accel, f.act)
	var err error
	f.blade, err = NewController(cfg, f.driver, f.tach, f.counters, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return f
}

func (f *fixture) run(t *testing.T, cmd Command, passes int) {
	t.Helper()
	for i := 0; i < passes; i++ {
		test.That(t, f.blade.Control(context.Background(), f.clk.Now(), cmd), test.ShouldBeNil)
		f.clk.Add(100 * time.Millisecond)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(true)
	test.That(t, cfg.Validate("mow"), test.ShouldBeNil)
	cfg.FilterHistory = 1
	cfg.PWMSet = 300
	err := cfg.Validate("mow")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "filter_history")
	test.That(t, err.Error(), test.ShouldContainSubstring, "pwm_set")
}

func TestOpenLoopConfigMatchesController(t *testing.T) {
	cfg := testConfig(false)
	cfg.FilterHistory = 1.5
	test.That(t, cfg.Validate("mow"), test.ShouldNotBeNil)
	_, err := NewController(cfg, motor.NewMowDriver(255, time.Second, inject.NewActuators()), nil,
		faults.NewCounters(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	cfg.FilterHistory = 0
	test.That(t, cfg.Validate("mow"), test.ShouldBeNil)
	_, err = NewController(cfg, motor.NewMowDriver(255, time.Second, inject.NewActuators()), nil,
		faults.NewCounters(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
}

func TestRegulatedBladeNeedsTachometer(t *testing.T) {
	_, err := NewController(testConfig(true), motor.NewMowDriver(255, time.Second, inject.NewActuators()), nil,
		faults.NewCounters(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOpenLoopRampsUpAndStopsAtOnce(t *testing.T) {
	f := newFixture(t, testConfig(false))
	f.run(t, Command{Enable: true}, 1)
	test.That(t, f.driver.PWM(), test.ShouldBeLessThan, 1)

	f.run(t, Command{Enable: true}, 200)
	test.That(t, f.driver.PWM(), test.ShouldAlmostEqual, 200, 0.5)
	test.That(t, f.act.Value(motor.ActuatorMotorMow), test.ShouldAlmostEqual, 200, 0.5)

	f.run(t, Command{Enable: true, Override: true}, 1)
	test.That(t, f.driver.PWM(), test.ShouldEqual, 0)
}

func TestInhibitAndFaultsStopTheBlade(t *testing.T) {
	f := newFixture(t, testConfig(false))
	f.run(t, Command{Enable: true}, 50)
	test.That(t, f.driver.PWM(), test.ShouldBeGreaterThan, 100)

	f.run(t, Command{Enable: true, Inhibit: true}, 1)
	test.That(t, f.driver.PWM(), test.ShouldEqual, 0)

	f.run(t, Command{Enable: true}, 50)
	test.That(t, f.driver.PWM(), test.ShouldBeGreaterThan, 100)

	f.counters.Add(faults.MotorStuck)
	f.run(t, Command{Enable: true}, 1)
	test.That(t, f.driver.PWM(), test.ShouldEqual, 0)
	f.run(t, Command{Enable: true}, 50)
	test.That(t, f.driver.PWM(), test.ShouldEqual, 0)
}

func TestRegulatedRampsSetpoint(t *testing.T) {
	f := newFixture(t, testConfig(true))
	ctx := context.Background()

	test.That(t, f.blade.Control(ctx, f.clk.Now(), Command{Enable: true}), test.ShouldBeNil)
	test.That(t, f.blade.Speed(), test.ShouldEqual, 200)
	// feed forward 200/20 plus kp*200 on the first step
	test.That(t, f.driver.PWM(), test.ShouldAlmostEqual, 11, 1e-9)

	// 5 pulses per 100ms is 3000 rpm; the measured value is low passed
	for i := 0; i < 5; i++ {
		f.tach.Edge(true)
		f.tach.Edge(false)
	}
	f.clk.Add(100 * time.Millisecond)
	test.That(t, f.blade.Control(ctx, f.clk.Now(), Command{Enable: true}), test.ShouldBeNil)
	test.That(t, f.blade.PID().X, test.ShouldAlmostEqual, 600, 1e-9)
	test.That(t, f.blade.Speed(), test.ShouldEqual, 400)
	test.That(t, f.blade.Sample().RPM, test.ShouldAlmostEqual, 3000, 1e-9)

	f.clk.Add(100 * time.Millisecond)
	f.run(t, Command{Enable: true}, 30)
	test.That(t, f.blade.Speed(), test.ShouldEqual, 3300)
	test.That(t, f.driver.PWM(), test.ShouldBeBetweenOrEqual, 0, 255)

	f.run(t, Command{}, 1)
	test.That(t, f.blade.Speed(), test.ShouldEqual, 0)
	test.That(t, f.driver.PWM(), test.ShouldEqual, 0)
	test.That(t, f.blade.PID().Integral(), test.ShouldEqual, 0)
}

func TestControlIsGated(t *testing.T) {
	f := newFixture(t, testConfig(false))
	ctx := context.Background()
	test.That(t, f.blade.Control(ctx, f.clk.Now(), Command{Enable: true}), test.ShouldBeNil)
	calls := len(f.act.Calls)
	f.clk.Add(10 * time.Millisecond)
	test.That(t, f.blade.Control(ctx, f.clk.Now(), Command{Enable: true}), test.ShouldBeNil)
	test.That(t, len(f.act.Calls), test.ShouldEqual, calls)
}
