package control

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestGainsValidate(t *testing.T) {
	test.That(t, Gains{}.Validate("left"), test.ShouldNotBeNil)
	test.That(t, Gains{}.Validate("left").Error(), test.ShouldEqual,
		"pid left should have at least one Ki, Kp or Kd field")
	test.That(t, Gains{Kp: math.NaN()}.Validate("left"), test.ShouldNotBeNil)
	test.That(t, Gains{Kp: 1.5, Ki: 0.29, Kd: 0.25}.Validate("left"), test.ShouldBeNil)
}

func TestPIDProportional(t *testing.T) {
	p := NewPID("p", Gains{Kp: 2})
	p.SetLimits(Sym(100))
	p.W = 10
	p.X = 4
	test.That(t, p.Compute(100*time.Millisecond), test.ShouldAlmostEqual, 12, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, 12, 1e-9)
}

func TestPIDIntegralAndDerivative(t *testing.T) {
	p := NewPID("pid", Gains{Ki: 1, Kd: 0.5})
	p.SetLimits(Sym(100))
	p.W = 1

	// first step: integral only, no derivative without a previous error
	test.That(t, p.Compute(100*time.Millisecond), test.ShouldAlmostEqual, 0.1, 1e-9)
	test.That(t, p.Integral(), test.ShouldAlmostEqual, 0.1, 1e-9)

	// error drops from 1 to 0.5: derivative is -0.5/0.1 = -5
	p.X = 0.5
	y := p.Compute(100 * time.Millisecond)
	test.That(t, y, test.ShouldAlmostEqual, 0.15+0.5*-5, 1e-9)

	p.ResetIntegral()
	test.That(t, p.Integral(), test.ShouldEqual, 0)
}

func TestPIDNonPositiveDt(t *testing.T) {
	p := NewPID("p", Gains{Kp: 1, Ki: 10, Kd: 10})
	p.SetLimits(Sym(100))
	p.W = 3
	test.That(t, p.Compute(0), test.ShouldAlmostEqual, 3, 1e-9)
	test.That(t, p.Integral(), test.ShouldEqual, 0)
}

func TestPIDDtCapped(t *testing.T) {
	p := NewPID("p", Gains{Ki: 1})
	p.SetLimits(Sym(1000))
	p.W = 1
	p.Compute(time.Hour)
	test.That(t, p.Integral(), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestPIDOutputAlwaysBounded(t *testing.T) {
	for _, lim := range []Limits{
		Sym(255),
		{Min: -204, Max: 204, MaxOutput: 20},
		{Min: -127.5, Max: 127.5, MaxOutput: 255},
		{Min: 0, Max: 50, MaxOutput: 40},
	} {
		p := NewPID("p", Gains{Kp: 51, Ki: 12.5, Kd: 0.8})
		p.SetLimits(lim)
		for i, e := range []float64{1e9, -1e9, 3, -7, 1e12, -1e12, 0, 42} {
			p.W = e
			y := p.Compute(time.Duration(i*37) * time.Millisecond)
			test.That(t, y, test.ShouldBeBetweenOrEqual, lim.Min, lim.Max)
			test.That(t, math.Abs(y), test.ShouldBeLessThanOrEqualTo, lim.MaxOutput)
		}
	}
}

func TestPIDZeroCapHoldsOutputAtZero(t *testing.T) {
	p := NewPID("p", Gains{Kp: 1, Ki: 1})
	p.SetLimits(Limits{Min: -10, Max: 10})
	p.W = 100
	test.That(t, p.Compute(100*time.Millisecond), test.ShouldEqual, 0)
	test.That(t, p.Integral(), test.ShouldEqual, 0)
}

func TestPIDUnboundedUntilLimited(t *testing.T) {
	p := NewPID("p", Gains{Kp: 2})
	p.W = 1e6
	test.That(t, p.Compute(0), test.ShouldEqual, 2e6)
}

func TestPIDAntiWindup(t *testing.T) {
	p := NewPID("p", Gains{Ki: 2})
	p.SetLimits(Sym(10))
	p.W = 100
	for i := 0; i < 50; i++ {
		p.Compute(time.Second)
	}
	test.That(t, p.Integral(), test.ShouldAlmostEqual, 5, 1e-9)
	// integral recovers quickly once the error flips
	p.W = -100
	test.That(t, p.Compute(time.Second), test.ShouldBeLessThan, 0)
}

func TestLinkedPID(t *testing.T) {
	left := NewPID("left", Gains{Kp: 1.5, Ki: 0.29, Kd: 0.25})
	right := NewLinkedPID("right", left)
	test.That(t, right.Gains(), test.ShouldResemble, left.Gains())

	left.SetGains(Gains{Kp: 3})
	right.SetGains(Gains{Kp: 99})
	right.SetLimits(Sym(255))
	right.W = 2
	test.That(t, right.Compute(100*time.Millisecond), test.ShouldAlmostEqual, 6, 1e-9)
	test.That(t, right.Gains(), test.ShouldResemble, Gains{Kp: 3})
}

func TestPIDReset(t *testing.T) {
	p := NewPID("p", Gains{Ki: 1, Kd: 1})
	p.SetLimits(Sym(100))
	p.W = 1
	p.Compute(100 * time.Millisecond)
	p.Reset()
	test.That(t, p.Integral(), test.ShouldEqual, 0)
	// no derivative kick after a reset
	test.That(t, p.Compute(100*time.Millisecond), test.ShouldAlmostEqual, 0.1, 1e-9)
}

func TestLowPass(t *testing.T) {
	_, err := NewLowPass(1)
	test.That(t, err, test.ShouldNotBeNil)

	f, err := NewLowPass(0.8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Next(100), test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, f.Next(100), test.ShouldAlmostEqual, 36, 1e-9)
	test.That(t, f.Value(), test.ShouldAlmostEqual, 36, 1e-9)
	f.Reset()
	test.That(t, f.Value(), test.ShouldEqual, 0)
}

func TestPIDUpdateTracksOwnTime(t *testing.T) {
	p := NewPID("p", Gains{Ki: 1})
	p.SetLimits(Sym(100))
	p.W = 2
	start := time.Unix(10, 0)
	// first step has no elapsed time
	test.That(t, p.Update(start), test.ShouldEqual, 0)
	test.That(t, p.Update(start.Add(500*time.Millisecond)), test.ShouldAlmostEqual, 1, 1e-9)
	// gaps longer than a second count as one second
	test.That(t, p.Update(start.Add(10*time.Second)), test.ShouldAlmostEqual, 3, 1e-9)
}
