// Package control implements the feedback blocks shared by every motion loop: a bounded PID
// controller, gain-linked PID loops and first order filters.
package control

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/lawnbot/motioncore/utils"
)

// maxDt bounds the sampling time so a long pause never turns into one huge integral step.
const maxDt = time.Second

// Gains holds the tuning of a PID loop.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Validate ensures the gains can drive a loop.
func (g Gains) Validate(name string) error {
	if g.Kp == 0 && g.Ki == 0 && g.Kd == 0 {
		return errors.Errorf("pid %s should have at least one Ki, Kp or Kd field", name)
	}
	for _, v := range []float64{g.Kp, g.Ki, g.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("pid %s has a non finite gain", name)
		}
	}
	return nil
}

// Limits bounds the output of a PID loop. The output is clamped to [Min, Max] and then to
// [-MaxOutput, MaxOutput]. The hard cap always applies: a MaxOutput of zero or less holds the
// output at zero, and an uncapped loop sets it to +Inf.
type Limits struct {
	Min       float64
	Max       float64
	MaxOutput float64
}

// Sym returns limits of [-limit, limit] with the same hard cap.
func Sym(limit float64) Limits {
	return Limits{Min: -limit, Max: limit, MaxOutput: limit}
}

// PID is a discrete proportional-integral-derivative controller. X is the measured value, W the
// setpoint and Y the last computed output.
type PID struct {
	Name string
	X    float64
	W    float64
	Y    float64

	gains  Gains
	master *PID
	limits Limits

	esum     float64
	eold     float64
	havePrev bool
	lastAt   time.Time
}

// unbounded leaves the output free until a controller sets real limits.
var unbounded = Limits{Min: math.Inf(-1), Max: math.Inf(1), MaxOutput: math.Inf(1)}

// NewPID returns a PID loop with its own gains.
func NewPID(name string, gains Gains) *PID {
	return &PID{Name: name, gains: gains, limits: unbounded}
}

// NewLinkedPID returns a PID loop that takes its gains from master on every Compute, so two
// loops that must track identically cannot drift apart in tuning.
func NewLinkedPID(name string, master *PID) *PID {
	return &PID{Name: name, master: master, gains: master.Gains(), limits: unbounded}
}

// Gains returns the gains the loop will use on its next Compute.
func (p *PID) Gains() Gains {
	if p.master != nil {
		return p.master.Gains()
	}
	return p.gains
}

// SetGains retunes a loop. Linked loops ignore this and keep following their master.
func (p *PID) SetGains(g Gains) {
	p.gains = g
}

// SetLimits sets the output bounds used by the next Compute.
func (p *PID) SetLimits(l Limits) {
	p.limits = l
}

// Integral returns the error accumulator.
func (p *PID) Integral() float64 {
	return p.esum
}

// Reset clears the integral and derivative state. The setpoint, measurement and gains are kept.
func (p *PID) Reset() {
	p.esum = 0
	p.eold = 0
	p.havePrev = false
	p.lastAt = time.Time{}
}

// ResetIntegral clears only the error accumulator.
func (p *PID) ResetIntegral() {
	p.esum = 0
}

// Compute runs one step with dt since the previous step and returns the bounded output.
// With dt <= 0 only the proportional term and the existing integral contribute.
func (p *PID) Compute(dt time.Duration) float64 {
	if p.master != nil {
		p.gains = p.master.Gains()
	}
	if dt > maxDt {
		dt = maxDt
	}
	dtS := dt.Seconds()

	e := p.W - p.X
	var deriv float64
	if dtS > 0 {
		p.esum += e * dtS
		// anti wind-up: the integral term alone may never exceed the hard cap
		if p.gains.Ki != 0 && !math.IsInf(p.limits.MaxOutput, 1) {
			bound := math.Max(p.limits.MaxOutput, 0) / math.Abs(p.gains.Ki)
			p.esum = utils.ClampSym(p.esum, bound)
		}
		if p.havePrev {
			deriv = (e - p.eold) / dtS
		}
	}
	p.eold = e
	p.havePrev = true

	y := p.gains.Kp*e + p.gains.Ki*p.esum + p.gains.Kd*deriv
	p.Y = p.bound(y)
	return p.Y
}

// Update runs Compute with the time since the previous Update. Loops shared by several
// routines use this so each step sees the real time since that loop last ran.
func (p *PID) Update(now time.Time) float64 {
	var dt time.Duration
	if !p.lastAt.IsZero() {
		dt = now.Sub(p.lastAt)
	}
	p.lastAt = now
	return p.Compute(dt)
}

func (p *PID) bound(y float64) float64 {
	if math.IsNaN(y) {
		y = 0
	}
	y = utils.Clamp(y, p.limits.Min, p.limits.Max)
	return utils.ClampSym(y, math.Max(p.limits.MaxOutput, 0))
}
