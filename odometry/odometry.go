// Package odometry integrates wheel encoder ticks into wheel speeds and a dead-reckoning pose.
package odometry

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/components/encoder"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/schedule"
)

// HeadingOrder selects which dead-reckoning heading advances the position when no IMU yaw is
// available.
type HeadingOrder string

const (
	// PreUpdate moves along the heading held before this sample's rotation is added.
	PreUpdate HeadingOrder = "pre_update"
	// PostUpdate moves along the heading after this sample's rotation is added. Older firmware
	// did this; it is kept so logged tracks can be replayed identically.
	PostUpdate HeadingOrder = "post_update"
)

// Config holds the geometry of the drive.
type Config struct {
	TicksPerRevolution float64       `json:"ticks_per_revolution"`
	TicksPerCm         float64       `json:"ticks_per_cm"`
	WheelBaseCm        float64       `json:"wheel_base_cm"`
	Period             time.Duration `json:"period"`
	HeadingOrder       HeadingOrder  `json:"heading_order"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var errs error
	if cfg.TicksPerRevolution <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: ticks_per_revolution should be positive", path))
	}
	if cfg.TicksPerCm <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: ticks_per_cm should be positive", path))
	}
	if cfg.WheelBaseCm <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: wheel_base_cm should be positive", path))
	}
	if cfg.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period should be positive", path))
	}
	switch cfg.HeadingOrder {
	case "", PreUpdate, PostUpdate:
	default:
		errs = multierr.Append(errs, errors.Errorf("%s: unknown heading_order %q", path, cfg.HeadingOrder))
	}
	return errs
}

// Pose is a planar position in cm with a heading in radians. Y points along heading zero and X
// along heading pi/2.
type Pose struct {
	Position r2.Point
	Theta    float64
}

func (p Pose) String() string {
	return fmt.Sprintf("x=%.1fcm y=%.1fcm theta=%.3frad", p.Position.X, p.Position.Y, p.Theta)
}

// Estimator samples the tick counters once per period. It never resets the counters; it keeps
// its own snapshot and works with deltas.
type Estimator struct {
	mu     sync.Mutex
	cfg    Config
	left   *encoder.Counter
	right  *encoder.Counter
	logger logging.Logger
	task   *schedule.Task

	lastLeft, lastRight int64
	lastRPM             time.Time
	leftRPM, rightRPM   float64
	pose                Pose
}

// NewEstimator returns an estimator at the origin reading the given counters.
func NewEstimator(cfg Config, left, right *encoder.Counter, now time.Time, logger logging.Logger) *Estimator {
	if cfg.HeadingOrder == "" {
		cfg.HeadingOrder = PreUpdate
	}
	e := &Estimator{
		cfg:    cfg,
		left:   left,
		right:  right,
		logger: logger,
		task:   schedule.NewTask(cfg.Period),
	}
	e.reset(now)
	return e
}

// Reset moves the estimate back to the origin and restarts the speed measurement at now.
func (e *Estimator) Reset(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset(now)
}

func (e *Estimator) reset(now time.Time) {
	e.lastLeft = e.left.Load()
	e.lastRight = e.right.Load()
	e.lastRPM = now
	e.leftRPM, e.rightRPM = 0, 0
	e.pose = Pose{}
	e.task.Reset()
}

// Update integrates the ticks counted since the previous sample if a sample is due. yaw is the
// IMU heading in radians, used for the position step when yawOK is set. It reports whether a
// sample was taken.
func (e *Estimator) Update(now time.Time, yaw float64, yawOK bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.task.Due(now) {
		return false
	}

	l, r := e.left.Load(), e.right.Load()
	ticksL, ticksR := float64(l-e.lastLeft), float64(r-e.lastRight)
	e.lastLeft, e.lastRight = l, r

	distL := ticksL / e.cfg.TicksPerCm
	distR := ticksR / e.cfg.TicksPerCm
	avg := (distL + distR) / 2
	dTheta := (distL - distR) / e.cfg.WheelBaseCm

	heading := e.pose.Theta
	e.pose.Theta += dTheta
	switch {
	case yawOK:
		heading = yaw
	case e.cfg.HeadingOrder == PostUpdate:
		heading = e.pose.Theta
	}
	e.pose.Position = e.pose.Position.Add(r2.Point{X: math.Sin(heading), Y: math.Cos(heading)}.Mul(avg))

	if ms := float64(now.Sub(e.lastRPM)) / float64(time.Millisecond); ms > 0 {
		e.leftRPM = ticksL / e.cfg.TicksPerRevolution / ms * 60000
		e.rightRPM = ticksR / e.cfg.TicksPerRevolution / ms * 60000
	}
	e.lastRPM = now
	return true
}

// Pose returns the current estimate.
func (e *Estimator) Pose() Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// LeftRPM returns the measured speed of the left wheel.
func (e *Estimator) LeftRPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leftRPM
}

// RightRPM returns the measured speed of the right wheel.
func (e *Estimator) RightRPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rightRPM
}

// Describe logs one diagnostic line with the estimate.
func (e *Estimator) Describe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v rpm=%.1f/%.1f ticks=%d/%d", e.pose, e.leftRPM, e.rightRPM, e.lastLeft, e.lastRight)
	e.logger.Debug(sb.String())
}
