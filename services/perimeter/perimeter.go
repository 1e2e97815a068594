// Package perimeter follows the boundary wire with a bang-bang PID loop and escapes when the
// robot stops making progress along it.
package perimeter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/schedule"
	"github.com/lawnbot/motioncore/utils"
)

// escapeScale sets the escape maneuver to maxPWM/escapeScale.
const escapeScale = 1.5

// Config configures wire tracking.
type Config struct {
	Gains control.Gains `json:"pid"`
	// TransitionTimeout is how long the wire signal may stay unchanged before the robot is
	// considered stuck.
	TransitionTimeout time.Duration `json:"transition_timeout"`
	// ErrorTimeout is how long the wire signal may stay unchanged before tracking is given up.
	ErrorTimeout time.Duration `json:"error_timeout"`
	// StartupGrace is the time after entering a state during which the robot is never considered
	// stuck.
	StartupGrace time.Duration `json:"startup_grace"`
	// BlockInnerWheel escapes by stopping the inner wheel instead of rolling on the spot.
	BlockInnerWheel bool          `json:"block_inner_wheel"`
	Period          time.Duration `json:"period"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	errs := cfg.Gains.Validate(path)
	if cfg.TransitionTimeout <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: transition_timeout should be positive", path))
	}
	if cfg.ErrorTimeout <= cfg.TransitionTimeout {
		errs = multierr.Append(errs, errors.Errorf("%s: error_timeout should be longer than transition_timeout", path))
	}
	if cfg.StartupGrace < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: startup_grace cannot be negative", path))
	}
	if cfg.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period should be positive", path))
	}
	return errs
}

// Tracker drives along the perimeter wire.
type Tracker struct {
	cfg      Config
	driver   *motor.WheelDriver
	pid      *control.PID
	counters *faults.Counters
	mission  mission.Machine
	logger   logging.Logger
	task     *schedule.Task

	inside         bool
	observed       bool
	lastTransition time.Time
	escalated      bool
}

// NewTracker returns a wire tracker.
func NewTracker(
	cfg Config,
	driver *motor.WheelDriver,
	counters *faults.Counters,
	machine mission.Machine,
	logger logging.Logger,
) *Tracker {
	return &Tracker{
		cfg:      cfg,
		driver:   driver,
		pid:      control.NewPID("perimeter", cfg.Gains),
		counters: counters,
		mission:  machine,
		logger:   logger,
		task:     schedule.NewTask(cfg.Period),
	}
}

// Observe records the wire signal. It is called on every pass so no transition is missed
// between control periods.
func (t *Tracker) Observe(now time.Time, inside bool) {
	if !t.observed || inside != t.inside {
		t.lastTransition = now
	}
	t.inside = inside
	t.observed = true
}

// LastTransition returns when the wire signal last changed.
func (t *Tracker) LastTransition() time.Time {
	return t.lastTransition
}

// Control runs one tracking pass if due.
func (t *Tracker) Control(ctx context.Context, now time.Time, st mission.Snapshot) error {
	if !t.task.Due(now) {
		return nil
	}
	maxPWM := t.driver.Config().MaxPWM

	if now.After(st.EnteredAt.Add(t.cfg.StartupGrace)) && now.After(t.lastTransition.Add(t.cfg.TransitionTimeout)) {
		// wheels are spinning without progress along the wire: roll to get ground again
		err := t.escape(ctx, now, maxPWM/escapeScale)
		if now.After(t.lastTransition.Add(t.cfg.ErrorTimeout)) && !t.escalated {
			t.escalated = true
			count := t.counters.Add(faults.TrackingLost)
			t.logger.Warnw("perimeter tracking lost", "since", now.Sub(t.lastTransition), "count", count)
			t.mission.RequestState(ctx, mission.StatePerimeterFind, "perimeter tracking lost")
		}
		return err
	}
	t.escalated = false

	t.pid.X = 1
	if t.inside {
		t.pid.X = -1
	}
	t.pid.W = 0
	t.pid.SetLimits(control.Sym(maxPWM))
	y := t.pid.Update(now)
	return t.driver.SetPWM(ctx, now,
		utils.ClampSym(maxPWM/2-y, maxPWM),
		utils.ClampSym(maxPWM/2+y, maxPWM),
		false)
}

func (t *Tracker) escape(ctx context.Context, now time.Time, pwm float64) error {
	var l, r float64
	switch {
	case t.cfg.BlockInnerWheel && t.inside:
		l, r = 0, pwm
	case t.cfg.BlockInnerWheel:
		l, r = pwm, 0
	case t.inside:
		l, r = -pwm, pwm
	default:
		l, r = pwm, -pwm
	}
	return t.driver.SetPWM(ctx, now, l, r, false)
}

// PID returns the tracking loop for diagnostics.
func (t *Tracker) PID() *control.PID {
	return t.pid
}
