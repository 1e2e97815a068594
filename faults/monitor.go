package faults

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/schedule"
)

// MonitorConfig configures the plausibility checks.
type MonitorConfig struct {
	// OdometryFeedback enables the wheel checks. Without measured RPM there is nothing to compare.
	// It follows the wheel configuration.
	OdometryFeedback bool          `json:"-"`
	Period           time.Duration `json:"period"`
	// ForwardWindow is how long the robot must have been driving forward before a stall counts.
	ForwardWindow time.Duration `json:"forward_window"`
	// RollWindow is how long the robot must have been rolling before a wrong direction counts.
	RollWindow time.Duration `json:"roll_window"`
	// StallPWM is the PWM above which a wheel is expected to turn.
	StallPWM float64 `json:"stall_pwm"`
	// WrongDirectionRPM is the tolerance on measured RPM of the wrong sign while rolling.
	WrongDirectionRPM float64 `json:"wrong_direction_rpm"`
	// Cooldown is the hardware settling pause after a driver reset.
	Cooldown time.Duration `json:"cooldown"`
	// MowSenseWindow is how long a driven blade may report no rotation.
	MowSenseWindow time.Duration `json:"mow_sense_window"`
}

// DefaultMonitorConfig returns the reference thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		OdometryFeedback:  true,
		Period:            100 * time.Millisecond,
		ForwardWindow:     4 * time.Second,
		RollWindow:        3 * time.Second,
		StallPWM:          100,
		WrongDirectionRPM: 3,
		Cooldown:          200 * time.Millisecond,
		MowSenseWindow:    4 * time.Second,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *MonitorConfig) Validate(path string) error {
	var errs error
	if cfg.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period should be positive", path))
	}
	if cfg.ForwardWindow < 0 || cfg.RollWindow < 0 || cfg.Cooldown < 0 || cfg.MowSenseWindow < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: windows cannot be negative", path))
	}
	if cfg.StallPWM <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: stall_pwm should be positive", path))
	}
	return errs
}

// DriverResetter clears the protective state of the wheel driver.
type DriverResetter interface {
	ResetFault(ctx context.Context) error
}

// MowSample is the blade state the mow-sense check looks at.
type MowSample struct {
	Modulated bool
	PWM       float64
	RPM       float64
}

// Monitor cross-checks commanded effort against measured response.
type Monitor struct {
	cfg      MonitorConfig
	counters *Counters
	driver   DriverResetter
	left     *motor.Wheel
	right    *motor.Wheel
	logger   logging.Logger
	task     *schedule.Task

	// Settle performs the cooldown pause. It is one of the few places allowed to block.
	Settle func(time.Duration)

	active   map[Kind]bool
	mowSince time.Time
}

// NewMonitor returns a monitor watching the given wheels.
func NewMonitor(
	cfg MonitorConfig,
	counters *Counters,
	driver DriverResetter,
	left, right *motor.Wheel,
	settle func(time.Duration),
	logger logging.Logger,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		counters: counters,
		driver:   driver,
		left:     left,
		right:    right,
		logger:   logger,
		task:     schedule.NewTask(cfg.Period),
		Settle:   settle,
		active:   map[Kind]bool{},
	}
}

// Check runs one pass of the monitor if it is due. A fault is counted once when its condition
// first appears; it is counted again only after the condition has cleared in between.
func (m *Monitor) Check(ctx context.Context, now time.Time, st mission.Snapshot, mow MowSample) error {
	if !m.task.Due(now) {
		return nil
	}
	m.checkMow(now, mow)
	if !m.cfg.OdometryFeedback {
		return nil
	}

	var leftErr, rightErr bool
	since := st.Since(now)
	switch st.State {
	case mission.StateForward:
		if since > m.cfg.ForwardWindow {
			leftErr = m.stalled(m.left)
			rightErr = m.stalled(m.right)
		}
	case mission.StateRoll:
		if since > m.cfg.RollWindow {
			leftErr = m.wrongDirection(m.left)
			rightErr = m.wrongDirection(m.right)
		}
	default:
	}

	return multierr.Combine(
		m.wheelFault(ctx, OdometryLeft, m.left, leftErr),
		m.wheelFault(ctx, OdometryRight, m.right, rightErr),
	)
}

func (m *Monitor) stalled(w *motor.Wheel) bool {
	return w.PWM > m.cfg.StallPWM && math.Abs(w.RPM) < 1
}

func (m *Monitor) wrongDirection(w *motor.Wheel) bool {
	return (w.PWM > m.cfg.StallPWM && w.RPM < -m.cfg.WrongDirectionRPM) ||
		(w.PWM < -m.cfg.StallPWM && w.RPM > m.cfg.WrongDirectionRPM)
}

func (m *Monitor) wheelFault(ctx context.Context, kind Kind, w *motor.Wheel, failing bool) error {
	if !m.episode(kind, failing) {
		return nil
	}
	count := m.counters.Add(kind)
	m.logger.Warnw("odometry fault", "kind", kind, "pwm", w.PWM, "rpm", w.RPM, "count", count)
	err := m.driver.ResetFault(ctx)
	if m.Settle != nil {
		m.Settle(m.cfg.Cooldown)
	}
	return errors.Wrapf(err, "resetting motor fault after %s", kind)
}

func (m *Monitor) checkMow(now time.Time, mow MowSample) {
	if !mow.Modulated || mow.PWM <= m.cfg.StallPWM || mow.RPM >= 1 {
		m.mowSince = time.Time{}
		m.episode(MowSense, false)
		return
	}
	if m.mowSince.IsZero() {
		m.mowSince = now
	}
	if now.Sub(m.mowSince) < m.cfg.MowSenseWindow || !m.episode(MowSense, true) {
		return
	}
	count := m.counters.Add(MowSense)
	m.logger.Warnw("blade is driven but the tachometer reports no rotation", "pwm", mow.PWM, "rpm", mow.RPM, "count", count)
}

// episode records whether kind is failing and reports true only on the rising edge.
func (m *Monitor) episode(kind Kind, failing bool) bool {
	was := m.active[kind]
	m.active[kind] = failing
	return failing && !was
}
