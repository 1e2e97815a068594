// Package power supervises the battery: it cuts power when the voltage is too low or the robot
// has been idle too long, sends the robot home early and inhibits the blade on a weak battery.
package power

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/mission"
	"github.com/lawnbot/motioncore/schedule"
)

// Config configures the battery supervisor.
type Config struct {
	// Monitor enables the voltage checks. The idle shutoff runs regardless.
	Monitor          bool    `json:"monitor"`
	SwitchOffVoltage float64 `json:"switch_off_voltage"`
	GoHomeVoltage    float64 `json:"go_home_voltage"`
	// MowCutoffVoltage inhibits the blade. Zero means 0.1V below GoHomeVoltage.
	MowCutoffVoltage float64 `json:"mow_cutoff_voltage"`
	// IdleTimeout cuts power after this long in an idle state. Zero disables the idle shutoff.
	IdleTimeout time.Duration `json:"idle_timeout"`
	// IdleFloor is the least idle time before any idle shutoff.
	IdleFloor time.Duration `json:"idle_floor"`
	// StartupGrace is the uptime before any shutoff is considered.
	StartupGrace time.Duration `json:"startup_grace"`
	// PerimeterUse allows sending the robot home along the perimeter wire.
	PerimeterUse bool          `json:"perimeter_use"`
	PersistPause time.Duration `json:"persist_pause"`
	CutoffPause  time.Duration `json:"cutoff_pause"`
	Period       time.Duration `json:"period"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var errs error
	if cfg.Monitor && cfg.GoHomeVoltage < cfg.SwitchOffVoltage {
		errs = multierr.Append(errs, errors.Errorf("%s: go_home_voltage should not be below switch_off_voltage", path))
	}
	if cfg.IdleTimeout < 0 || cfg.IdleFloor < 0 || cfg.StartupGrace < 0 || cfg.PersistPause < 0 || cfg.CutoffPause < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: durations cannot be negative", path))
	}
	if cfg.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period should be positive", path))
	}
	return errs
}

func (cfg *Config) mowCutoff() float64 {
	if cfg.MowCutoffVoltage != 0 {
		return cfg.MowCutoffVoltage
	}
	return cfg.GoHomeVoltage - 0.1
}

// VoltageSensor reads the battery voltage.
type VoltageSensor interface {
	BatteryVoltage() float64
}

// Manager runs the battery checks once per period.
type Manager struct {
	cfg       Config
	act       motor.Actuators
	sensor    VoltageSensor
	counters  *faults.Counters
	persister faults.Persister
	mission   mission.Machine
	logger    logging.Logger
	task      *schedule.Task

	// Settle performs the hardware settling pauses around persisting and cutting power.
	Settle func(time.Duration)

	start      time.Time
	idle       time.Duration
	latched    bool
	wasIdle    bool
	voltage    float64
	mowInhibit bool
}

// NewManager returns a battery supervisor whose uptime starts at now.
func NewManager(
	cfg Config,
	act motor.Actuators,
	sensor VoltageSensor,
	counters *faults.Counters,
	persister faults.Persister,
	machine mission.Machine,
	settle func(time.Duration),
	now time.Time,
	logger logging.Logger,
) *Manager {
	return &Manager{
		cfg:       cfg,
		act:       act,
		sensor:    sensor,
		counters:  counters,
		persister: persister,
		mission:   machine,
		logger:    logger,
		task:      schedule.NewTask(cfg.Period),
		Settle:    settle,
		start:     now,
	}
}

// Check runs one pass if due.
func (m *Manager) Check(ctx context.Context, now time.Time, st mission.Snapshot) error {
	if !m.task.Due(now) {
		return nil
	}
	var errs error
	started := now.Sub(m.start) > m.cfg.StartupGrace

	if m.cfg.Monitor {
		m.voltage = m.sensor.BatteryVoltage()
		switch {
		case started && m.voltage < m.cfg.SwitchOffVoltage && !m.latched:
			m.logger.Warnw("battery below switch off voltage", "voltage", m.voltage, "threshold", m.cfg.SwitchOffVoltage)
			m.counters.Add(faults.BatteryLow)
			errs = multierr.Append(errs, m.shutoff(ctx, true))
		case m.voltage < m.cfg.GoHomeVoltage && st.State == mission.StateForward && m.cfg.PerimeterUse:
			m.logger.Infow("battery below go home voltage", "voltage", m.voltage, "threshold", m.cfg.GoHomeVoltage)
			m.mission.RequestState(ctx, mission.StatePerimeterFind, "battery low")
		}
		m.mowInhibit = m.voltage < m.cfg.mowCutoff()
	}

	idle := st.State.Idle()
	switch {
	case idle && started && !m.latched:
		m.idle += m.cfg.Period
		if m.cfg.IdleTimeout != 0 && m.idle > m.cfg.IdleFloor && m.idle > m.cfg.IdleTimeout {
			m.logger.Infow("idle too long, saving state for switch off", "idle", m.idle)
			errs = multierr.Append(errs, m.shutoff(ctx, false))
		}
	case !idle && m.wasIdle:
		errs = multierr.Append(errs, m.resetIdle(ctx))
	default:
	}
	m.wasIdle = idle
	return errs
}

// shutoff persists the accounting state and latches the switched off flag, then cuts power only if
// a fresh voltage read is still below the switch off threshold. lowVoltage marks the low battery
// path: it pauses before persisting and drops the latch again when the battery has recovered.
func (m *Manager) shutoff(ctx context.Context, lowVoltage bool) error {
	var errs error
	if lowVoltage {
		m.settle(m.cfg.PersistPause)
	}
	errs = multierr.Append(errs, errors.Wrap(m.persister.SaveErrorCounters(ctx, m.counters.Snapshot()), "saving error counters"))
	errs = multierr.Append(errs, errors.Wrap(m.persister.SaveStats(ctx), "saving stats"))
	m.latched = true

	if v := m.sensor.BatteryVoltage(); v >= m.cfg.SwitchOffVoltage {
		if lowVoltage {
			m.logger.Infow("battery recovered, not switching off", "voltage", v)
			m.latched = false
		} else {
			m.logger.Infow("battery healthy, keeping power on", "voltage", v)
		}
		return errs
	}
	m.logger.Warn("switching battery off")
	if err := m.act.SetActuator(ctx, motor.ActuatorBatterySwitch, 0); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "switching battery off"))
	}
	m.settle(m.cfg.CutoffPause)
	return errs
}

func (m *Manager) resetIdle(ctx context.Context) error {
	m.idle = 0
	if !m.latched {
		return nil
	}
	m.latched = false
	m.logger.Info("leaving idle state, switching battery back on")
	return errors.Wrap(m.act.SetActuator(ctx, motor.ActuatorBatterySwitch, 1), "switching battery on")
}

func (m *Manager) settle(d time.Duration) {
	if m.Settle != nil && d > 0 {
		m.Settle(d)
	}
}

// MowInhibited reports whether the battery is too weak to run the blade.
func (m *Manager) MowInhibited() bool {
	return m.mowInhibit
}

// Latched reports whether the battery has been switched off.
func (m *Manager) Latched() bool {
	return m.latched
}

// Voltage returns the last voltage read.
func (m *Manager) Voltage() float64 {
	return m.voltage
}

// Idle returns the accumulated idle time.
func (m *Manager) Idle() time.Duration {
	return m.idle
}
