// Package config defines the static configuration of the motion core: every gain, limit, timeout
// and polarity flag, loaded once at startup.
package config

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/lawnbot/motioncore/components/base"
	"github.com/lawnbot/motioncore/components/blade"
	"github.com/lawnbot/motioncore/components/motor"
	"github.com/lawnbot/motioncore/control"
	"github.com/lawnbot/motioncore/faults"
	"github.com/lawnbot/motioncore/logging"
	"github.com/lawnbot/motioncore/odometry"
	"github.com/lawnbot/motioncore/services/perimeter"
	"github.com/lawnbot/motioncore/services/power"
)

// Config is the configuration of the motion core.
type Config struct {
	Wheels    motor.WheelConfig    `json:"wheels"`
	Drive     base.Gains           `json:"drive"`
	Odometry  odometry.Config      `json:"odometry"`
	Mow       blade.Config         `json:"mow"`
	Perimeter perimeter.Config     `json:"perimeter"`
	Battery   power.Config         `json:"battery"`
	Faults    faults.MonitorConfig `json:"faults"`
	Logging   logging.Config       `json:"logging"`
	// Period is how often the outer loop runs every routine.
	Period time.Duration `json:"period"`
}

// Default returns the reference tuning.
func Default() *Config {
	return &Config{
		Wheels: motor.WheelConfig{
			MaxPWM:              255,
			MaxRPM:              25,
			Accel:               time.Second,
			OdometryFeedback:    true,
			ZeroTimeoutFeedback: 500 * time.Millisecond,
			ZeroTimeoutOpenLoop: 700 * time.Millisecond,
			ReverseRamp:         200 * time.Millisecond,
			ZeroSettle:          3 * time.Second,
			ControlPeriod:       100 * time.Millisecond,
		},
		Drive: base.Gains{
			Wheel:     control.Gains{Kp: 1.5, Ki: 0.29, Kd: 0.25},
			Roll:      control.Gains{Kp: 0.8, Ki: 21, Kd: 0},
			Direction: control.Gains{Kp: 5, Ki: 1, Kd: 1},
		},
		Odometry: odometry.Config{
			TicksPerRevolution: 1060,
			TicksPerCm:         13.49,
			WheelBaseCm:        36,
			Period:             300 * time.Millisecond,
			HeadingOrder:       odometry.PreUpdate,
		},
		Mow: blade.Config{
			MaxPWM:              255,
			Accel:               2 * time.Second,
			PWMSet:              255,
			RPMSet:              3300,
			PulsesPerRevolution: 1,
			RampStep:            200,
			FilterHistory:       0.8,
			Gains:               control.Gains{Kp: 0.005, Ki: 0.01, Kd: 0.01},
			Period:              100 * time.Millisecond,
		},
		Perimeter: perimeter.Config{
			Gains:             control.Gains{Kp: 51, Ki: 12.5, Kd: 0.8},
			TransitionTimeout: 2 * time.Second,
			ErrorTimeout:      10 * time.Second,
			StartupGrace:      5 * time.Second,
			Period:            100 * time.Millisecond,
		},
		Battery: power.Config{
			Monitor:          true,
			SwitchOffVoltage: 21.7,
			GoHomeVoltage:    23.7,
			IdleFloor:        30 * time.Minute,
			StartupGrace:     10 * time.Minute,
			PerimeterUse:     true,
			PersistPause:     2 * time.Second,
			CutoffPause:      time.Second,
			Period:           time.Second,
		},
		Faults: faults.DefaultMonitorConfig(),
		Logging: logging.Config{
			Level: "info",
		},
		Period: 10 * time.Millisecond,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Wheels.OdometryFeedback {
		if cfg.Odometry.TicksPerRevolution == 0 {
			return goutils.NewConfigValidationFieldRequiredError(path+".odometry", "ticks_per_revolution")
		}
		if cfg.Odometry.TicksPerCm == 0 {
			return goutils.NewConfigValidationFieldRequiredError(path+".odometry", "ticks_per_cm")
		}
	}
	errs := multierr.Combine(
		cfg.Wheels.Validate(path+".wheels"),
		cfg.Drive.Wheel.Validate("wheel"),
		cfg.Drive.Roll.Validate("roll"),
		cfg.Drive.Direction.Validate("direction"),
		cfg.Mow.Validate(path+".mow"),
		cfg.Perimeter.Validate(path+".perimeter"),
		cfg.Battery.Validate(path+".battery"),
		cfg.Faults.Validate(path+".faults"),
	)
	if cfg.Wheels.OdometryFeedback {
		errs = multierr.Append(errs, cfg.Odometry.Validate(path+".odometry"))
	}
	if _, err := logging.LevelFromString(cfg.Logging.Level); cfg.Logging.Level != "" && err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Period <= 0 || cfg.Period > cfg.Wheels.ControlPeriod {
		errs = multierr.Append(errs, errors.Errorf(
			"period %v should be positive and no longer than the control period %v", cfg.Period, cfg.Wheels.ControlPeriod))
	}
	if errs != nil {
		return goutils.NewConfigValidationError(path, errs)
	}
	return nil
}
