package inject

import "sync"

// Sensors holds settable sensor readings.
type Sensors struct {
	mu      sync.Mutex
	yaw     float64
	hasYaw  bool
	inside  bool
	voltage float64

	// BatteryVoltageFunc, if set, overrides the stored voltage. It lets a test change the
	// reading between the first and the confirming read of a single check.
	BatteryVoltageFunc func() float64
}

// SetYaw sets the heading in radians and marks the IMU as present.
func (s *Sensors) SetYaw(rad float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw, s.hasYaw = rad, true
}

// ClearYaw marks the IMU as absent.
func (s *Sensors) ClearYaw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasYaw = false
}

// SetInside sets the perimeter signal.
func (s *Sensors) SetInside(inside bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inside = inside
}

// SetBatteryVoltage sets the battery reading.
func (s *Sensors) SetBatteryVoltage(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltage = v
}

// Yaw returns the heading and whether an IMU is present.
func (s *Sensors) Yaw() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yaw, s.hasYaw
}

// PerimeterInside returns the perimeter signal.
func (s *Sensors) PerimeterInside() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inside
}

// BatteryVoltage returns the battery reading.
func (s *Sensors) BatteryVoltage() float64 {
	if s.BatteryVoltageFunc != nil {
		return s.BatteryVoltageFunc()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voltage
}

