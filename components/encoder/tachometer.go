package encoder

import (
	"time"

	"go.uber.org/atomic"
)

// Tachometer counts the pulses of the blade speed sensor and turns them into RPM.
type Tachometer struct {
	pulses atomic.Int64
	last   atomic.Bool

	// sampling state, owned by the control loop
	lastCount  int64
	lastSample time.Time
	rpm        float64
}

// Edge is called with the sensor level; rising edges are counted.
func (t *Tachometer) Edge(state bool) {
	if t.last.Swap(state) != state && state {
		t.pulses.Inc()
	}
}

// Pulses returns the cumulative pulse count.
func (t *Tachometer) Pulses() int64 {
	return t.pulses.Load()
}

// Sample computes the RPM over the time since the previous sample. The first sample only sets the
// reference point and reports zero.
func (t *Tachometer) Sample(now time.Time, pulsesPerRevolution float64) float64 {
	count := t.pulses.Load()
	if !t.lastSample.IsZero() && pulsesPerRevolution > 0 {
		elapsed := now.Sub(t.lastSample)
		if elapsed > 0 {
			revs := float64(count-t.lastCount) / pulsesPerRevolution
			t.rpm = revs / elapsed.Minutes()
		}
	}
	t.lastCount = count
	t.lastSample = now
	return t.rpm
}

// RPM returns the last sampled speed.
func (t *Tachometer) RPM() float64 {
	return t.rpm
}
