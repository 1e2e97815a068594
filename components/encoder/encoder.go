// Package encoder holds the interrupt-side tick producers read by the control loop.
//
// Counters are written from outside the cooperative loop (interrupt handlers or their goroutine
// equivalent) and read by value from inside it. Readers never reset a counter; they snapshot it
// and work with deltas.
package encoder

import (
	"go.uber.org/atomic"
)

// Counter is a cumulative signed tick count.
type Counter struct {
	ticks atomic.Int64
}

// Add moves the count by n ticks.
func (c *Counter) Add(n int64) {
	c.ticks.Add(n)
}

// Load returns a consistent snapshot of the count.
func (c *Counter) Load() int64 {
	return c.ticks.Load()
}

// Quadrature decodes the pin transitions of one wheel encoder into its Counter.
//
// On every LOW->HIGH edge of pin 1 the count moves by one tick. With a two wire encoder pin 2
// gives the direction (HIGH is forward). A single wire encoder cannot sense direction, so the
// sign of the PWM currently applied to the wheel is used instead.
type Quadrature struct {
	Counter

	// TwoWire enables direction sensing from pin 2.
	TwoWire bool
	// SwapDir inverts the direction reported by pin 2.
	SwapDir bool
	// Direction reports the sign of the applied PWM for single wire encoders. It runs on the
	// interrupt side, so it must read an atomically published value such as
	// motor.WheelDriver.AppliedPWM and never the control loop's Wheel state.
	Direction func() float64

	last  atomic.Bool
	last2 atomic.Bool
}

// Edge is called with the current pin levels whenever either pin may have changed.
func (q *Quadrature) Edge(pin1, pin2 bool) {
	if q.TwoWire {
		q.last2.Store(pin2)
	}
	if q.last.Swap(pin1) == pin1 || !pin1 {
		return
	}
	if q.TwoWire {
		step := int64(1)
		if q.SwapDir {
			step = -1
		}
		if pin2 {
			q.Add(step)
		} else {
			q.Add(-step)
		}
		return
	}
	if q.Direction != nil && q.Direction() < 0 {
		q.Add(-1)
		return
	}
	q.Add(1)
}
