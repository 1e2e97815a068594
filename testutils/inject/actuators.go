// Package inject provides injectable fakes of the collaborators the motion core talks to.
package inject

import (
	"context"
	"sync"

	"github.com/lawnbot/motioncore/components/motor"
)

// ActuatorCall is one recorded SetActuator call.
type ActuatorCall struct {
	ID    motor.ActuatorID
	Value float64
}

// Actuators records every SetActuator call and keeps the last value per channel.
type Actuators struct {
	mu              sync.Mutex
	Calls           []ActuatorCall
	Last            map[motor.ActuatorID]float64
	SetActuatorFunc func(ctx context.Context, id motor.ActuatorID, value float64) error
}

// NewActuators returns an empty recording sink.
func NewActuators() *Actuators {
	return &Actuators{Last: map[motor.ActuatorID]float64{}}
}

// SetActuator records the call, then calls the injected SetActuatorFunc if any.
func (a *Actuators) SetActuator(ctx context.Context, id motor.ActuatorID, value float64) error {
	a.mu.Lock()
	a.Calls = append(a.Calls, ActuatorCall{id, value})
	a.Last[id] = value
	a.mu.Unlock()
	if a.SetActuatorFunc == nil {
		return nil
	}
	return a.SetActuatorFunc(ctx, id, value)
}

// Value returns the last value written to id.
func (a *Actuators) Value(id motor.ActuatorID) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Last[id]
}

// CallsTo returns the values written to id, in order.
func (a *Actuators) CallsTo(id motor.ActuatorID) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []float64
	for _, c := range a.Calls {
		if c.ID == id {
			out = append(out, c.Value)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (a *Actuators) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = nil
	a.Last = map[motor.ActuatorID]float64{}
}
