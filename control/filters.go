package control

import (
	"github.com/pkg/errors"
)

// LowPass is a first order exponential filter: y = (1-History)*x + History*y.
type LowPass struct {
	History float64

	y float64
}

// NewLowPass returns a filter keeping the given weight of its previous output, in [0, 1).
func NewLowPass(history float64) (*LowPass, error) {
	if history < 0 || history >= 1 {
		return nil, errors.Errorf("low pass history weight %v should be in [0, 1)", history)
	}
	return &LowPass{History: history}, nil
}

// Next feeds one sample and returns the filtered value. The filter starts from zero so a freshly
// reset filter ramps up instead of jumping to the first sample.
func (f *LowPass) Next(x float64) float64 {
	f.y = (1-f.History)*x + f.History*f.y
	return f.y
}

// Value returns the last filtered value.
func (f *LowPass) Value() float64 {
	return f.y
}

// Reset sets the filter output back to zero.
func (f *LowPass) Reset() {
	f.y = 0
}
