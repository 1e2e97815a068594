// Package utils contains small numeric and concurrency helpers shared by the control packages.
package utils

import (
	"math"

	"github.com/samber/lo"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// WrapPi wraps an angle in radians into [-pi, pi].
func WrapPi(rad float64) float64 {
	if rad > math.Pi || rad < -math.Pi {
		rad = math.Atan2(math.Sin(rad), math.Cos(rad))
	}
	return rad
}

// AngleDistance returns the signed shortest rotation from the current angle x to the set angle w,
// both in radians. The result is in [-pi, pi].
//
//	w=330°, x=350° => -20°
//	w=10°,  x=350° =>  20°
//	w=190°, x=0°   => -170°
func AngleDistance(x, w float64) float64 {
	return WrapPi(w - x)
}

// Clamp limits v to [lo, hi].
func Clamp(v, low, high float64) float64 {
	return lo.Clamp(v, low, high)
}

// ClampSym limits v to [-limit, limit].
func ClampSym(v, limit float64) float64 {
	return lo.Clamp(v, -limit, limit)
}

// Sign returns -1, 0 or 1.
func Sign(x float64) float64 {
	if x == 0 {
		return 0
	}
	if math.Signbit(x) {
		return -1.0
	}
	return 1.0
}

// MapRange linearly maps x from [inMin, inMax] onto [outMin, outMax] without clamping.
func MapRange(x, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}
