// Package blend implements the W3C soft light blend mode over normalized
// channel intensities.
//
// Reference: https://www.w3.org/TR/compositing-1/#blendingsoftlight
package blend

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidRange = errors.New("intensity outside [0,1]")

// SoftLight blends top over bottom. Both operands must lie in [0,1]; the
// result does too.
func SoftLight(top, bottom float64) (float64, error) {
	if !inUnitRange(top) {
		return 0, fmt.Errorf("%w: top=%v", ErrInvalidRange, top)
	}
	if !inUnitRange(bottom) {
		return 0, fmt.Errorf("%w: bottom=%v", ErrInvalidRange, bottom)
	}
	return softLight(top, bottom), nil
}

func softLight(t, b float64) float64 {
	if t <= 0.5 {
		return b - (1-2*t)*b*(1-b)
	}
	return b + (2*t-1)*(softLightD(b)-b)
}

// softLightD is D(Cb) from the W3C definition.
func softLightD(b float64) float64 {
	if b <= 0.25 {
		return ((16*b-12)*b + 4) * b
	}
	return math.Sqrt(b)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func Normalize(v uint8) float64 {
	return float64(v) / 255
}

// Denormalize maps v back to 8 bits, rounding half up and clamping to
// [0,255]. NaN maps to 0.
func Denormalize(v float64) uint8 {
	scaled := v*255 + 0.5
	switch {
	case math.IsNaN(scaled), scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return uint8(scaled)
	}
}
