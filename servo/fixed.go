package servo

import "math"

// Q10 is a signed fixed-point value with 10 fractional bits. PID gains
// travel over the wire in this form: the host sends int(K * 1024).
type Q10 int16

const (
	// Q10Shift is the number of fractional bits in a Q10
	Q10Shift = 10
	// Q10One is the raw value of 1.0
	Q10One = 1 << Q10Shift
)

// GainFromFloat converts a gain to Q10, truncating toward zero like the
// host does and saturating at the int16 range.
func GainFromFloat(f float64) Q10 {
	v := math.Trunc(f * Q10One)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return Q10(v)
}

// Float returns the gain as a floating point value
func (q Q10) Float() float64 {
	return float64(q) / Q10One
}

// DivRoundClosest divides rounding to nearest, ties away from zero
func DivRoundClosest(n, d int64) int64 {
	if (n < 0) != (d < 0) {
		return (n - d/2) / d
	}
	return (n + d/2) / d
}

// Clamp limits v to [-bound, bound]
func Clamp(v, bound int64) int64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
