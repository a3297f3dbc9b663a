package tracking

import "math"

// Extract converts a detection into the reporting frame for role r.
// Each axis is multiplied by its sign, truncated toward zero and then offset.
func Extract(r Role, d Detection) Position {
	native := [3]float64{d.X, d.Y, d.Z}
	var out [3]int32
	for axis := range native {
		sign := r.AxisSign[axis]
		if sign == 0 {
			sign = 1
		}
		out[axis] = addSat(truncInt32(native[axis]*sign), r.Offset[axis])
	}
	return Position{X: out[0], Y: out[1], Z: out[2]}
}

// truncInt32 truncates toward zero and saturates to the int32 range.
// NaN maps to zero.
func truncInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Trunc(f))
}

func addSat(a, b int32) int32 {
	s := int64(a) + int64(b)
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	if s < math.MinInt32 {
		return math.MinInt32
	}
	return int32(s)
}
