package tracking

import (
	"math"

	"github.com/open-teleop/tracklink/pkg/wire"
)

// ClampInt16 saturates v to [-32768, 32767].
func ClampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ClampFloat32 saturates v to the finite float32 range. Infinities map to
// the largest finite value of the same sign; NaN passes through unchanged.
func ClampFloat32(v float64) float32 {
	if v > math.MaxFloat32 {
		return math.MaxFloat32
	}
	if v < -math.MaxFloat32 {
		return -math.MaxFloat32
	}
	return float32(v)
}

// Saturate narrows s into a wire packet. It is the last step before encoding.
func Saturate(s *State) wire.Packet {
	var p wire.Packet
	SaturateInto(&p, s)
	return p
}

// SaturateInto is Saturate reusing dst's position slice when it is large enough.
func SaturateInto(dst *wire.Packet, s *State) {
	if cap(dst.Positions) < len(s.Entities) {
		dst.Positions = make([][3]int16, len(s.Entities))
	}
	dst.Positions = dst.Positions[:len(s.Entities)]
	for i, e := range s.Entities {
		dst.Positions[i] = [3]int16{ClampInt16(e.Position.X), ClampInt16(e.Position.Y), ClampInt16(e.Position.Z)}
	}
	dst.Flag = s.Linked
	q := s.Orientation
	dst.Orientation = [4]float32{ClampFloat32(q.I), ClampFloat32(q.J), ClampFloat32(q.K), ClampFloat32(q.Real)}
}
