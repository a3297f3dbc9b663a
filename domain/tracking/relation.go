package tracking

// Linked reports whether a lies strictly inside the per-axis window around b.
// Either position at the sentinel forces false.
func Linked(a, b Position, window [3]int32, sentinel int32) bool {
	if a.Is(sentinel) || b.Is(sentinel) {
		return false
	}
	return within(a.X, b.X, window[0]) &&
		within(a.Y, b.Y, window[1]) &&
		within(a.Z, b.Z, window[2])
}

func within(v, centre, half int32) bool {
	d := int64(v) - int64(centre)
	if d < 0 {
		d = -d
	}
	return d < int64(half)
}
