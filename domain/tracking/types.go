// Package tracking turns raw spatial detections into named tracked-entity
// positions and derives the relational state between two of them.
//
// All functions operate on a State value owned by the caller. Nothing in
// this package keeps global state or spawns goroutines.
package tracking

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// DefaultSentinel is the coordinate value meaning "not currently detected".
const DefaultSentinel = math.MaxInt16

// Detection is one raw spatial detection in the sensor's native frame.
// Coordinates are in millimetres.
type Detection struct {
	LabelIndex int     `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

// DetectionBatch is the ordered set of detections from one inference cycle.
type DetectionBatch struct {
	Detections []Detection `json:"detections"`
}

// Position is a tracked-entity coordinate in the reporting frame. Values are
// kept at int32 precision until the saturator narrows them for the wire.
type Position struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// SentinelPosition returns the triple with every axis set to v.
func SentinelPosition(v int32) Position {
	return Position{X: v, Y: v, Z: v}
}

// Is reports whether p equals the sentinel triple for v.
func (p Position) Is(v int32) bool {
	return p == SentinelPosition(v)
}

// Quaternion is a unit orientation sample from the IMU rotation vector.
type Quaternion struct {
	I    float64 `json:"i"`
	J    float64 `json:"j"`
	K    float64 `json:"k"`
	Real float64 `json:"real"`
}

// Number converts q to a gonum quaternion.
func (q Quaternion) Number() quat.Number {
	return quat.Number{Real: q.Real, Imag: q.I, Jmag: q.J, Kmag: q.K}
}

// Norm returns |q|. A well-formed rotation vector has norm 1.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.Number())
}

// TrackedEntity is the current position of one configured role.
type TrackedEntity struct {
	Role     string   `json:"role"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
}

// State is the fused state broadcast on every telemetry tick.
type State struct {
	Entities        []TrackedEntity `json:"entities"`
	Linked          bool            `json:"linked"`
	Orientation     Quaternion      `json:"orientation"`
	OrientationSeen bool            `json:"orientation_seen"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *State) Clone() State {
	out := *s
	out.Entities = append([]TrackedEntity(nil), s.Entities...)
	return out
}
