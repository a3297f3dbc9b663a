package tracking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	labelClaw = iota
	labelBall
	labelClawTop
)

// clawBallProfile mirrors the top-camera deployment: Ball and ClawTop roles
// with a relation between them gated on the Claw body box.
func clawBallProfile() Profile {
	return Profile{
		Labels: []string{"Claw", "Ball", "ClawTop"},
		Roles: []Role{
			{Name: "ball", Label: "Ball", AxisSign: [3]float64{1, -1, 1}, Continuous: true},
			{Name: "claw", Label: "ClawTop", AxisSign: [3]float64{1, -1, 1}, Offset: [3]int32{0, 0, 145}, Continuous: true},
		},
		Relation: &Relation{A: 0, B: 1, Window: [3]int32{170, 170, 50}, RequireLabels: []string{"Claw"}},
		Sentinel: DefaultSentinel,
	}
}

func newTracker(t *testing.T, p Profile) *Tracker {
	t.Helper()
	tr, err := NewTracker(p)
	require.NoError(t, err)
	return tr
}

func TestExtractAxisConversion(t *testing.T) {
	role := Role{AxisSign: [3]float64{1, -1, 1}, Offset: [3]int32{0, 0, 145}}

	got := Extract(role, Detection{X: 100.9, Y: 50.7, Z: 299.99})
	assert.Equal(t, Position{X: 100, Y: -50, Z: 444}, got)

	got = Extract(role, Detection{X: -0.5, Y: -10.2, Z: -0.9})
	assert.Equal(t, Position{X: 0, Y: 10, Z: 145}, got)
}

func TestExtractZeroSignDefaultsToPassThrough(t *testing.T) {
	got := Extract(Role{}, Detection{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Position{X: 1, Y: 2, Z: 3}, got)
}

func TestExtractSaturatesBeforeNarrowing(t *testing.T) {
	got := Extract(Role{}, Detection{X: 1e12, Y: -1e12, Z: math.NaN()})
	assert.Equal(t, Position{X: math.MaxInt32, Y: math.MinInt32, Z: 0}, got)
}

func TestResolve(t *testing.T) {
	p := clawBallProfile()

	assert.Equal(t, KnownRole{Role: 0, Name: "Ball"}, p.Resolve(labelBall))
	assert.Equal(t, KnownRole{Role: 1, Name: "ClawTop"}, p.Resolve(labelClawTop))
	assert.Equal(t, UnboundLabel{Name: "Claw"}, p.Resolve(labelClaw))
	assert.Equal(t, RawToken{Token: "7"}, p.Resolve(7))
	assert.Equal(t, RawToken{Token: "-1"}, p.Resolve(-1))
}

func TestNewStateStartsAtSentinel(t *testing.T) {
	p := clawBallProfile()
	s := p.NewState()

	require.Len(t, s.Entities, 2)
	for _, e := range s.Entities {
		assert.True(t, e.Position.Is(DefaultSentinel))
	}
	assert.False(t, s.Linked)
	assert.Equal(t, Quaternion{}, s.Orientation)
}

func TestApplyMissingContinuousLabelResetsToSentinel(t *testing.T) {
	tr := newTracker(t, clawBallProfile())
	s := tr.NewState()

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelBall, X: 10, Y: 20, Z: 30},
		{LabelIndex: labelClawTop, X: 40, Y: 50, Z: 60},
	}})
	require.False(t, s.Entities[0].Position.Is(DefaultSentinel))
	require.False(t, s.Entities[1].Position.Is(DefaultSentinel))

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelClawTop, X: 41, Y: 51, Z: 61},
	}})
	assert.True(t, s.Entities[0].Position.Is(DefaultSentinel))
	assert.Equal(t, Position{X: 41, Y: -51, Z: 206}, s.Entities[1].Position)
}

func TestApplyEmptyBatchResetsAllContinuous(t *testing.T) {
	p := clawBallProfile()
	p.Roles = append(p.Roles, Role{Name: "marker", Label: "Marker"})
	p.Labels = append(p.Labels, "Marker")
	tr := newTracker(t, p)
	s := tr.NewState()

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelBall, X: 1, Y: 1, Z: 1},
		{LabelIndex: labelClawTop, X: 1, Y: 1, Z: 1},
		{LabelIndex: 3, X: 5, Y: 5, Z: 5},
	}})
	tr.Apply(&s, DetectionBatch{})

	assert.True(t, s.Entities[0].Position.Is(DefaultSentinel))
	assert.True(t, s.Entities[1].Position.Is(DefaultSentinel))
	assert.Equal(t, Position{X: 5, Y: 5, Z: 5}, s.Entities[2].Position, "non-continuous role keeps its last position")
}

func TestApplyLastDetectionWins(t *testing.T) {
	tr := newTracker(t, clawBallProfile())
	s := tr.NewState()

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelBall, X: 1, Y: 1, Z: 1},
		{LabelIndex: labelBall, X: 2, Y: 2, Z: 2},
	}})
	assert.Equal(t, Position{X: 2, Y: -2, Z: 2}, s.Entities[0].Position)
}

func TestApplyUnknownLabelIndexIsIgnored(t *testing.T) {
	tr := newTracker(t, clawBallProfile())
	s := tr.NewState()

	tr.Apply(&s, DetectionBatch{Detections: []Detection{{LabelIndex: 42, X: 1, Y: 1, Z: 1}}})

	for _, e := range s.Entities {
		assert.True(t, e.Position.Is(DefaultSentinel))
	}
}

func TestApplyConfidenceGate(t *testing.T) {
	p := clawBallProfile()
	p.MinConfidence = 0.5
	tr := newTracker(t, p)
	s := tr.NewState()

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelBall, X: 1, Y: 1, Z: 1, Confidence: 0.9},
	}})
	require.Equal(t, Position{X: 1, Y: -1, Z: 1}, s.Entities[0].Position)

	tr.Apply(&s, DetectionBatch{Detections: []Detection{
		{LabelIndex: labelBall, X: 2, Y: 2, Z: 2, Confidence: 0.2},
	}})
	assert.True(t, s.Entities[0].Position.Is(DefaultSentinel), "low-confidence detection counts as absent")
}

func TestLinkedWindows(t *testing.T) {
	window := [3]int32{170, 170, 50}
	claw := Position{X: 80, Y: -60, Z: 310}

	tests := []struct {
		name string
		ball Position
		want bool
	}{
		{"inside", Position{X: 100, Y: -50, Z: 300}, true},
		{"x edge is exclusive", Position{X: 250, Y: -60, Z: 310}, false},
		{"x just inside", Position{X: 249, Y: -60, Z: 310}, true},
		{"y outside", Position{X: 80, Y: 111, Z: 310}, false},
		{"y negative edge", Position{X: 80, Y: -230, Z: 310}, false},
		{"z outside", Position{X: 80, Y: -60, Z: 360}, false},
		{"z just inside below", Position{X: 80, Y: -60, Z: 261}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Linked(tt.ball, claw, window, DefaultSentinel))
		})
	}
}

func TestLinkedFalseAtSentinel(t *testing.T) {
	window := [3]int32{170, 170, 50}
	s := SentinelPosition(DefaultSentinel)
	near := Position{X: 32700, Y: 32700, Z: 32740}

	assert.False(t, Linked(s, near, window, DefaultSentinel))
	assert.False(t, Linked(near, s, window, DefaultSentinel))
	assert.False(t, Linked(s, s, window, DefaultSentinel))
}

// Ball detected next to a claw whose position carries over from the previous
// tick; the following empty batch drops the ball and clears the flag.
func TestRelationScenario(t *testing.T) {
	p := clawBallProfile()
	p.Roles[1].Continuous = false
	p.Relation.RequireLabels = nil
	tr := newTracker(t, p)
	s := tr.NewState()
	s.Entities[1].Position = Position{X: 80, Y: -60, Z: 310}

	tr.Apply(&s, DetectionBatch{Detections: []Detection{{LabelIndex: labelBall, X: 100, Y: -50, Z: 300}}})
	require.Equal(t, Position{X: 100, Y: 50, Z: 300}, s.Entities[0].Position)
	assert.True(t, s.Linked)

	tr.Apply(&s, DetectionBatch{})
	assert.True(t, s.Entities[0].Position.Is(DefaultSentinel))
	assert.False(t, s.Linked)
}

func TestRelationRequireLabels(t *testing.T) {
	tr := newTracker(t, clawBallProfile())
	s := tr.NewState()
	inside := []Detection{
		{LabelIndex: labelBall, X: 100, Y: 50, Z: 455},
		{LabelIndex: labelClawTop, X: 80, Y: 60, Z: 300},
	}

	tr.Apply(&s, DetectionBatch{Detections: inside})
	assert.False(t, s.Linked, "claw body label missing")

	tr.Apply(&s, DetectionBatch{Detections: append(inside, Detection{LabelIndex: labelClaw})})
	assert.True(t, s.Linked)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"no roles", func(p *Profile) { p.Roles = nil }},
		{"missing label", func(p *Profile) { p.Roles[0].Label = "" }},
		{"duplicate label", func(p *Profile) { p.Roles[1].Label = p.Roles[0].Label }},
		{"relation out of range", func(p *Profile) { p.Relation.B = 5 }},
		{"relation self", func(p *Profile) { p.Relation.B = p.Relation.A }},
		{"zero window", func(p *Profile) { p.Relation.Window[2] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := clawBallProfile()
			tt.mutate(&p)
			_, err := NewTracker(p)
			assert.Error(t, err)
		})
	}
}

func TestClampIdempotent(t *testing.T) {
	ints := []int32{0, 1, -1, math.MaxInt16, math.MinInt16, math.MaxInt16 + 1, math.MinInt16 - 1, math.MaxInt32, math.MinInt32}
	for _, v := range ints {
		once := ClampInt16(v)
		assert.Equal(t, once, ClampInt16(int32(once)), "int %d", v)
		assert.LessOrEqual(t, int32(once), int32(math.MaxInt16))
		assert.GreaterOrEqual(t, int32(once), int32(math.MinInt16))
	}

	floats := []float64{0, 1, -1, 0.7071, math.MaxFloat32, -math.MaxFloat32, 1e39, -1e39, math.Inf(1), math.Inf(-1), math.NaN()}
	for _, v := range floats {
		once := ClampFloat32(v)
		twice := ClampFloat32(float64(once))
		assert.Equal(t, math.Float32bits(once), math.Float32bits(twice), "float %v", v)
		assert.False(t, math.IsInf(float64(once), 0), "float %v", v)
	}
}

func TestSaturate(t *testing.T) {
	s := State{
		Entities: []TrackedEntity{
			{Position: Position{X: 40000, Y: -40000, Z: 12}},
			{Position: SentinelPosition(DefaultSentinel)},
		},
		Linked:      true,
		Orientation: Quaternion{I: math.Inf(1), J: -1e40, K: 0.5, Real: 0.5},
	}

	p := Saturate(&s)
	assert.Equal(t, [][3]int16{{32767, -32768, 12}, {32767, 32767, 32767}}, p.Positions)
	assert.True(t, p.Flag)
	assert.Equal(t, [4]float32{math.MaxFloat32, -math.MaxFloat32, 0.5, 0.5}, p.Orientation)
}

func TestQuaternionNorm(t *testing.T) {
	q := Quaternion{I: 0, J: 0, K: math.Sqrt2 / 2, Real: math.Sqrt2 / 2}
	assert.InDelta(t, 1.0, q.Norm(), 1e-12)
}

func TestStateCloneIsIndependent(t *testing.T) {
	p := clawBallProfile()
	s := p.NewState()
	c := s.Clone()
	c.Entities[0].Position = Position{}

	assert.True(t, s.Entities[0].Position.Is(DefaultSentinel))
}
