package tracking

import (
	"fmt"
	"strconv"
)

// Role binds a detection label to a tracked entity and describes how its
// coordinates are converted into the reporting frame.
type Role struct {
	Name  string
	Label string
	// AxisSign multiplies each native axis before truncation. The sensor's
	// Y axis points down, so reporting frames normally use {1, -1, 1}.
	AxisSign [3]float64
	// Offset is added after truncation, e.g. to move a bounding-box centre to
	// the physical reference point of the entity.
	Offset [3]int32
	// Continuous roles revert to the sentinel on any detection tick whose
	// batch does not contain their label.
	Continuous bool
}

// Relation describes the proximity test between two roles.
type Relation struct {
	A, B int
	// Window holds the half-widths per axis. The test is strict on every axis.
	Window [3]int32
	// RequireLabels must all be present in the batch for the flag to be set.
	RequireLabels []string
}

// Profile is the full parameterisation of one deployment.
type Profile struct {
	Labels        []string
	Roles         []Role
	Relation      *Relation
	MinConfidence float64
	Sentinel      int32
}

// Validate checks the internal references of the profile.
func (p *Profile) Validate() error {
	if len(p.Roles) == 0 {
		return fmt.Errorf("profile has no roles")
	}
	seen := make(map[string]bool, len(p.Roles))
	for i, r := range p.Roles {
		if r.Name == "" || r.Label == "" {
			return fmt.Errorf("role %d: name and label are required", i)
		}
		if seen[r.Label] {
			return fmt.Errorf("role %q: label %q bound twice", r.Name, r.Label)
		}
		seen[r.Label] = true
	}
	if rel := p.Relation; rel != nil {
		if rel.A < 0 || rel.A >= len(p.Roles) || rel.B < 0 || rel.B >= len(p.Roles) {
			return fmt.Errorf("relation references role outside [0,%d)", len(p.Roles))
		}
		if rel.A == rel.B {
			return fmt.Errorf("relation must reference two distinct roles")
		}
		for axis, w := range rel.Window {
			if w <= 0 {
				return fmt.Errorf("relation window axis %d must be positive, got %d", axis, w)
			}
		}
	}
	return nil
}

// LabelResolution is the outcome of looking up a detection label index.
// It is one of KnownRole, UnboundLabel or RawToken.
type LabelResolution interface {
	// Label is the token recorded in the batch presence set.
	Label() string
	isResolution()
}

// KnownRole is a label bound to a configured role.
type KnownRole struct {
	Role int
	Name string
}

// UnboundLabel is a label present in the label map without a role.
type UnboundLabel struct {
	Name string
}

// RawToken is an index outside the label map. The decimal index is used as
// the label token and never matches a role.
type RawToken struct {
	Token string
}

func (r KnownRole) Label() string    { return r.Name }
func (r UnboundLabel) Label() string { return r.Name }
func (r RawToken) Label() string     { return r.Token }

func (KnownRole) isResolution()    {}
func (UnboundLabel) isResolution() {}
func (RawToken) isResolution()     {}

// Resolve maps a detection label index to its resolution.
func (p *Profile) Resolve(labelIndex int) LabelResolution {
	if labelIndex < 0 || labelIndex >= len(p.Labels) {
		return RawToken{Token: strconv.Itoa(labelIndex)}
	}
	name := p.Labels[labelIndex]
	if i := p.roleByLabel(name); i >= 0 {
		return KnownRole{Role: i, Name: name}
	}
	return UnboundLabel{Name: name}
}

func (p *Profile) roleByLabel(label string) int {
	for i, r := range p.Roles {
		if r.Label == label {
			return i
		}
	}
	return -1
}

// NewState returns a State with every role at the sentinel and a zero
// orientation.
func (p *Profile) NewState() State {
	s := State{Entities: make([]TrackedEntity, len(p.Roles))}
	for i, r := range p.Roles {
		s.Entities[i] = TrackedEntity{
			Role:     r.Name,
			Label:    r.Label,
			Position: SentinelPosition(p.Sentinel),
		}
	}
	return s
}
