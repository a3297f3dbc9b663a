package tracking

// Tracker applies detection batches to a State according to a Profile.
type Tracker struct {
	profile Profile
}

// NewTracker validates p and returns a Tracker for it.
func NewTracker(p Profile) (*Tracker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{profile: p}, nil
}

// Profile returns the profile the tracker was built with.
func (t *Tracker) Profile() *Profile {
	return &t.profile
}

// NewState returns the initial state for the tracker's profile.
func (t *Tracker) NewState() State {
	return t.profile.NewState()
}

// Apply folds one detection batch into s. Continuous roles absent from the
// batch revert to the sentinel, present roles take the position of their
// last detection in the batch, and the relational flag is recomputed from
// scratch.
//
// Apply is only called when a batch was actually received; ticks without a
// batch leave s untouched.
func (t *Tracker) Apply(s *State, batch DetectionBatch) {
	p := &t.profile

	present := make(map[string]bool, len(batch.Detections))
	latest := make(map[int]Detection, len(p.Roles))
	for _, d := range batch.Detections {
		if d.Confidence < p.MinConfidence {
			continue
		}
		res := p.Resolve(d.LabelIndex)
		present[res.Label()] = true
		if r, ok := res.(KnownRole); ok {
			latest[r.Role] = d
		}
	}

	for i, role := range p.Roles {
		if d, ok := latest[i]; ok {
			s.Entities[i].Position = Extract(role, d)
			continue
		}
		if role.Continuous {
			s.Entities[i].Position = SentinelPosition(p.Sentinel)
		}
	}

	if rel := p.Relation; rel != nil {
		s.Linked = Linked(s.Entities[rel.A].Position, s.Entities[rel.B].Position, rel.Window, p.Sentinel)
		for _, label := range rel.RequireLabels {
			if !present[label] {
				s.Linked = false
				break
			}
		}
	}
}
