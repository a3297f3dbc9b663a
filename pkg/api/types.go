package api

import (
	"math"

	"github.com/open-teleop/tracklink/domain/fusion"
)

// --- Data Structures for WebSocket Messages ---

// EntityMsg is one tracked entity as broadcast on the wire.
type EntityMsg struct {
	Role     string   `json:"role"`
	Label    string   `json:"label"`
	Position [3]int16 `json:"position"`
	Present  bool     `json:"present"`
}

// OrientationMsg is the broadcast quaternion. Valid is false when any
// component is NaN, in which case all components are zero.
type OrientationMsg struct {
	I     float32 `json:"i"`
	J     float32 `json:"j"`
	K     float32 `json:"k"`
	Real  float32 `json:"real"`
	Valid bool    `json:"valid"`
}

// StateMsg is pushed to /ws/state clients after each new telemetry tick.
type StateMsg struct {
	Type           string         `json:"type"`
	Timestamp      float64        `json:"timestamp"`
	Entities       []EntityMsg    `json:"entities"`
	Linked         bool           `json:"linked"`
	Orientation    OrientationMsg `json:"orientation"`
	Emitted        uint64         `json:"emitted"`
	TransmitErrors uint64         `json:"transmit_errors"`
}

// NewStateMsg converts a loop snapshot into its websocket form. Positions
// are the saturated wire values.
func NewStateMsg(s fusion.Snapshot, sentinel int32) StateMsg {
	msg := StateMsg{
		Type:           "state",
		Timestamp:      float64(s.Time.UnixNano()) / 1e9,
		Entities:       make([]EntityMsg, len(s.State.Entities)),
		Linked:         s.Packet.Flag,
		Emitted:        s.Stats.Emitted,
		TransmitErrors: s.Stats.TransmitErrors,
	}
	for i, e := range s.State.Entities {
		em := EntityMsg{Role: e.Role, Label: e.Label, Present: !e.Position.Is(sentinel)}
		if i < len(s.Packet.Positions) {
			em.Position = s.Packet.Positions[i]
		}
		msg.Entities[i] = em
	}

	q := s.Packet.Orientation
	valid := true
	for _, v := range q {
		if math.IsNaN(float64(v)) {
			valid = false
		}
	}
	if valid {
		msg.Orientation = OrientationMsg{I: q[0], J: q[1], K: q[2], Real: q[3], Valid: true}
	}
	return msg
}
