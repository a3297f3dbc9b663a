// Package snapshot encodes fused loop state as FlatBuffers for host-side
// tooling. The table layout is:
//
//	table FusedState {
//	  timestamp_ns:int64;
//	  config_id:string;
//	  labels:[string];
//	  positions:[int16];   // x,y,z per entity
//	  linked:bool;
//	  orientation:[float32]; // i,j,k,real
//	  sent:uint64;
//	  send_failures:uint64;
//	}
package snapshot

import (
	"errors"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/tracklink/pkg/wire"
)

// ErrMalformed is returned when a buffer cannot be read as a FusedState.
var ErrMalformed = errors.New("snapshot: malformed FusedState buffer")

const (
	slotTimestampNs = iota
	slotConfigID
	slotLabels
	slotPositions
	slotLinked
	slotOrientation
	slotSent
	slotSendFailures
	numSlots
)

// FusedState is one published snapshot of the fusion loop.
type FusedState struct {
	Timestamp    time.Time  `json:"timestamp"`
	ConfigID     string     `json:"config_id"`
	Labels       []string   `json:"labels"`
	Positions    [][3]int16 `json:"positions"`
	Linked       bool       `json:"linked"`
	Orientation  [4]float32 `json:"orientation"`
	Sent         uint64     `json:"sent"`
	SendFailures uint64     `json:"send_failures"`
}

// New builds a FusedState from a saturated packet. labels name the
// entities in packet order.
func New(ts time.Time, configID string, labels []string, p wire.Packet, sent, failures uint64) FusedState {
	positions := make([][3]int16, len(p.Positions))
	copy(positions, p.Positions)
	return FusedState{
		Timestamp:    ts,
		ConfigID:     configID,
		Labels:       append([]string(nil), labels...),
		Positions:    positions,
		Linked:       p.Flag,
		Orientation:  p.Orientation,
		Sent:         sent,
		SendFailures: failures,
	}
}

// Encode serializes s into a finished FlatBuffer.
func Encode(s FusedState) []byte {
	return EncodeWith(flatbuffers.NewBuilder(256), s)
}

// EncodeWith serializes s using b, which is reset first. The returned slice
// aliases b's buffer.
func EncodeWith(b *flatbuffers.Builder, s FusedState) []byte {
	b.Reset()

	configID := b.CreateString(s.ConfigID)

	labelOffsets := make([]flatbuffers.UOffsetT, len(s.Labels))
	for i, l := range s.Labels {
		labelOffsets[i] = b.CreateString(l)
	}
	b.StartVector(4, len(labelOffsets), 4)
	for i := len(labelOffsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(labelOffsets[i])
	}
	labels := b.EndVector(len(labelOffsets))

	n := len(s.Positions) * 3
	b.StartVector(2, n, 2)
	for i := len(s.Positions) - 1; i >= 0; i-- {
		for axis := 2; axis >= 0; axis-- {
			b.PrependInt16(s.Positions[i][axis])
		}
	}
	positions := b.EndVector(n)

	b.StartVector(4, 4, 4)
	for i := 3; i >= 0; i-- {
		b.PrependFloat32(s.Orientation[i])
	}
	orientation := b.EndVector(4)

	b.StartObject(numSlots)
	b.PrependInt64Slot(slotTimestampNs, s.Timestamp.UnixNano(), 0)
	b.PrependUint64Slot(slotSent, s.Sent, 0)
	b.PrependUint64Slot(slotSendFailures, s.SendFailures, 0)
	b.PrependUOffsetTSlot(slotConfigID, configID, 0)
	b.PrependUOffsetTSlot(slotLabels, labels, 0)
	b.PrependUOffsetTSlot(slotPositions, positions, 0)
	b.PrependUOffsetTSlot(slotOrientation, orientation, 0)
	b.PrependBoolSlot(slotLinked, s.Linked, false)
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

func fieldOffset(t *flatbuffers.Table, slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

// Decode reads a FusedState from buf.
func Decode(buf []byte) (s FusedState, err error) {
	if len(buf) < 8 {
		return FusedState{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(buf))
	}
	defer func() {
		if r := recover(); r != nil {
			s = FusedState{}
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	t := &flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}

	var ns int64
	if o := fieldOffset(t, slotTimestampNs); o != 0 {
		ns = t.GetInt64(o + t.Pos)
	}
	s.Timestamp = time.Unix(0, ns)
	if o := fieldOffset(t, slotConfigID); o != 0 {
		s.ConfigID = string(t.ByteVector(o + t.Pos))
	}
	if o := fieldOffset(t, slotLabels); o != 0 {
		n := t.VectorLen(o)
		a := t.Vector(o)
		s.Labels = make([]string, n)
		for j := 0; j < n; j++ {
			s.Labels[j] = string(t.ByteVector(a + flatbuffers.UOffsetT(j*4)))
		}
	}
	if o := fieldOffset(t, slotPositions); o != 0 {
		n := t.VectorLen(o)
		if n%3 != 0 {
			return FusedState{}, fmt.Errorf("%w: %d position components", ErrMalformed, n)
		}
		a := t.Vector(o)
		s.Positions = make([][3]int16, n/3)
		for j := 0; j < n; j++ {
			s.Positions[j/3][j%3] = t.GetInt16(a + flatbuffers.UOffsetT(j*2))
		}
	}
	if o := fieldOffset(t, slotLinked); o != 0 {
		s.Linked = t.GetBool(o + t.Pos)
	}
	if o := fieldOffset(t, slotOrientation); o != 0 {
		n := t.VectorLen(o)
		if n != 4 {
			return FusedState{}, fmt.Errorf("%w: %d orientation components", ErrMalformed, n)
		}
		a := t.Vector(o)
		for j := 0; j < 4; j++ {
			s.Orientation[j] = t.GetFloat32(a + flatbuffers.UOffsetT(j*4))
		}
	}
	if o := fieldOffset(t, slotSent); o != 0 {
		s.Sent = t.GetUint64(o + t.Pos)
	}
	if o := fieldOffset(t, slotSendFailures); o != 0 {
		s.SendFailures = t.GetUint64(o + t.Pos)
	}
	return s, nil
}
