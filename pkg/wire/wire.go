// Package wire encodes the fixed-layout telemetry record broadcast by the
// device.
//
// The record is little-endian and contains, in order: three int16 per
// entity (x, y, z), an optional uint8 relational flag, and the orientation
// quaternion as four float32 (i, j, k, real). With two entities the packed
// record is 28 bytes without the flag and 29 bytes with it. The aligned
// layout inserts zero padding before the floats so they start on a 4-byte
// boundary, which is what a receiver unpacking with native C alignment
// expects (32 bytes for two entities plus flag).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	positionSize    = 3 * 2
	orientationSize = 4 * 4
	floatAlign      = 4
)

var (
	// ErrArity is returned when a packet does not match the layout's entity count.
	ErrArity = errors.New("wire: entity count does not match layout")
	// ErrLength is returned when decoding a buffer of the wrong size.
	ErrLength = errors.New("wire: unexpected packet length")
)

// Layout describes one fixed telemetry record shape.
type Layout struct {
	Entities int
	Flag     bool
	Aligned  bool
}

var (
	// VariantA carries two entities and no relational flag (28 bytes).
	VariantA = Layout{Entities: 2}
	// VariantB carries two entities and the relational flag (29 bytes packed).
	VariantB = Layout{Entities: 2, Flag: true}
)

// Packet is the saturated content of one record.
type Packet struct {
	Positions   [][3]int16
	Flag        bool
	Orientation [4]float32
}

func (l Layout) headerSize() int {
	n := l.Entities * positionSize
	if l.Flag {
		n++
	}
	return n
}

func (l Layout) padding() int {
	if !l.Aligned {
		return 0
	}
	if rem := l.headerSize() % floatAlign; rem != 0 {
		return floatAlign - rem
	}
	return 0
}

// Size returns the encoded length in bytes.
func (l Layout) Size() int {
	return l.headerSize() + l.padding() + orientationSize
}

func (l Layout) String() string {
	kind := "packed"
	if l.Aligned {
		kind = "aligned"
	}
	return fmt.Sprintf("%d entities flag=%t %s (%d bytes)", l.Entities, l.Flag, kind, l.Size())
}

// Append encodes p onto dst and returns the extended slice.
func (l Layout) Append(dst []byte, p Packet) ([]byte, error) {
	if len(p.Positions) != l.Entities {
		return dst, fmt.Errorf("%w: got %d, want %d", ErrArity, len(p.Positions), l.Entities)
	}
	for _, pos := range p.Positions {
		for _, v := range pos {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
		}
	}
	if l.Flag {
		var b byte
		if p.Flag {
			b = 1
		}
		dst = append(dst, b)
	}
	for i := 0; i < l.padding(); i++ {
		dst = append(dst, 0)
	}
	for _, f := range p.Orientation {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst, nil
}

// Encode returns p as a freshly allocated record.
func (l Layout) Encode(p Packet) ([]byte, error) {
	return l.Append(make([]byte, 0, l.Size()), p)
}

// Decode parses a record produced with the same layout.
func (l Layout) Decode(b []byte) (Packet, error) {
	if len(b) != l.Size() {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(b), l.Size())
	}
	p := Packet{Positions: make([][3]int16, l.Entities)}
	off := 0
	for i := range p.Positions {
		for axis := 0; axis < 3; axis++ {
			p.Positions[i][axis] = int16(binary.LittleEndian.Uint16(b[off:]))
			off += 2
		}
	}
	if l.Flag {
		p.Flag = b[off] != 0
		off++
	}
	off += l.padding()
	for i := range p.Orientation {
		p.Orientation[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	return p, nil
}
