package wire

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutSizes(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		want   int
	}{
		{"variant A packed", VariantA, 28},
		{"variant B packed", VariantB, 29},
		{"variant A aligned", Layout{Entities: 2, Aligned: true}, 28},
		{"variant B aligned", Layout{Entities: 2, Flag: true, Aligned: true}, 32},
		{"single entity aligned", Layout{Entities: 1, Aligned: true}, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.layout.Size())
		})
	}
}

func TestVariantBByteLayout(t *testing.T) {
	p := Packet{
		Positions:   [][3]int16{{100, 50, 300}, {80, 60, 455}},
		Flag:        true,
		Orientation: [4]float32{0.1, 0.2, 0.3, 0.9},
	}

	b, err := VariantB.Encode(p)
	require.NoError(t, err)
	require.Len(t, b, 29)

	assert.Equal(t, uint16(100), binary.LittleEndian.Uint16(b[0:]))
	assert.Equal(t, uint16(455), binary.LittleEndian.Uint16(b[10:]))
	assert.Equal(t, byte(1), b[12])
	assert.Equal(t, float32(0.1), math.Float32frombits(binary.LittleEndian.Uint32(b[13:])))
	assert.Equal(t, float32(0.9), math.Float32frombits(binary.LittleEndian.Uint32(b[25:])))
}

func TestAlignedLayoutPadsAfterFlag(t *testing.T) {
	layout := Layout{Entities: 2, Flag: true, Aligned: true}
	p := Packet{
		Positions:   [][3]int16{{1, 2, 3}, {4, 5, 6}},
		Flag:        true,
		Orientation: [4]float32{1, 0, 0, 0},
	}

	b, err := layout.Encode(p)
	require.NoError(t, err)
	require.Len(t, b, 32)
	assert.Equal(t, []byte{1, 0, 0, 0}, b[12:16])
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(b[16:])))
}

func TestRoundTripExtremes(t *testing.T) {
	layouts := []Layout{VariantA, VariantB, {Entities: 2, Flag: true, Aligned: true}, {Entities: 3}}
	for _, layout := range layouts {
		t.Run(layout.String(), func(t *testing.T) {
			p := Packet{
				Positions:   make([][3]int16, layout.Entities),
				Orientation: [4]float32{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32, -0.5},
			}
			for i := range p.Positions {
				p.Positions[i] = [3]int16{math.MaxInt16, math.MinInt16, int16(i)}
			}
			p.Flag = layout.Flag

			b, err := layout.Encode(p)
			require.NoError(t, err)

			got, err := layout.Decode(b)
			require.NoError(t, err)
			if diff := cmp.Diff(p, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeArityMismatch(t *testing.T) {
	_, err := VariantA.Encode(Packet{Positions: [][3]int16{{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrArity)
}

func TestDecodeWrongLength(t *testing.T) {
	_, err := VariantB.Decode(make([]byte, 32))
	assert.ErrorIs(t, err, ErrLength)
}

func TestAppendReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	p := Packet{Positions: [][3]int16{{1, 1, 1}, {2, 2, 2}}}

	first, err := VariantA.Append(buf[:0], p)
	require.NoError(t, err)
	second, err := VariantA.Append(first[:0], p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, &buf[:1][0], &second[:1][0])
}
