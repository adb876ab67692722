package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/pkg/types"
)

var (
	sps       = []byte{0x67, 0x42, 0x00, 0x1f}
	pps       = []byte{0x68, 0xce, 0x3c, 0x80}
	idr       = []byte{0x65, 0x88, 0x84, 0x21}
	pSlice    = []byte{0x41, 0x9a, 0x02, 0x0f}
	pSlice2nd = []byte{0x41, 0x40, 0x11} // first_mb_in_slice != 0
)

func annexB(nals ...[]byte) []byte {
	var out []byte
	for i, n := range nals {
		if i%2 == 0 {
			out = append(out, 0, 0, 0, 1)
		} else {
			out = append(out, 0, 0, 1)
		}
		out = append(out, n...)
	}
	return out
}

func TestSplit(t *testing.T) {
	nals := Split(annexB(sps, pps, idr))
	require.Len(t, nals, 3)
	assert.Equal(t, types.NALTypeSPS, nals[0].Type)
	assert.Equal(t, types.NALTypePPS, nals[1].Type)
	assert.Equal(t, types.NALTypeIDR, nals[2].Type)
	assert.Equal(t, idr, nals[2].Data)

	assert.Empty(t, Split(nil))
	assert.Empty(t, Split([]byte{0, 0, 1}))
}

func TestProcessGroupsAccessUnits(t *testing.T) {
	p := NewProcessor()
	aus := p.Process(annexB(sps, pps, idr, pSlice, pSlice2nd, pSlice))
	require.Len(t, aus, 2)

	assert.Equal(t, uint64(1), aus[0].Seq)
	assert.True(t, aus[0].Keyframe)
	assert.Len(t, aus[0].NALs, 3)
	assert.Equal(t, types.BufferMeta{Seq: 1, Delta: false}, aus[0].Meta())

	// Second slice of the same picture stays in the same access unit
	assert.False(t, aus[1].Keyframe)
	assert.Len(t, aus[1].NALs, 2)

	last, ok := p.Flush()
	require.True(t, ok)
	assert.Equal(t, uint64(3), last.Seq)
	assert.True(t, last.Meta().Delta)

	_, ok = p.Flush()
	assert.False(t, ok)
}

func TestHeaderCache(t *testing.T) {
	p := NewProcessor()
	assert.False(t, p.HasHeaders())
	p.Process(annexB(sps, pps, idr))
	assert.True(t, p.HasHeaders())
	assert.Equal(t, sps, p.GetSPS())
	assert.Equal(t, pps, p.GetPPS())
}

func TestPrependHeaders(t *testing.T) {
	p := NewProcessor()
	p.Process(annexB(sps, pps, idr, pSlice))
	p.Flush()

	bare := &AccessUnit{Seq: 9, Keyframe: true, NALs: []types.NALUnit{{Type: types.NALTypeIDR, Data: idr}}}
	full := p.PrependHeaders(bare)
	require.Len(t, full.NALs, 3)
	assert.Equal(t, types.NALTypeSPS, full.NALs[0].Type)
	assert.Equal(t, startCode4, full.Bytes()[:4])
	assert.Equal(t, len(sps)+len(pps)+len(idr)+12, full.Size())

	delta := &AccessUnit{NALs: []types.NALUnit{{Type: types.NALTypeSlice, Data: pSlice}}}
	assert.Same(t, delta, p.PrependHeaders(delta))
}

func TestBytesRoundTrip(t *testing.T) {
	au := &AccessUnit{NALs: Split(annexB(sps, pps, idr))}
	again := Split(au.Bytes())
	assert.Equal(t, au.NALs, again)
}
