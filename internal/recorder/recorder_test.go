package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/internal/h264"
	"github.com/perceptual-video/pvstream/pkg/types"
)

var (
	sc    = []byte{0, 0, 0, 1}
	sps   = []byte{0x67, 0x42, 0xc0, 0x1e}
	pps   = []byte{0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0x65, 0x88, 0x84, 0x21}
	slice = []byte{0x41, 0x9a, 0x02, 0x0f}
)

func unit(seq uint64, keyframe bool, nals ...[]byte) *h264.AccessUnit {
	au := &h264.AccessUnit{Seq: seq, Keyframe: keyframe}
	for _, n := range nals {
		au.NALs = append(au.NALs, types.NALUnit{Type: n[0] & 0x1f, Data: n})
	}
	return au
}

func join(parts ...[]byte) []byte {
	var b bytes.Buffer
	for _, p := range parts {
		b.Write(sc)
		b.Write(p)
	}
	return b.Bytes()
}

func TestRecorderStartsAtKeyframeWithHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "out.h264")
	r, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, r.WriteAccessUnit(unit(1, false, slice)))
	r.UpdateHeaders(sps, pps)
	require.NoError(t, r.WriteAccessUnit(unit(2, true, idr)))
	require.NoError(t, r.WriteAccessUnit(unit(3, false, slice)))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, join(sps, pps, idr, slice), data)

	st := r.Status()
	assert.Equal(t, uint64(2), st.FrameCount)
	assert.Equal(t, uint64(1), st.Skipped)
	assert.Equal(t, uint64(len(data)), st.BytesWritten)
}

func TestRecorderKeepsInlineHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.h264")
	r, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, r.WriteAccessUnit(unit(1, true, sps, pps, idr)))
	require.NoError(t, r.WriteAccessUnit(unit(2, true, idr)))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Only the first keyframe gets headers
	assert.Equal(t, join(sps, pps, idr, idr), data)
}

func TestRecorderRejectsWritesAfterClose(t *testing.T) {
	r, err := NewRecorder(filepath.Join(t.TempDir(), "out.h264"))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Error(t, r.WriteAccessUnit(unit(1, true, idr)))
}
