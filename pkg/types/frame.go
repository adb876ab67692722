package types

import "time"

// VideoFrame represents one decoded picture leaving the media pipeline
type VideoFrame struct {
	Pixels   []uint32      // Packed 0x00RRGGBB, row-major, len == Width*Height
	Width    int           // Frame width
	Height   int           // Frame height
	Seq      uint64        // Sequence number of the buffer that produced this frame
	PTS      time.Duration // Presentation timestamp reported by the pipeline
	Keyframe bool          // True if the source buffer was a keyframe
}

// Meta returns the buffer metadata the frame was produced from
func (f *VideoFrame) Meta() BufferMeta {
	return BufferMeta{Seq: f.Seq, PTS: f.PTS, Delta: !f.Keyframe}
}

// BufferMeta is the per-buffer metadata handed to the pipeline probe
type BufferMeta struct {
	Seq   uint64        // 1-based position in the source stream
	PTS   time.Duration // Presentation timestamp
	Delta bool          // True for dependent (non-key) frames
}

// Decision is the verdict of the frame filter for a single buffer
type Decision uint8

const (
	Keep Decision = iota
	Drop
)

// String returns the string representation of a decision
func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// NALUnit represents a single H.264 NAL unit
type NALUnit struct {
	Type uint8  // NAL unit type (lower 5 bits)
	Data []byte // Complete NAL unit including header
}

// NALUnitType constants
const (
	NALTypeSlice     uint8 = 1
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
)

// NeutralGray is the placeholder pixel value used before the first frame arrives
const NeutralGray uint32 = 0x00808080
