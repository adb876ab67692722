package h264

import (
	"github.com/perceptual-video/pvstream/pkg/types"
)

// NAL unit start code written in front of every unit by AccessUnit.Bytes
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnit is one coded picture plus the parameter sets and SEI preceding it
type AccessUnit struct {
	Seq      uint64          // 1-based position in the stream
	NALs     []types.NALUnit // NAL units without start codes
	Keyframe bool            // True if the unit carries an IDR slice
}

// Size returns the Annex-B size of the access unit
func (a *AccessUnit) Size() int {
	n := 0
	for _, nal := range a.NALs {
		n += len(startCode4) + len(nal.Data)
	}
	return n
}

// Bytes returns the access unit as an Annex-B byte stream
func (a *AccessUnit) Bytes() []byte {
	out := make([]byte, 0, a.Size())
	for _, nal := range a.NALs {
		out = append(out, startCode4...)
		out = append(out, nal.Data...)
	}
	return out
}

// Meta returns the probe metadata of the access unit
func (a *AccessUnit) Meta() types.BufferMeta {
	return types.BufferMeta{Seq: a.Seq, Delta: !a.Keyframe}
}

// Processor groups NAL units into access units and caches SPS/PPS
type Processor struct {
	spsCache   []byte // Cached SPS NAL unit
	ppsCache   []byte // Cached PPS NAL unit
	hasHeaders bool   // True if SPS/PPS are cached

	pending    []types.NALUnit
	pendingVCL bool
	seq        uint64
}

// NewProcessor creates a new H.264 processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Push adds one NAL unit. When nal starts a new picture the previous access
// unit is complete and returned.
func (p *Processor) Push(nal types.NALUnit) (*AccessUnit, bool) {
	if len(nal.Data) == 0 {
		return nil, false
	}
	nalType := nal.Type & 0x1F

	var done *AccessUnit
	if p.pendingVCL && startsPicture(nalType, nal.Data) {
		done = p.flush()
	}

	// Only copy for SPS/PPS (rare - typically once per GOP)
	switch nalType {
	case types.NALTypeSPS:
		p.spsCache = append([]byte(nil), nal.Data...)
	case types.NALTypePPS:
		p.ppsCache = append([]byte(nil), nal.Data...)
		if len(p.spsCache) > 0 {
			p.hasHeaders = true
		}
	}

	p.pending = append(p.pending, types.NALUnit{Type: nalType, Data: nal.Data})
	if isVCL(nalType) {
		p.pendingVCL = true
	}
	return done, done != nil
}

// Flush returns the buffered access unit, if it holds a picture
func (p *Processor) Flush() (*AccessUnit, bool) {
	if !p.pendingVCL {
		return nil, false
	}
	return p.flush(), true
}

func (p *Processor) flush() *AccessUnit {
	p.seq++
	au := &AccessUnit{Seq: p.seq, NALs: p.pending}
	for _, nal := range au.NALs {
		if nal.Type == types.NALTypeIDR {
			au.Keyframe = true
			break
		}
	}
	p.pending = nil
	p.pendingVCL = false
	return au
}

// Process splits an Annex-B buffer and pushes every NAL unit it contains.
// Completed access units are returned in stream order.
func (p *Processor) Process(data []byte) []*AccessUnit {
	var out []*AccessUnit
	for _, nal := range Split(data) {
		if au, ok := p.Push(nal); ok {
			out = append(out, au)
		}
	}
	return out
}

// PrependHeaders prepends the cached SPS/PPS to a keyframe that lacks them.
// This is necessary when joining a stream mid-GOP.
func (p *Processor) PrependHeaders(au *AccessUnit) *AccessUnit {
	if !p.hasHeaders || !au.Keyframe {
		return au
	}
	for _, nal := range au.NALs {
		if nal.Type == types.NALTypeSPS {
			return au
		}
	}
	nals := make([]types.NALUnit, 0, len(au.NALs)+2)
	nals = append(nals,
		types.NALUnit{Type: types.NALTypeSPS, Data: p.spsCache},
		types.NALUnit{Type: types.NALTypePPS, Data: p.ppsCache},
	)
	nals = append(nals, au.NALs...)
	return &AccessUnit{Seq: au.Seq, NALs: nals, Keyframe: au.Keyframe}
}

// Seq returns the number of access units emitted so far
func (p *Processor) Seq() uint64 {
	return p.seq
}

// HasHeaders returns true if SPS/PPS headers are cached
func (p *Processor) HasHeaders() bool {
	return p.hasHeaders
}

// GetSPS returns the cached SPS NAL unit
func (p *Processor) GetSPS() []byte {
	return p.spsCache
}

// GetPPS returns the cached PPS NAL unit
func (p *Processor) GetPPS() []byte {
	return p.ppsCache
}

func isVCL(nalType uint8) bool {
	return nalType == types.NALTypeSlice || nalType == types.NALTypeIDR
}

// startsPicture reports whether a NAL unit opens a new access unit given
// that the pending one already holds a picture
func startsPicture(nalType uint8, data []byte) bool {
	switch nalType {
	case types.NALTypeAUD, types.NALTypeSPS, types.NALTypePPS, types.NALTypeSEI:
		return true
	case types.NALTypeSlice, types.NALTypeIDR:
		// first_mb_in_slice is ue(v); a leading 1 bit encodes 0
		return len(data) > 1 && data[1]&0x80 != 0
	}
	return false
}

// Split parses raw Annex-B data into NAL units, stripping start codes
func Split(data []byte) []types.NALUnit {
	nalUnits := make([]types.NALUnit, 0, 8)
	offset := 0

	for offset < len(data) {
		// Find next start code
		startCodeLen := 0
		if offset+4 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0 && data[offset+3] == 1 {
			startCodeLen = 4
		} else if offset+3 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 1 {
			startCodeLen = 3
		} else {
			offset++
			continue
		}

		offset += startCodeLen
		if offset >= len(data) {
			break
		}

		nalEnd := findNextStartCode(data, offset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		nalUnits = append(nalUnits, types.NALUnit{
			Type: data[offset] & 0x1F,
			Data: data[offset:nalEnd],
		})
		offset = nalEnd
	}

	return nalUnits
}

// findNextStartCode finds the next start code position
func findNextStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if data[i+2] == 0x01 {
				return i // Found 0x000001
			}
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				return i // Found 0x00000001
			}
		}
	}
	return -1 // No start code found
}
