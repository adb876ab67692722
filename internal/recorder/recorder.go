// Package recorder writes filtered H.264 access units to Annex-B files.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/perceptual-video/pvstream/internal/h264"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// Recorder records access units to file. Output starts at the first
// keyframe, and the cached SPS/PPS are written ahead of it when the
// keyframe does not carry its own.
type Recorder struct {
	mu           sync.Mutex
	file         *os.File
	path         string
	frameCount   uint64
	skipped      uint64
	bytesWritten uint64
	startTime    time.Time

	// Header management
	spsCache        []byte
	ppsCache        []byte
	firstIDRWritten bool
}

// Status holds the current recording status
type Status struct {
	Path         string        `json:"path"`
	FrameCount   uint64        `json:"frame_count"`
	Skipped      uint64        `json:"skipped"` // Units dropped while waiting for the first keyframe
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration_ms"`
}

// NewRecorder creates path (and its directory) and starts recording
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	logger.Info("Recorder", "Recording to %s", path)
	return &Recorder{file: file, path: path, startTime: time.Now()}, nil
}

// UpdateHeaders updates the cached SPS/PPS headers
func (r *Recorder) UpdateHeaders(sps, pps []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateHeaders(sps, pps)
}

func (r *Recorder) updateHeaders(sps, pps []byte) {
	if len(sps) > 0 {
		r.spsCache = append([]byte(nil), sps...)
	}
	if len(pps) > 0 {
		r.ppsCache = append([]byte(nil), pps...)
	}
}

// WriteAccessUnit appends au to the recording
func (r *Recorder) WriteAccessUnit(au *h264.AccessUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return fmt.Errorf("recorder closed")
	}

	hasHeaders := false
	for _, nal := range au.NALs {
		switch nal.Type {
		case types.NALTypeSPS:
			r.updateHeaders(nal.Data, nil)
			hasHeaders = true
		case types.NALTypePPS:
			r.updateHeaders(nil, nal.Data)
		}
	}

	if !r.firstIDRWritten {
		if !au.Keyframe {
			r.skipped++
			return nil
		}
		if !hasHeaders && len(r.spsCache) > 0 && len(r.ppsCache) > 0 {
			// Prepend SPS and PPS headers to ensure playability
			nals := make([]types.NALUnit, 0, len(au.NALs)+2)
			nals = append(nals,
				types.NALUnit{Type: types.NALTypeSPS, Data: r.spsCache},
				types.NALUnit{Type: types.NALTypePPS, Data: r.ppsCache},
			)
			au = &h264.AccessUnit{Seq: au.Seq, NALs: append(nals, au.NALs...), Keyframe: true}
		}
		r.firstIDRWritten = true
	}

	n, err := r.file.Write(au.Bytes())
	r.bytesWritten += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write access unit #%d: %w", au.Seq, err)
	}
	r.frameCount++
	return nil
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Path:         r.path,
		FrameCount:   r.frameCount,
		Skipped:      r.skipped,
		BytesWritten: r.bytesWritten,
		Duration:     time.Since(r.startTime),
	}
}

// Close flushes and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	defer func() { r.file = nil }()
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	logger.Info("Recorder", "Recorded %d access units (%d bytes) to %s", r.frameCount, r.bytesWritten, r.path)
	return nil
}
