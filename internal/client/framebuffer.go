package client

import (
	"sync"
	"sync/atomic"

	"github.com/perceptual-video/pvstream/pkg/protocol"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// FrameBuffer holds the most recent frame received from the producer.
// Ingestion is the single writer; the renderer reads it with Snapshot.
// Pixel slices are swapped, never mutated in place, so a snapshot stays
// valid after the lock is released.
type FrameBuffer struct {
	mu     sync.Mutex
	pixels []uint32
	width  int
	height int
	dirty  bool

	updated chan struct{}
	frames  atomic.Uint64
}

// NewFrameBuffer creates a width x height buffer filled with neutral gray
func NewFrameBuffer(width, height int) *FrameBuffer {
	width, height = max(width, 0), max(height, 0)
	return &FrameBuffer{
		pixels:  types.FillPixels(width, height, types.NeutralGray),
		width:   width,
		height:  height,
		updated: make(chan struct{}, 1),
	}
}

// Replace swaps in the frame's pixels and dimensions. Frames whose pixel
// count disagrees with their dimensions are rejected and the buffer keeps
// its previous contents.
func (b *FrameBuffer) Replace(f protocol.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.pixels = f.Pixels
	b.width = int(f.Width)
	b.height = int(f.Height)
	b.dirty = true
	b.mu.Unlock()

	b.frames.Add(1)
	select {
	case b.updated <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns the current pixels and dimensions and whether they
// changed since the previous snapshot. The returned slice must be treated
// as read-only.
func (b *FrameBuffer) Snapshot() (pixels []uint32, width, height int, dirty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dirty = b.dirty
	b.dirty = false
	return b.pixels, b.width, b.height, dirty
}

// Size returns the current dimensions
func (b *FrameBuffer) Size() (width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

// Updated is signalled after each Replace. Signals coalesce.
func (b *FrameBuffer) Updated() <-chan struct{} { return b.updated }

// Frames returns the number of accepted frames
func (b *FrameBuffer) Frames() uint64 { return b.frames.Load() }
