package display

import (
	"sync"
	"sync/atomic"
)

// Headless counts blits without presenting anything
type Headless struct {
	quitAfter uint64
	blits     atomic.Uint64
	resizes   atomic.Uint64
	quit      atomic.Bool

	mu     sync.Mutex
	width  int
	height int
	last   uint32 // First pixel of the most recent blit
}

// NewHeadless creates a headless presenter. A non-zero quitAfter requests
// quit once that many blits were presented.
func NewHeadless(quitAfter uint64) *Headless {
	return &Headless{quitAfter: quitAfter}
}

// Resize records the new surface size
func (h *Headless) Resize(width, height int) error {
	h.mu.Lock()
	h.width, h.height = width, height
	h.mu.Unlock()
	h.resizes.Add(1)
	return nil
}

// Blit counts the frame
func (h *Headless) Blit(pixels []uint32, width, height int) error {
	h.mu.Lock()
	if len(pixels) > 0 {
		h.last = pixels[0]
	}
	h.mu.Unlock()

	n := h.blits.Add(1)
	if h.quitAfter > 0 && n >= h.quitAfter {
		h.quit.Store(true)
	}
	return nil
}

// QuitRequested reports whether the blit budget is exhausted or Quit was called
func (h *Headless) QuitRequested() bool { return h.quit.Load() }

// Quit requests the render loop to stop
func (h *Headless) Quit() { h.quit.Store(true) }

// Close is a no-op
func (h *Headless) Close() error { return nil }

// Blits returns the number of presented frames
func (h *Headless) Blits() uint64 { return h.blits.Load() }

// Resizes returns the number of Resize calls
func (h *Headless) Resizes() uint64 { return h.resizes.Load() }

// Size returns the current surface size
func (h *Headless) Size() (width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

// LastPixel returns the first pixel of the most recent blit
func (h *Headless) LastPixel() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
