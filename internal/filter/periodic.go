package filter

import (
	"sync"

	"github.com/perceptual-video/pvstream/pkg/types"
)

// Periodic keeps one frame out of every interval, regardless of frame type.
// It can drop keyframes and keep dependent frames, which may show up as
// decode artifacts downstream.
type Periodic struct {
	counters

	mu       sync.Mutex
	counter  uint64
	interval uint64
}

// NewPeriodic creates a periodic filter. An interval of 0 keeps every frame.
func NewPeriodic(interval uint64) *Periodic {
	return &Periodic{interval: interval}
}

// OnBuffer increments the 1-based counter and keeps the frame iff
// counter is a multiple of the interval
func (p *Periodic) OnBuffer(types.BufferMeta) types.Decision {
	p.mu.Lock()
	p.counter++
	keep := p.interval == 0 || p.counter%p.interval == 0
	p.mu.Unlock()

	if keep {
		return p.record(types.Keep)
	}
	return p.record(types.Drop)
}

// Policy returns PolicyPeriodic
func (p *Periodic) Policy() Policy { return PolicyPeriodic }

// Interval returns the configured keep interval
func (p *Periodic) Interval() uint64 { return p.interval }
