package filter

import (
	"sync"

	"github.com/perceptual-video/pvstream/pkg/types"
)

// KeyframePriority forwards every keyframe and sheds dependent frames only.
// The volume reduction depends on the encoder's GOP structure.
type KeyframePriority struct {
	counters

	mu       sync.Mutex
	previous types.BufferMeta // last accepted buffer
	current  types.BufferMeta // last evaluated buffer
	accepted bool
}

// NewKeyframePriority creates a keyframe-priority filter
func NewKeyframePriority() *KeyframePriority {
	return &KeyframePriority{}
}

// OnBuffer keeps the buffer iff it is not a delta unit
func (k *KeyframePriority) OnBuffer(meta types.BufferMeta) types.Decision {
	keep := !meta.Delta

	k.mu.Lock()
	k.current = meta
	if keep {
		k.previous = meta
		k.accepted = true
	}
	k.mu.Unlock()

	if keep {
		return k.record(types.Keep)
	}
	return k.record(types.Drop)
}

// Policy returns PolicyKeyframe
func (k *KeyframePriority) Policy() Policy { return PolicyKeyframe }

// History returns the last accepted and last evaluated buffers.
// ok is false until a buffer has been accepted.
func (k *KeyframePriority) History() (previous, current types.BufferMeta, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.previous, k.current, k.accepted
}
