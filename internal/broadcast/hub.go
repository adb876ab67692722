// Package broadcast fans decoded frames out to streaming sessions.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// ErrClosed is returned by Next once the subscriber or the hub is closed
var ErrClosed = errors.New("broadcast: closed")

// Probe decides whether a published frame enters a subscriber's mailbox.
// It is called with the hub lock held, in publish order, and must not block.
type Probe func(meta types.BufferMeta) types.Decision

// Hub keeps the latest frame and a single-slot mailbox per subscriber.
// A slow subscriber skips to the newest frame instead of queueing; the
// overwritten frame is counted as dropped. Frames are shared between
// subscribers and must be treated as read-only.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Subscriber
	latest  *types.VideoFrame
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a snapshot of hub counters
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Subscriber),
	}
}

// Publish makes frame the latest frame and offers it to every subscriber.
// It never blocks on a slow subscriber.
func (h *Hub) Publish(frame *types.VideoFrame) {
	if frame == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.latest = frame
	h.published.Add(1)
	for _, s := range h.clients {
		if !s.accepts(frame) {
			continue
		}
		if s.offer(frame) {
			h.dropped.Add(1)
		}
	}
}

// Latest returns the most recent frame, or nil before the first Publish
func (h *Hub) Latest() *types.VideoFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe registers a new subscriber. Its mailbox is primed with the
// latest frame, if any, so the first Next returns immediately.
func (h *Hub) Subscribe() *Subscriber {
	return h.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber that only receives the frames
// probe keeps. The latest frame is evaluated first, so probe sees every
// frame from the moment of subscription exactly once. A nil probe keeps
// every frame.
func (h *Hub) SubscribeFiltered(probe Probe) *Subscriber {
	s := &Subscriber{
		id:      uuid.NewString(),
		hub:     h,
		probe:   probe,
		mailbox: make(chan *types.VideoFrame, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.done)
		return s
	}
	if h.latest != nil && s.accepts(h.latest) {
		s.mailbox <- h.latest
	}
	h.clients[s.id] = s

	logger.Debug("Hub", "Subscriber %s added (total subscribers: %d)", s.id, len(h.clients))
	return s
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s.id]; !ok {
		return
	}
	delete(h.clients, s.id)
	close(s.done)
	logger.Debug("Hub", "Subscriber %s removed (remaining subscribers: %d)", s.id, len(h.clients))
}

// Close releases every subscriber; subsequent publishes are ignored
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.clients {
		close(s.done)
		delete(h.clients, id)
	}
}

// Stats returns the hub counters
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Subscriber is one consumer of the hub
type Subscriber struct {
	id      string
	hub     *Hub
	probe   Probe
	mailbox chan *types.VideoFrame
	done    chan struct{}
	once    sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	filtered  atomic.Uint64
}

// ID returns the subscriber's unique identifier
func (s *Subscriber) ID() string { return s.id }

// accepts runs the probe; called with the hub lock held
func (s *Subscriber) accepts(frame *types.VideoFrame) bool {
	if s.probe == nil || s.probe(frame.Meta()) == types.Keep {
		return true
	}
	s.filtered.Add(1)
	return false
}

// offer replaces the pending frame; called with the hub lock held.
// It reports whether a pending frame was overwritten.
func (s *Subscriber) offer(frame *types.VideoFrame) bool {
	select {
	case s.mailbox <- frame:
		return false
	default:
	}
	overwritten := false
	select {
	case <-s.mailbox:
		overwritten = true
		s.dropped.Add(1)
	default:
	}
	// Only hub-locked callers send, so the slot is free now
	s.mailbox <- frame
	return overwritten
}

// Next blocks until a frame newer than the last one returned is available
func (s *Subscriber) Next(ctx context.Context) (*types.VideoFrame, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case f := <-s.mailbox:
		s.delivered.Add(1)
		return f, nil
	}
}

// Delivered returns how many frames Next has returned
func (s *Subscriber) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns how many frames were overwritten before delivery
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Filtered returns how many frames the probe dropped
func (s *Subscriber) Filtered() uint64 { return s.filtered.Load() }

// Close unsubscribes; pending and future Next calls return ErrClosed
func (s *Subscriber) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}
