package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perceptual-video/pvstream/internal/display"
	"github.com/perceptual-video/pvstream/internal/logger"
)

// RenderOptions controls the render cadence
type RenderOptions struct {
	FPS         int  // Blits per second
	WakeOnFrame bool // Also blit as soon as a new frame arrives
}

// Session couples an ingestion goroutine that fills the frame buffer with
// a render loop that presents it
type Session struct {
	client    *Client
	stream    *Stream
	buf       *FrameBuffer
	presenter display.Presenter
	opts      RenderOptions

	closing atomic.Bool
	blits   atomic.Uint64
	lost    chan struct{}
}

// NewSession prepares a session over an established stream
func NewSession(c *Client, stream *Stream, buf *FrameBuffer, p display.Presenter, opts RenderOptions) *Session {
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	return &Session{
		client:    c,
		stream:    stream,
		buf:       buf,
		presenter: p,
		opts:      opts,
		lost:      make(chan struct{}),
	}
}

// Run renders until the presenter asks to quit, quit is closed or ctx is
// cancelled. It then closes the connection and waits for ingestion to
// stop. A stream that failed while rendering is reported as ErrStreamLost;
// the renderer keeps showing the last good frame until the user quits.
func (s *Session) Run(ctx context.Context, quit <-chan struct{}) error {
	var g errgroup.Group
	g.Go(s.ingest)

	renderErr := s.render(ctx, quit)

	s.closing.Store(true)
	s.stream.Close()
	if err := s.client.Close(); err != nil {
		logger.Debug("Client", "Close: %v", err)
	}
	ingestErr := g.Wait()

	logger.Info("Client", "Session ended (frames: %d, blits: %d)", s.buf.Frames(), s.blits.Load())
	if renderErr != nil {
		return renderErr
	}
	return ingestErr
}

// Buffer returns the session's frame buffer
func (s *Session) Buffer() *FrameBuffer { return s.buf }

// Lost is closed when ingestion fails before the session is torn down
func (s *Session) Lost() <-chan struct{} { return s.lost }

// Blits returns the number of presented frames
func (s *Session) Blits() uint64 { return s.blits.Load() }

func (s *Session) ingest() error {
	for {
		frame, err := s.stream.Next()
		if err == nil {
			err = s.buf.Replace(frame)
		}
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			logger.Error("Client", "Video stream lost: %v", err)
			close(s.lost)
			return fmt.Errorf("%w: %w", ErrStreamLost, err)
		}
	}
}

func (s *Session) render(ctx context.Context, quit <-chan struct{}) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()

	var wake <-chan struct{}
	if s.opts.WakeOnFrame {
		wake = s.buf.Updated()
	}

	width, height := -1, -1
	for !s.presenter.QuitRequested() {
		select {
		case <-ctx.Done():
			return nil
		case <-quit:
			return nil
		case <-ticker.C:
		case <-wake:
		}

		pixels, w, h, _ := s.buf.Snapshot()
		if w != width || h != height {
			if err := s.presenter.Resize(w, h); err != nil {
				return fmt.Errorf("resize presenter: %w", err)
			}
			width, height = w, h
		}
		if err := s.presenter.Blit(pixels, w, h); err != nil {
			return fmt.Errorf("blit: %w", err)
		}
		s.blits.Add(1)
	}
	return nil
}
