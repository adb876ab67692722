package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"

	"github.com/perceptual-video/pvstream/internal/h264"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// AnnexBSource replays the GOP structure of an H.264 elementary stream.
// Decoding happens elsewhere; each kept access unit yields a flat
// placeholder picture whose shade tracks the sequence number.
type AnnexBSource struct {
	cfg  Config
	open func() (io.ReadCloser, error)
	tap  func(*h264.AccessUnit) error
}

// NewAnnexBSource creates a source reading cfg.Path
func NewAnnexBSource(cfg Config) *AnnexBSource {
	return &AnnexBSource{
		cfg: cfg,
		open: func() (io.ReadCloser, error) {
			return os.Open(cfg.Path)
		},
	}
}

// NewAnnexBReaderSource creates a source reading from open, which is
// called again on every loop iteration
func NewAnnexBReaderSource(cfg Config, open func() (io.ReadCloser, error)) *AnnexBSource {
	return &AnnexBSource{cfg: cfg, open: open}
}

// Name returns the source kind
func (s *AnnexBSource) Name() string { return KindAnnexB }

// Tap registers fn to receive every kept access unit before its picture
// reaches the sink. An error from fn stops Run.
func (s *AnnexBSource) Tap(fn func(*h264.AccessUnit) error) { s.tap = fn }

// Run reads access units and hands them to probe and sink
func (s *AnnexBSource) Run(ctx context.Context, probe Probe, sink Sink) error {
	interval := frameInterval(s.cfg.FPS)
	p := newPacer(interval)
	defer p.stop()

	proc := h264.NewProcessor()
	var tapErr error
	emit := func(au *h264.AccessUnit) bool {
		if s.cfg.Frames > 0 && au.Seq > s.cfg.Frames {
			return false
		}
		if err := p.wait(ctx); err != nil {
			return false
		}
		meta := au.Meta()
		meta.PTS = interval * time.Duration(au.Seq-1)
		if probe != nil && probe(meta) == types.Drop {
			return true
		}
		if s.tap != nil {
			if tapErr = s.tap(au); tapErr != nil {
				return false
			}
		}
		sink(s.placeholder(meta))
		return true
	}

	for pass := 1; ; pass++ {
		before := proc.Seq()
		more, err := s.replay(proc, emit)
		if err != nil {
			return err
		}
		if tapErr != nil {
			return fmt.Errorf("annexb tap: %w", tapErr)
		}
		if more && proc.Seq() == before {
			return errors.New("annexb input contains no pictures")
		}
		if !more || !s.cfg.Loop || ctx.Err() != nil {
			return nil
		}
		logger.Debug("AnnexB", "Restarting input (pass %d, %d access units so far)", pass+1, proc.Seq())
	}
}

// replay reads the input once. more is false when emit asked to stop.
func (s *AnnexBSource) replay(proc *h264.Processor, emit func(*h264.AccessUnit) bool) (more bool, err error) {
	rc, err := s.open()
	if err != nil {
		return false, fmt.Errorf("open annexb input: %w", err)
	}
	defer rc.Close()

	reader, err := h264reader.NewReader(rc)
	if err != nil {
		return false, fmt.Errorf("create h264 reader: %w", err)
	}

	for {
		nal, err := reader.NextNAL()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return false, fmt.Errorf("read nal: %w", err)
		}
		au, ok := proc.Push(types.NALUnit{Type: uint8(nal.UnitType), Data: nal.Data})
		if ok && !emit(au) {
			return false, nil
		}
	}
	if au, ok := proc.Flush(); ok && !emit(au) {
		return false, nil
	}
	return true, nil
}

func (s *AnnexBSource) placeholder(meta types.BufferMeta) *types.VideoFrame {
	shade := uint32(64 + (meta.Seq*5)%128)
	if !meta.Delta {
		shade = 224
	}
	return &types.VideoFrame{
		Pixels:   types.FillPixels(s.cfg.Width, s.cfg.Height, shade<<16|shade<<8|shade),
		Width:    s.cfg.Width,
		Height:   s.cfg.Height,
		Seq:      meta.Seq,
		PTS:      meta.PTS,
		Keyframe: !meta.Delta,
	}
}
