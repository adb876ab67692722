// Package pipeline produces decoded video frames for the producer.
//
// A Source calls its Probe once per media buffer before the buffer is
// rendered or decoded; buffers the probe drops never reach the Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perceptual-video/pvstream/pkg/types"
)

// Probe is the per-buffer capability a source hands its metadata to
type Probe func(meta types.BufferMeta) types.Decision

// Sink receives every frame that survived the probe. The frame is owned by
// the sink once delivered.
type Sink func(frame *types.VideoFrame)

// Source generates frames until ctx is cancelled, the input ends or a
// pipeline error occurs. Cancellation and a finite input ending normally
// both return nil.
type Source interface {
	Name() string
	Run(ctx context.Context, probe Probe, sink Sink) error
}

// Source kinds
const (
	KindTestSrc = "testsrc"
	KindAnnexB  = "annexb"
	KindGst     = "gst"
)

// ErrGstUnavailable is returned when the binary was built without GStreamer
var ErrGstUnavailable = errors.New("pipeline: built without gstreamer support (rebuild with -tags gst)")

// Config describes the producer's media pipeline
type Config struct {
	Kind   string `mapstructure:"kind"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	FPS    int    `mapstructure:"fps"`
	GOP    int    `mapstructure:"gop"`    // Keyframe interval for testsrc
	Frames uint64 `mapstructure:"frames"` // Stop after this many buffers (0 = unlimited)
	Path   string `mapstructure:"path"`   // Input file for annexb and gst
	Loop   bool   `mapstructure:"loop"`   // Restart annexb input at EOF
	Launch string `mapstructure:"launch"` // Custom gst launch string
}

// DefaultConfig returns the default source configuration
func DefaultConfig() Config {
	return Config{
		Kind:   KindTestSrc,
		Width:  640,
		Height: 480,
		FPS:    30,
		GOP:    30,
	}
}

// Validate checks the source configuration
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid source dimensions %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid source fps %d", c.FPS)
	}
	switch strings.ToLower(c.Kind) {
	case KindTestSrc:
		if c.GOP <= 0 {
			return fmt.Errorf("invalid testsrc gop %d", c.GOP)
		}
	case KindAnnexB:
		if c.Path == "" {
			return errors.New("annexb source requires a path")
		}
	case KindGst:
		if c.Path == "" && c.Launch == "" {
			return errors.New("gst source requires a path or a launch string")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Kind)
	}
	return nil
}

// New builds the source selected by cfg
func New(cfg Config) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Kind) {
	case KindAnnexB:
		return NewAnnexBSource(cfg), nil
	case KindGst:
		return NewGstSource(cfg)
	default:
		return NewTestSource(cfg), nil
	}
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

// pacer ticks at the configured frame rate; a zero interval never waits
type pacer struct {
	ticker *time.Ticker
}

func newPacer(interval time.Duration) *pacer {
	if interval <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(interval)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
