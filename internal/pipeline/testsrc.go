package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// TestSource renders scrolling color bars with a frame counter overlay.
// Every GOP-th buffer is flagged as a keyframe.
type TestSource struct {
	cfg Config
}

// NewTestSource creates a synthetic source
func NewTestSource(cfg Config) *TestSource {
	if cfg.GOP <= 0 {
		cfg.GOP = 1
	}
	return &TestSource{cfg: cfg}
}

// Name returns the source kind
func (s *TestSource) Name() string { return KindTestSrc }

// Run generates buffers at the configured rate
func (s *TestSource) Run(ctx context.Context, probe Probe, sink Sink) error {
	interval := frameInterval(s.cfg.FPS)
	p := newPacer(interval)
	defer p.stop()

	logger.Info("TestSrc", "Generating %dx%d @ %d fps, gop=%d", s.cfg.Width, s.cfg.Height, s.cfg.FPS, s.cfg.GOP)

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	for seq := uint64(1); s.cfg.Frames == 0 || seq <= s.cfg.Frames; seq++ {
		if err := p.wait(ctx); err != nil {
			return nil
		}

		meta := types.BufferMeta{
			Seq:   seq,
			PTS:   interval * time.Duration(seq-1),
			Delta: (seq-1)%uint64(s.cfg.GOP) != 0,
		}
		if probe != nil && probe(meta) == types.Drop {
			continue
		}

		s.render(img, seq)
		sink(&types.VideoFrame{
			Pixels:   types.PackRGBA(img),
			Width:    s.cfg.Width,
			Height:   s.cfg.Height,
			Seq:      seq,
			PTS:      meta.PTS,
			Keyframe: !meta.Delta,
		})
	}
	return nil
}

func (s *TestSource) render(img *image.RGBA, seq uint64) {
	w, h := s.cfg.Width, s.cfg.Height
	barWidth := w / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := int(seq) % w
	for x := 0; x < w; x++ {
		barIndex := ((x + shift) % w) / barWidth
		if barIndex >= len(barColors) {
			barIndex = len(barColors) - 1
		}
		c := barColors[barIndex]
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	// Frame counter, white text on black
	label := fmt.Sprintf("Frame: %d", seq)
	face := basicfont.Face7x13
	box := image.Rect(5, 5, 15+len(label)*face.Advance, 10+face.Height)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(color.Black), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(10, 5+face.Ascent+2),
	}
	d.DrawString(label)
}
