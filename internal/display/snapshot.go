package display

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// Snapshot writes the current frame as a PNG at most once per interval,
// scaled to the configured output size
type Snapshot struct {
	Headless

	cfg    Config
	last   time.Time
	writes uint64
}

// NewSnapshot creates a snapshot presenter
func NewSnapshot(cfg Config) *Snapshot {
	return &Snapshot{cfg: cfg, Headless: Headless{quitAfter: cfg.QuitAfter}}
}

// Blit writes the frame if the interval elapsed
func (s *Snapshot) Blit(pixels []uint32, width, height int) error {
	if err := s.Headless.Blit(pixels, width, height); err != nil {
		return err
	}
	now := time.Now()
	if !s.last.IsZero() && now.Sub(s.last) < s.cfg.Interval {
		return nil
	}
	img := types.UnpackRGBA(pixels, width, height)
	if img == nil {
		return fmt.Errorf("blit: %d pixels do not match %dx%d", len(pixels), width, height)
	}
	if err := s.write(s.scale(img)); err != nil {
		return err
	}
	s.last = now
	s.writes++
	return nil
}

// Writes returns the number of PNG files written
func (s *Snapshot) Writes() uint64 { return s.writes }

func (s *Snapshot) scale(src *image.RGBA) image.Image {
	w, h := s.cfg.Width, s.cfg.Height
	if w == 0 && h == 0 {
		return src
	}
	b := src.Bounds()
	// Keep the aspect ratio when only one side is configured
	if w == 0 {
		w = b.Dx() * h / max(b.Dy(), 1)
	}
	if h == 0 {
		h = b.Dy() * w / max(b.Dx(), 1)
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func (s *Snapshot) write(img image.Image) error {
	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.cfg.Path); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	logger.Debug("Snapshot", "Wrote %s (%dx%d)", s.cfg.Path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}
