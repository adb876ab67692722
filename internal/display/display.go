// Package display presents consumer frames.
package display

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Presenter is the consumer's output surface. All methods are called from
// the render goroutine only.
type Presenter interface {
	// Resize is called before the first blit and whenever dimensions change
	Resize(width, height int) error
	// Blit presents pixels (packed 0x00RRGGBB, row-major). The slice must
	// not be retained after Blit returns.
	Blit(pixels []uint32, width, height int) error
	// QuitRequested reports whether the user asked to stop
	QuitRequested() bool
	Close() error
}

// Presenter kinds
const (
	KindHeadless = "headless"
	KindSnapshot = "snapshot"
)

// Config selects and parameterizes a presenter
type Config struct {
	Kind      string        `mapstructure:"kind"`
	Path      string        `mapstructure:"path"`       // PNG output for snapshot
	Interval  time.Duration `mapstructure:"interval"`   // Minimum time between snapshots
	Width     int           `mapstructure:"width"`      // Output width, 0 keeps the frame width
	Height    int           `mapstructure:"height"`     // Output height, 0 keeps the frame height
	QuitAfter uint64        `mapstructure:"quit_after"` // Request quit after this many blits (0 = never)
}

// DefaultConfig returns a headless presenter that never quits on its own
func DefaultConfig() Config {
	return Config{
		Kind:     KindHeadless,
		Path:     "frame.png",
		Interval: time.Second,
	}
}

// Validate checks the presenter configuration
func (c Config) Validate() error {
	switch strings.ToLower(c.Kind) {
	case KindHeadless:
	case KindSnapshot:
		if c.Path == "" {
			return errors.New("snapshot presenter requires a path")
		}
	default:
		return fmt.Errorf("unknown display kind %q", c.Kind)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("invalid output size %dx%d", c.Width, c.Height)
	}
	return nil
}

// New builds the presenter selected by cfg
func New(cfg Config) (Presenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Kind) {
	case KindSnapshot:
		return NewSnapshot(cfg), nil
	default:
		return NewHeadless(cfg.QuitAfter), nil
	}
}
