// Command pvsim runs every frame filter policy over the same source
// offline and prints how many buffers each one keeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/perceptual-video/pvstream/internal/filter"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/pipeline"
	"github.com/perceptual-video/pvstream/internal/recorder"
	"github.com/perceptual-video/pvstream/pkg/types"
)

var (
	sourceKind   = flag.String("source", pipeline.KindTestSrc, "Media source (testsrc, annexb)")
	inputPath    = flag.String("input", "", "Annex-B input file")
	frames       = flag.Uint64("frames", 300, "Buffers to evaluate (0 = whole input)")
	gop          = flag.Int("gop", 30, "Keyframe interval for testsrc")
	keepInterval = flag.Uint64("keep-interval", 4, "Keep one of every N frames (periodic policy)")
	recordDir    = flag.String("record", "", "Write the kept access units of each policy to <dir>/<policy>.h264 (annexb only)")
	patternLen   = flag.Int("pattern", 40, "Decisions shown per policy")
	logLevel     = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

// result is the outcome of one policy run
type result struct {
	policy   filter.Policy
	stats    filter.Stats
	pattern  string
	recorded *recorder.Status
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	cfg := pipeline.Config{
		Kind:   *sourceKind,
		Width:  160,
		Height: 120,
		GOP:    *gop,
		Frames: *frames,
		Path:   *inputPath,
	}

	policies := []filter.Policy{filter.PolicyKeyframe, filter.PolicyPeriodic}
	results := make([]result, len(policies))

	g, ctx := errgroup.WithContext(context.Background())
	for i, p := range policies {
		i, p := i, p
		g.Go(func() error {
			r, err := simulate(ctx, cfg, filter.Config{Policy: p, KeepInterval: *keepInterval})
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	fmt.Printf("Source: %s, %d buffers\n\n", cfg.Kind, results[0].stats.Evaluated)
	fmt.Printf("%-10s %10s %10s %10s %8s  %s\n", "POLICY", "EVALUATED", "KEPT", "DROPPED", "RATIO", "PATTERN")
	for _, r := range results {
		fmt.Printf("%-10s %10d %10d %10d %7.1f%%  %s\n",
			r.policy, r.stats.Evaluated, r.stats.Kept, r.stats.Dropped, r.stats.KeepRatio()*100, r.pattern)
	}
	for _, r := range results {
		if r.recorded != nil {
			fmt.Printf("\n%s: %d access units, %d bytes -> %s", r.policy, r.recorded.FrameCount, r.recorded.BytesWritten, r.recorded.Path)
		}
	}
	fmt.Println()
}

// newSource builds an unpaced source so the simulation runs as fast as possible
func newSource(cfg pipeline.Config) (pipeline.Source, error) {
	switch cfg.Kind {
	case pipeline.KindTestSrc:
		if cfg.Frames == 0 {
			return nil, fmt.Errorf("testsrc requires -frames > 0")
		}
		return pipeline.NewTestSource(cfg), nil
	case pipeline.KindAnnexB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("annexb source requires -input")
		}
		return pipeline.NewAnnexBSource(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Kind)
	}
}

func simulate(ctx context.Context, cfg pipeline.Config, fcfg filter.Config) (result, error) {
	f, err := filter.New(fcfg)
	if err != nil {
		return result{}, err
	}
	src, err := newSource(cfg)
	if err != nil {
		return result{}, err
	}

	var rec *recorder.Recorder
	if as, ok := src.(*pipeline.AnnexBSource); ok && *recordDir != "" {
		rec, err = recorder.NewRecorder(filepath.Join(*recordDir, string(f.Policy())+".h264"))
		if err != nil {
			return result{}, err
		}
		defer rec.Close()
		as.Tap(rec.WriteAccessUnit)
	}

	var pattern strings.Builder
	probe := func(meta types.BufferMeta) types.Decision {
		d := f.OnBuffer(meta)
		if pattern.Len() < *patternLen {
			switch {
			case d == types.Drop:
				pattern.WriteByte('.')
			case meta.Delta:
				pattern.WriteByte('d')
			default:
				pattern.WriteByte('K')
			}
		}
		return d
	}

	if err := src.Run(ctx, probe, func(*types.VideoFrame) {}); err != nil {
		return result{}, err
	}
	r := result{policy: f.Policy(), stats: f.Stats(), pattern: pattern.String()}
	if rec != nil {
		if err := rec.Close(); err != nil {
			return result{}, err
		}
		status := rec.Status()
		r.recorded = &status
	}
	return r, nil
}
