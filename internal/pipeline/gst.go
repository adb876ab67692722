//go:build gst

package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

// Element names the launch string must provide
const (
	gstProbeElement = "filter"
	gstSinkElement  = "sink"
)

// GstSource runs a GStreamer pipeline. The probe is installed on the src
// pad of the element named "filter", which sits between the encoder and
// the decoder; decoded BGRx pictures are pulled from the appsink "sink".
type GstSource struct {
	cfg Config
}

// NewGstSource creates a GStreamer source
func NewGstSource(cfg Config) (Source, error) {
	return &GstSource{cfg: cfg}, nil
}

// Name returns the source kind
func (s *GstSource) Name() string { return KindGst }

// LaunchString returns the pipeline description used by Run
func (s *GstSource) LaunchString() string {
	if s.cfg.Launch != "" {
		return s.cfg.Launch
	}
	return fmt.Sprintf(
		"filesrc location=%s ! decodebin ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,width=%d,height=%d,framerate=%d/1 ! "+
			"x264enc tune=zerolatency key-int-max=%d ! "+
			"identity name=%s ! "+
			"avdec_h264 ! videoconvert ! video/x-raw,format=BGRx,width=%d,height=%d ! "+
			"appsink name=%s sync=true max-buffers=1 drop=true",
		s.cfg.Path, s.cfg.Width, s.cfg.Height, s.cfg.FPS, max(s.cfg.GOP, 1),
		gstProbeElement, s.cfg.Width, s.cfg.Height, gstSinkElement,
	)
}

// Run builds the pipeline, plays it and watches its bus until EOS, an
// error or cancellation
func (s *GstSource) Run(ctx context.Context, probe Probe, sink Sink) error {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	launch := s.LaunchString()
	logger.Debug("Gst", "Creating pipeline: %s", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	filterElem, err := pipeline.GetElementByName(gstProbeElement)
	if err != nil {
		return fmt.Errorf("pipeline has no %q element: %w", gstProbeElement, err)
	}
	sinkElem, err := pipeline.GetElementByName(gstSinkElement)
	if err != nil {
		return fmt.Errorf("pipeline has no %q element: %w", gstSinkElement, err)
	}

	srcPad := filterElem.GetStaticPad("src")
	if srcPad == nil {
		return fmt.Errorf("failed to get src pad from %q", gstProbeElement)
	}

	var seq atomic.Uint64
	var lastKept atomic.Pointer[types.BufferMeta]
	srcPad.AddProbe(gst.PadProbeTypeBuffer, func(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		buffer := info.GetBuffer()
		if buffer == nil {
			return gst.PadProbeOK
		}
		meta := types.BufferMeta{
			Seq:   seq.Add(1),
			PTS:   time.Duration(buffer.PresentationTimestamp()),
			Delta: buffer.HasFlags(gst.BufferFlagDeltaUnit),
		}
		if probe != nil && probe(meta) == types.Drop {
			return gst.PadProbeDrop
		}
		lastKept.Store(&meta)
		return gst.PadProbeOK
	})

	appSink := app.SinkFromElement(sinkElem)
	appSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(as *app.Sink) gst.FlowReturn {
			sample := as.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			frame := bgrxToFrame(mapInfo.Bytes(), s.cfg.Width, s.cfg.Height)
			buffer.Unmap()
			if frame == nil {
				logger.Warn("Gst", "Unexpected sample size, skipping frame")
				return gst.FlowOK
			}
			if meta := lastKept.Load(); meta != nil {
				frame.Seq = meta.Seq
				frame.PTS = meta.PTS
				frame.Keyframe = !meta.Delta
			}
			sink(frame)
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logger.Info("Gst", "Pipeline playing (%dx%d)", s.cfg.Width, s.cfg.Height)

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Poll for messages with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			logger.Info("Gst", "End of stream after %d buffers", seq.Load())
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
		}
	}
}

// bgrxToFrame packs a BGRx buffer into 0x00RRGGBB pixels
func bgrxToFrame(data []byte, width, height int) *types.VideoFrame {
	if width <= 0 || height <= 0 || len(data) != width*height*4 {
		return nil
	}
	pixels := make([]uint32, width*height)
	for i := range pixels {
		// BGRx in memory is 0xxxRRGGBB little-endian
		pixels[i] = binary.LittleEndian.Uint32(data[i*4:]) & 0x00FFFFFF
	}
	return &types.VideoFrame{Pixels: pixels, Width: width, Height: height}
}
