package webmonitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/pkg/types"
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// blankJPEG renders color bars, shown until the first frame is published
func blankJPEG(width, height, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(width/len(colors), 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, colors[min(x/barWidth, len(colors)-1)])
		}
	}
	return encodeJPEG(img, quality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func frameJPEG(frame *types.VideoFrame, quality int) ([]byte, error) {
	img := types.UnpackRGBA(frame.Pixels, frame.Width, frame.Height)
	if img == nil {
		return nil, fmt.Errorf("frame #%d: %d pixels do not match %dx%d", frame.Seq, len(frame.Pixels), frame.Width, frame.Height)
	}
	return encodeJPEG(img, quality)
}

// writePart writes one multipart MJPEG part; an error means the client left
func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		logger.Debug("MJPEG", "Client disconnected during write: %v", err)
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
		return err
	}
	return nil
}
