package webmonitor

import (
	"bufio"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/internal/broadcast"
	"github.com/perceptual-video/pvstream/pkg/types"
)

func newTestServer(t *testing.T, hub *broadcast.Hub, status func() map[string]any) *httptest.Server {
	t.Helper()
	s, err := NewServer(hub, status, Config{KeepAlive: 50 * time.Millisecond, StatusInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestSnapshotShowsBarsBeforeFirstFrame(t *testing.T) {
	ts := newTestServer(t, broadcast.NewHub(), nil)

	resp, err := http.Get(ts.URL + "/preview.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestSnapshotEncodesLatestFrame(t *testing.T) {
	hub := broadcast.NewHub()
	hub.Publish(&types.VideoFrame{Pixels: types.FillPixels(16, 8, 0x00FF0000), Width: 16, Height: 8, Seq: 1})
	ts := newTestServer(t, hub, nil)

	resp, err := http.Get(ts.URL + "/preview.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	r, g, b, _ := img.At(8, 4).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestMJPEGStreamsFrames(t *testing.T) {
	hub := broadcast.NewHub()
	hub.Publish(&types.VideoFrame{Pixels: types.FillPixels(4, 4, 0), Width: 4, Height: 4, Seq: 1})
	ts := newTestServer(t, hub, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/preview.mjpeg", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	rd := bufio.NewReader(resp.Body)
	parts := 0
	for parts < 2 {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if line == "--frame\r\n" {
			parts++
		}
	}
	assert.Equal(t, 2, parts, "the first part and at least one keep-alive part")
	assert.Equal(t, 1, hub.Stats().Subscribers)
}

func TestStatusStream(t *testing.T) {
	status := func() map[string]any { return map[string]any{"policy": "keyframe"} }
	ts := newTestServer(t, broadcast.NewHub(), status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &got))
	assert.Equal(t, "keyframe", got["policy"])
}

func TestStatusStreamUnavailable(t *testing.T) {
	ts := newTestServer(t, broadcast.NewHub(), nil)
	resp, err := http.Get(ts.URL + "/status/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
