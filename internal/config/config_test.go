package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/internal/filter"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
}

func TestLoadServerFromYAML(t *testing.T) {
	path := writeFile(t, "pvserver.yaml", `
listen: "0.0.0.0:5000"
codec: msgpack
max_streams: 2
write_timeout: 750ms
filter:
  policy: periodic
  keep_interval: 3
source:
  kind: testsrc
  width: 320
  height: 240
log:
  level: debug
  outputs: [stdout]
`)
	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Listen)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, int64(2), cfg.MaxStreams)
	assert.Equal(t, 750*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, filter.PolicyPeriodic, cfg.Filter.Policy)
	assert.Equal(t, uint64(3), cfg.Filter.KeepInterval)
	assert.Equal(t, 320, cfg.Source.Width)
	assert.Equal(t, 30, cfg.Source.FPS)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
}

func TestLoadServerEnvOverride(t *testing.T) {
	t.Setenv("PV_FILTER_POLICY", "periodic")
	t.Setenv("PV_MAX_STREAMS", "5")
	cfg, err := LoadServer(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, filter.PolicyPeriodic, cfg.Filter.Policy)
	assert.Equal(t, int64(5), cfg.MaxStreams)
}

func TestLoadServerRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad_listen", `listen: "nope"`},
		{"bad_codec", `codec: json`},
		{"bad_policy", `filter: {policy: random}`},
		{"zero_streams", `max_streams: 0`},
		{"bad_source", `source: {kind: annexb}`},
		{"bad_level", `log: {level: loud}`},
		{"malformed_yaml", "listen: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServer(writeFile(t, "pvserver.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadClient(t *testing.T) {
	path := writeFile(t, "pvclient.yaml", `
server: "127.0.0.1:6000"
render_fps: 30
wake_on_frame: true
display:
  kind: snapshot
  path: out.png
  quit_after: 10
`)
	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.Server)
	assert.Equal(t, DefaultPingNonce, cfg.PingNonce)
	assert.Equal(t, 30, cfg.RenderFPS)
	assert.True(t, cfg.WakeOnFrame)
	assert.Equal(t, "snapshot", cfg.Display.Kind)
	assert.Equal(t, uint64(10), cfg.Display.QuitAfter)
	assert.Equal(t, time.Second, cfg.Display.Interval)
}

func TestLoadClientRejectsInvalid(t *testing.T) {
	_, err := LoadClient(writeFile(t, "c.yaml", `render_fps: 0`))
	assert.Error(t, err)
	_, err = LoadClient(writeFile(t, "c.yaml", `display: {kind: window}`))
	assert.Error(t, err)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
