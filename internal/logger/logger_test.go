package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"none", SILENT},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestModuleTaggedOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)

	l.Debug("Server", "hidden %d", 1)
	l.Info("Server", "accepted %d streams", 3)
	out := buf.String()

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "Server")
	assert.Contains(t, out, "accepted 3 streams")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(ERROR, &buf, false)
	l.Warn("Client", "first")
	assert.Empty(t, buf.String())

	l.SetLevel(DEBUG)
	assert.Equal(t, DEBUG, l.GetLevel())
	l.Debug("Client", "second")
	assert.Contains(t, buf.String(), "second")

	l.SetLevel(SILENT)
	buf.Reset()
	l.Error("Client", "third")
	assert.Empty(t, buf.String())
}

func TestSetupWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pv.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Outputs = []string{path}
	cfg.Rotation.Enable = true

	l, err := Setup(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { SetDefault(nil) })

	Info("Trust", "published %s", "cert.pem")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"Trust"`)
	assert.Contains(t, string(data), `"msg":"published cert.pem"`)
}

func TestSetupRejectsBadConfig(t *testing.T) {
	_, err := Setup(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = Setup(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestGlobalWithoutLoggerIsNoop(t *testing.T) {
	SetDefault(nil)
	Info("Nobody", "dropped")
	assert.Equal(t, INFO, GetLevel())
	assert.NoError(t, Sync())
}
