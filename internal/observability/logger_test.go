package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogOptions{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud", zap.String("job", "ml/x"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
	assert.Contains(t, out, "ml/x")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogOptions{Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hello", zap.Int("n", 3))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, float64(3), rec["n"])
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gohat.log")
	var console bytes.Buffer
	logger, err := NewLogger(LogOptions{File: path, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.Info("to both")
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"msg":"to both"`))
	assert.Contains(t, console.String(), "to both")
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	_, err := NewLogger(LogOptions{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestCLILoggerDefaultsToNop(t *testing.T) {
	require.NotNil(t, CLILogger)
	assert.NotPanics(t, func() { CLILogger.Info("ignored") })
}
