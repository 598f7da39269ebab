package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"synbridge/pkg/config"
)

func TestJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Info("hidden")
	l.Named("validator").Warn("command rejected", zap.String("code", "rate_limited"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "command rejected", entry["msg"])
	assert.Equal(t, "validator", entry["logger"])
	assert.Equal(t, "rate_limited", entry["code"])

	l.Level.SetLevel(zapcore.DebugLevel)
	buf.Reset()
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	var buf bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "info", Format: "console", File: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Info("hello file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, buf.String(), "hello file")
}

func TestInvalidSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
