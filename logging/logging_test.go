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
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(Options{Level: "info"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("scored", zap.Float64("score", 0.25))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "scored", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, 0.25, entry["score"])
	assert.Contains(t, entry, "ts")
}

func TestBuildDebugConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(Options{Level: "DEBUG", Format: FormatConsole}, &buf)
	require.NoError(t, err)

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestBuildRejectsBadOptions(t *testing.T) {
	_, err := build(Options{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = build(Options{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asdmodel.log")
	logger, err := New(Options{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Same(t, logger, zap.L())
}
