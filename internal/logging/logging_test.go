package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "article", "a.md")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "a.md", rec["article"])
}

func TestNewWithRunLog(t *testing.T) {
	var buf bytes.Buffer
	runLog := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	logger, closer, err := New(Options{Level: "info", RunLog: runLog}, &buf)
	require.NoError(t, err)

	logger.With("tick", 1).Debug("only in run log")
	logger.WithGroup("rpc").Info("both", "phase", "call")
	require.NoError(t, closer.Close())

	assert.NotContains(t, buf.String(), "only in run log")
	assert.Contains(t, buf.String(), "rpc.phase=call")

	data, err := os.ReadFile(runLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "only in run log", rec["msg"])
	assert.Equal(t, float64(1), rec["tick"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
