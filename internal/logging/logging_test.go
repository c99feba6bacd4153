package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initToFile(t *testing.T, debug bool) string {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "obsdb.log")
	closer, err := Init(Options{Path: path, Debug: debug})
	require.NoError(t, err)

	slog.Debug("listing fetched", "project", "A")
	slog.Info("mirror done", "jobs", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestInitWritesToFileWithoutColor(t *testing.T) {
	out := initToFile(t, false)

	assert.Contains(t, out, "mirror done")
	assert.Contains(t, out, "jobs=3")
	assert.NotContains(t, out, "listing fetched")
	assert.NotContains(t, out, "\x1b[")
	assert.NotContains(t, out, "logging_test.go")
}

func TestInitDebugLevelAddsSource(t *testing.T) {
	out := initToFile(t, true)

	assert.Contains(t, out, "listing fetched")
	assert.Contains(t, out, "project=A")
	assert.Contains(t, out, "logging_test.go")
}

func TestInitAppendsToExistingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "obsdb.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier run\n"), 0o644))

	closer, err := Init(Options{Path: path})
	require.NoError(t, err)
	slog.Info("second run")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "earlier run\n")
	assert.Contains(t, string(data), "second run")
}

func TestInitFailsOnUnwritablePath(t *testing.T) {
	_, err := Init(Options{Path: filepath.Join(t.TempDir(), "missing", "obsdb.log")})
	require.Error(t, err)
}
