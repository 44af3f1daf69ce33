package tablestoreconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsZeroValueOverlay(t *testing.T) {
	overlay, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	count, bytes, every := overlay.Thresholds()
	require.Zero(t, count)
	require.Zero(t, bytes)
	require.Zero(t, every)
}

func TestLoadParsesStringAndIntegerDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batcher:
  flush_at_count: 50
  flush_at_bytes: 1048576
  flush_every: 30s
`), 0o644))

	overlay, err := Load(path)
	require.NoError(t, err)
	count, bytes, every := overlay.Thresholds()
	require.Equal(t, 50, count)
	require.Equal(t, 1048576, bytes)
	require.Equal(t, 30*time.Second, every)
}

func TestLoadAcceptsBareIntegerNanosecondDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batcher:
  flush_every: 5000000000
`), 0o644))

	overlay, err := Load(path)
	require.NoError(t, err)
	_, _, every := overlay.Thresholds()
	require.Equal(t, 5*time.Second, every)
}

func TestLoadRejectsInvalidDurationString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batcher:
  flush_every: "not-a-duration"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestNilOverlayThresholdsAreZero(t *testing.T) {
	var overlay *BatcherOverlay
	count, bytes, every := overlay.Thresholds()
	require.Zero(t, count)
	require.Zero(t, bytes)
	require.Zero(t, every)
}
