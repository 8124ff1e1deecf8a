package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDirMissing(t *testing.T) {
	recs, err := ScanDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestScanDirNewestFirst(t *testing.T) {
	dir := t.TempDir()
	files := map[string]int{
		"recording_20240101_080000.mp4":   1 << 20,
		"recording_20240102_080000.mp4":   3 << 19,
		"recording_20240102_080000_1.mp4": 0,
		"notes.txt":                       10,
	}
	for name, size := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0755))

	recs, err := ScanDir(dir)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "recording_20240102_080000_1.mp4", recs[0].Name)
	assert.Equal(t, "recording_20240102_080000.mp4", recs[1].Name)
	assert.Equal(t, "recording_20240101_080000.mp4", recs[2].Name)

	assert.Equal(t, 1.5, recs[1].SizeMB)
	assert.Equal(t, 1.0, recs[2].SizeMB)
	assert.Equal(t, int64(0), recs[0].Size)
	assert.False(t, recs[0].Created.IsZero())
}

func TestRoundMB(t *testing.T) {
	assert.Equal(t, 0.0, roundMB(0))
	assert.Equal(t, 0.01, roundMB(10*1024))
	assert.Equal(t, 2.5, roundMB(5<<19))
}

func TestListCached(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.dir, 0755))

	recs, err := f.rec.List()
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Without a watcher the stale listing is served until invalidated.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "recording_20240101_000000.mp4"), nil, 0644))
	recs, _ = f.rec.List()
	assert.Empty(t, recs)

	f.rec.invalidate()
	recs, _ = f.rec.List()
	assert.Len(t, recs, 1)
}
