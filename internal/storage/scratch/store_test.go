package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-voice/backend/internal/metrics"
)

func TestSaveAndRemove(t *testing.T) {
	m := metrics.NewMetrics()
	store, err := New(t.TempDir(), m)
	require.NoError(t, err)

	f, err := store.Save(strings.NewReader("RIFF....WAVE"), ".wav")
	require.NoError(t, err)
	assert.Equal(t, int64(12), f.Size)
	assert.Equal(t, ".wav", filepath.Ext(f.Path))
	assert.FileExists(t, f.Path)

	f.Remove()
	assert.NoFileExists(t, f.Path)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScratchFilesRemovedTotal))

	// A second remove is a no-op.
	f.Remove()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScratchFilesRemovedTotal))
}

func TestSaveUsesUniqueNames(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := store.Save(strings.NewReader("a"), "wav")
	require.NoError(t, err)
	b, err := store.Save(strings.NewReader("b"), "wav")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, strings.HasSuffix(a.Path, ".wav"))
}

func TestCreateDumpFile(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	f, err := store.Create("streamed", ".pcm")
	require.NoError(t, err)
	defer f.Close()

	name := filepath.Base(f.Name())
	assert.True(t, strings.HasPrefix(name, "streamed_"))
	assert.True(t, strings.HasSuffix(name, ".pcm"))
}

func TestSweepRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	stale := filepath.Join(dir, "old.wav")
	fresh := filepath.Join(dir, "new.wav")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	assert.Equal(t, 1, store.Sweep(time.Hour))
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestStartJanitorValidatesSchedule(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.StartJanitor("not a schedule", time.Hour)
	assert.Error(t, err)

	_, err = store.StartJanitor("@every 1m", 0)
	assert.Error(t, err)

	stop, err := store.StartJanitor("@every 1m", time.Hour)
	require.NoError(t, err)
	stop()
}
