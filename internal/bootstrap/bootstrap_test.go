package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidmerge/internal/config"
	"github.com/maauso/vidmerge/internal/export"
	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	base := map[string]string{
		"TEMP_DIR":      filepath.Join(dir, "temp"),
		"OUTPUT_DIR":    filepath.Join(dir, "out"),
		"THUMBNAIL_DIR": filepath.Join(dir, "thumbs"),
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)
	return cfg
}

func TestNewDependencies_Defaults(t *testing.T) {
	cfg := testConfig(t, nil)

	deps, err := NewDependencies(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	assert.NotNil(t, deps.Merges)
	assert.NotNil(t, deps.Metadata)
	assert.NotNil(t, deps.Thumbnails)

	recs, err := deps.Merges.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNewDependencies_SQLiteHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state", "history.db")
	cfg := testConfig(t, map[string]string{"HISTORY_DB": db})

	deps, err := NewDependencies(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, deps.Close(context.Background()))

	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestNewDependencies_S3(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"S3_BUCKET":             "bucket",
		"S3_REGION":             "us-east-1",
		"S3_ENDPOINT":           "http://localhost:4566",
		"AWS_ACCESS_KEY_ID":     "key",
		"AWS_SECRET_ACCESS_KEY": "secret",
	})

	deps, err := NewDependencies(cfg, testLogger())
	require.NoError(t, err)
	assert.NoError(t, deps.Close(context.Background()))
}

func TestNewDependencies_SweepsStaleTemp(t *testing.T) {
	cfg := testConfig(t, nil)
	store, err := storage.NewLocalStorage(cfg.TempDir)
	require.NoError(t, err)
	stale, err := store.SaveTemp(context.Background(), "concat.txt", strings.NewReader("file '/a.mp4'\n"))
	require.NoError(t, err)
	old := time.Now().Add(-2 * staleTempAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	deps, err := NewDependencies(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestNewBackend(t *testing.T) {
	ff := media.NewFFmpeg("", "")
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{export.BackendComposition, export.BackendMux, export.BackendProcess} {
		t.Run(name, func(t *testing.T) {
			b, err := newBackend(&config.Config{MergeBackend: name, ProgressInterval: time.Second}, ff, store, testLogger())
			require.NoError(t, err)
			assert.Equal(t, name, b.Name())
		})
	}

	_, err = newBackend(&config.Config{MergeBackend: "grid", ProgressInterval: time.Second}, ff, store, testLogger())
	assert.Error(t, err)
}

func TestDependencies_CloseJoinsErrors(t *testing.T) {
	d := &Dependencies{closers: []func(context.Context) error{
		func(context.Context) error { return nil },
		func(context.Context) error { return io.ErrClosedPipe },
	}}
	assert.ErrorIs(t, d.Close(context.Background()), io.ErrClosedPipe)
}
