package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidmerge/internal/inspect"
	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/media/mediatest"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

// slowInspector returns a fixed asset after a delay and tracks the highest
// number of concurrent calls.
type slowInspector struct {
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	failFor string
}

func (s *slowInspector) Inspect(_ context.Context, ref mediaref.Reference) (*inspect.Asset, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)

	if ref.Path() == s.failFor {
		return nil, mergeerr.UnreadableSource(ref.String(), errors.New("moov atom not found"))
	}
	return &inspect.Asset{
		Ref:      ref,
		Duration: 2500 * time.Millisecond,
		Tracks:   []inspect.TrackDescriptor{{Kind: inspect.KindVideo, Ticks: 2500, Timescale: 1000}},
	}, nil
}

func refs(t *testing.T, paths ...string) []mediaref.Reference {
	t.Helper()
	out := make([]mediaref.Reference, 0, len(paths))
	for _, p := range paths {
		r, err := mediaref.Sanitize(p)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestExtractor_Extract(t *testing.T) {
	in := &slowInspector{failFor: "/media/corrupt.mp4"}
	rs := refs(t, "/media/a.mp4", "/media/corrupt.mp4")

	got, err := NewExtractor(in).Extract(context.Background(), rs)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Metadata{DurationSeconds: 2, Playable: true}, got[rs[0]])
	assert.Equal(t, Metadata{DurationSeconds: UnknownDuration, Playable: false}, got[rs[1]])
}

func TestExtractor_WorkerLimit(t *testing.T) {
	in := &slowInspector{delay: 20 * time.Millisecond}
	paths := make([]string, 8)
	for i := range paths {
		paths[i] = filepath.Join("/media", string(rune('a'+i))+".mp4")
	}

	got, err := NewExtractor(in, WithWorkers(2)).Extract(context.Background(), refs(t, paths...))
	require.NoError(t, err)
	assert.Len(t, got, 8)
	assert.LessOrEqual(t, in.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, in.peak.Load(), int32(1))
}

func TestExtractor_Options(t *testing.T) {
	e := NewExtractor(nil, WithWorkers(0), WithWorkers(-3), WithLogger(nil))
	assert.Positive(t, e.workers)
	assert.NotNil(t, e.logger)

	assert.Equal(t, 5, NewExtractor(nil, WithWorkers(5)).workers)
}

func TestExtractor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(&slowInspector{}).Extract(ctx, refs(t, "/media/a.mp4"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, mergeerr.KindUnknown, mergeerr.KindOf(err))
}

func TestExtractor_ExtractRaw(t *testing.T) {
	e := NewExtractor(&slowInspector{})

	got, err := e.ExtractRaw(context.Background(), []string{"/media/a.mp4", "file:///media/b.mp4"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["/media/a.mp4"].DurationSeconds)
	assert.True(t, got["file:///media/b.mp4"].Playable)

	_, err = e.ExtractRaw(context.Background(), []string{""})
	assert.ErrorIs(t, err, mergeerr.ErrInvalidInput)
}

func TestExtractor_RealFiles(t *testing.T) {
	mediatest.SkipIfNoFFmpeg(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.mp4")
	corrupt := filepath.Join(dir, "corrupt.mp4")
	mediatest.Video(t, good, mediatest.Clip{Duration: 2.2})
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not a video"), 0600))

	inspector := inspect.NewFallbackInspector(nil,
		inspect.NewBoxInspector(nil),
		inspect.NewProbeInspector(media.NewFFmpeg("", ""), nil),
	)
	got, err := NewExtractor(inspector, WithWorkers(2)).ExtractRaw(context.Background(), []string{good, corrupt})
	require.NoError(t, err)

	assert.Equal(t, Metadata{DurationSeconds: 2, Playable: true}, got[good])
	assert.Equal(t, Metadata{DurationSeconds: UnknownDuration, Playable: false}, got[corrupt])
}
