package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/media/mediatest"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

type mockFrames struct {
	mock.Mock
}

func (m *mockFrames) ExtractFrame(ctx context.Context, in media.Input, at time.Duration) ([]byte, error) {
	args := m.Called(ctx, in, at)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func ref(t *testing.T, p string) mediaref.Reference {
	t.Helper()
	r, err := mediaref.Sanitize(p)
	require.NoError(t, err)
	return r
}

// source writes a placeholder input file; frames are served by mockFrames.
func source(t *testing.T) mediaref.Reference {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(p, []byte("mp4"), 0600))
	return ref(t, p)
}

func openedFrom(path string) any {
	return mock.MatchedBy(func(in media.Input) bool {
		return in.File != nil && in.File.Name() == path
	})
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestGenerator_Defaults(t *testing.T) {
	cache := t.TempDir()
	src := source(t)
	frames := new(mockFrames)
	frames.On("ExtractFrame", mock.Anything, openedFrom(src.Path()), time.Duration(0)).
		Return(pngFrame(t, 64, 48), nil)

	g := NewGenerator(frames, nil, Config{CacheDir: cache}, nil)
	assert.Equal(t, DefaultQuality, g.quality)

	res, err := g.Generate(context.Background(), src, Request{})
	require.NoError(t, err)
	frames.AssertExpectations(t)

	want := filepath.Join(cache, "thumbnail.jpg")
	assert.Equal(t, want, res.Output.Path())
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 48, res.Height)
	assert.True(t, strings.HasPrefix(res.Hash, "p:"), res.Hash)

	img := decodeJPEG(t, want)
	assert.Equal(t, 64, img.Bounds().Dx())

	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestGenerator_NameTimestampAndResize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "thumbs")
	frames := new(mockFrames)
	frames.On("ExtractFrame", mock.Anything, mock.Anything, 1500*time.Millisecond).
		Return(pngFrame(t, 200, 100), nil)

	g := NewGenerator(frames, nil, Config{CacheDir: t.TempDir(), Quality: 90, MaxWidth: 50}, nil)
	res, err := g.Generate(context.Background(), source(t),
		Request{Dir: dir, Name: "cover", TimestampSeconds: 1.5})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cover.jpg"), res.Output.Path())
	assert.Equal(t, 50, res.Width)
	assert.Equal(t, 25, res.Height)

	img := decodeJPEG(t, res.Output.Path())
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestGenerator_Overwrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thumbnail.jpg"), []byte("old"), 0600))

	frames := new(mockFrames)
	frames.On("ExtractFrame", mock.Anything, mock.Anything, mock.Anything).Return(pngFrame(t, 8, 8), nil)

	_, err := NewGenerator(frames, nil, Config{}, nil).Generate(context.Background(), source(t), Request{Dir: dir})
	require.NoError(t, err)
	decodeJPEG(t, filepath.Join(dir, "thumbnail.jpg"))

	info, err := os.Stat(filepath.Join(dir, "thumbnail.jpg"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestGenerator_UsesOpener(t *testing.T) {
	backing := source(t)
	remote := ref(t, "content://media/external/video/7")

	var opened []string
	opener := mediaref.OpenerFunc(func(_ context.Context, r mediaref.Reference) (*os.File, error) {
		opened = append(opened, r.String())
		return os.Open(backing.Path())
	})

	frames := new(mockFrames)
	frames.On("ExtractFrame", mock.Anything, openedFrom(backing.Path()), time.Duration(0)).
		Return(pngFrame(t, 8, 8), nil)

	res, err := NewGenerator(frames, opener, Config{}, nil).Generate(context.Background(), remote, Request{Dir: t.TempDir()})
	require.NoError(t, err)
	frames.AssertExpectations(t)
	assert.Equal(t, []string{remote.String()}, opened)
	assert.Equal(t, 8, res.Width)
}

func TestGenerator_Failures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	tests := []struct {
		name    string
		frame   []byte
		err     error
		req     Request
		want    error
		called  bool
		missing bool
	}{
		{name: "negative timestamp", req: Request{TimestampSeconds: -1}, want: ErrNegativeTimestamp},
		{name: "separator in name", req: Request{Name: "a/b"}, want: mergeerr.ErrInvalidOptions},
		{name: "dot name", req: Request{Name: ".."}, want: ErrInvalidName},
		{name: "source cannot be opened", missing: true, want: mergeerr.ErrUnreadableSource},
		{name: "extraction fails", err: errors.New("no stream"), want: mergeerr.ErrUnreadableSource, called: true},
		{name: "undecodable frame", frame: []byte("garbage"), want: mergeerr.ErrUnreadableSource, called: true},
		{name: "unwritable directory", frame: pngFrame(t, 4, 4), req: Request{Dir: filepath.Join(blocker, "sub")}, want: mergeerr.ErrExportFailed, called: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := new(mockFrames)
			frames.On("ExtractFrame", mock.Anything, mock.Anything, mock.Anything).Return(tt.frame, tt.err)

			req := tt.req
			if req.Dir == "" {
				req.Dir = dir
			}
			src := source(t)
			if tt.missing {
				src = ref(t, filepath.Join(dir, "missing.mp4"))
			}
			_, err := NewGenerator(frames, nil, Config{}, nil).Generate(context.Background(), src, req)
			assert.ErrorIs(t, err, tt.want)
			if !tt.called {
				frames.AssertNotCalled(t, "ExtractFrame", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frames := new(mockFrames)
	frames.On("ExtractFrame", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err := NewGenerator(frames, nil, Config{}, nil).Generate(ctx, source(t), Request{Dir: t.TempDir()})
	assert.ErrorIs(t, err, mergeerr.ErrExportCancelled)
}

func TestGenerator_RealVideo(t *testing.T) {
	mediatest.SkipIfNoFFmpeg(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	mediatest.Video(t, src, mediatest.Clip{Duration: 1, Color: "green", Width: 96, Height: 64})

	g := NewGenerator(media.NewFFmpeg("", ""), nil, Config{CacheDir: dir}, nil)
	res, err := g.Generate(context.Background(), ref(t, src), Request{Name: "still"})
	require.NoError(t, err)

	img := decodeJPEG(t, filepath.Join(dir, "still.jpg"))
	assert.Equal(t, 96, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
	assert.NotEmpty(t, res.Hash)

	_, err = g.Generate(context.Background(), ref(t, filepath.Join(dir, "missing.mp4")), Request{})
	assert.ErrorIs(t, err, mergeerr.ErrUnreadableSource)
}
