// Package thumbnail renders a still frame of a video to a JPEG file.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // frames arrive as PNG
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

const (
	DefaultName    = "thumbnail"
	DefaultQuality = 40
	Extension      = ".jpg"
)

var (
	// ErrNegativeTimestamp is returned for a timestamp before the start.
	ErrNegativeTimestamp = errors.New("timestamp must not be negative")
	// ErrInvalidName is returned for a file name containing path separators.
	ErrInvalidName = errors.New("file name must not contain path separators")
)

var _ FrameExtractor = (*media.FFmpeg)(nil)

// FrameExtractor decodes one frame as an encoded image.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, in media.Input, at time.Duration) ([]byte, error)
}

// Request selects the frame and the output file.
type Request struct {
	// Dir is the output directory. Empty uses the generator's cache directory.
	Dir string
	// Name is the file name without extension. Empty uses DefaultName.
	Name             string
	TimestampSeconds float64
}

// Result is a written thumbnail.
type Result struct {
	Output mediaref.Reference
	Width  int
	Height int
	// Hash is the perceptual hash of the written image.
	Hash string
}

// Generator writes thumbnails. It is stateless and safe for concurrent use
// as long as concurrent calls target distinct files.
type Generator struct {
	frames   FrameExtractor
	opener   mediaref.Opener
	cacheDir string
	quality  int
	maxWidth int
	logger   *slog.Logger
}

// Config holds Generator settings.
type Config struct {
	// CacheDir is the default output directory.
	CacheDir string
	// Quality is the JPEG quality, 1-100. Zero uses DefaultQuality.
	Quality int
	// MaxWidth downscales wider frames, keeping the aspect ratio. Zero keeps
	// the frame size.
	MaxWidth int
}

// NewGenerator creates a Generator. A nil opener uses mediaref.FileOpener. An
// empty CacheDir uses a directory under os.UserCacheDir, or os.TempDir when
// there is none.
func NewGenerator(frames FrameExtractor, opener mediaref.Opener, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if opener == nil {
		opener = mediaref.FileOpener{}
	}
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cfg.CacheDir = filepath.Join(base, "vidmerge", "thumbnails")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	return &Generator{
		frames:   frames,
		opener:   opener,
		cacheDir: cfg.CacheDir,
		quality:  cfg.Quality,
		maxWidth: max(cfg.MaxWidth, 0),
		logger:   logger,
	}
}

// Generate writes the frame at req.TimestampSeconds of ref to
// {dir}/{name}.jpg, replacing any existing file.
func (g *Generator) Generate(ctx context.Context, ref mediaref.Reference, req Request) (Result, error) {
	if req.TimestampSeconds < 0 {
		return Result{}, mergeerr.InvalidOptions(fmt.Errorf("%w: %v", ErrNegativeTimestamp, req.TimestampSeconds))
	}
	name := req.Name
	if name == "" {
		name = DefaultName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return Result{}, mergeerr.InvalidOptions(fmt.Errorf("%w: %q", ErrInvalidName, name))
	}
	dir := req.Dir
	if dir == "" {
		dir = g.cacheDir
	}

	f, err := g.opener.Open(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mergeerr.ExportCancelled(ctx.Err())
		}
		return Result{}, mergeerr.UnreadableSource(ref.String(), err)
	}
	defer func() { _ = f.Close() }()

	at := time.Duration(req.TimestampSeconds * float64(time.Second))
	data, err := g.frames.ExtractFrame(ctx, media.FileInput(f), at)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mergeerr.ExportCancelled(ctx.Err())
		}
		return Result{}, mergeerr.UnreadableSource(ref.String(), err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, mergeerr.UnreadableSource(ref.String(), fmt.Errorf("decode frame: %w", err))
	}
	if g.maxWidth > 0 && img.Bounds().Dx() > g.maxWidth {
		img = resize.Resize(uint(g.maxWidth), 0, img, resize.Lanczos3) // #nosec G115 - maxWidth is positive
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Result{}, mergeerr.ExportFailed(fmt.Errorf("hash frame: %w", err))
	}

	path := filepath.Join(dir, name+Extension)
	if err := g.write(dir, path, img); err != nil {
		return Result{}, mergeerr.ExportFailed(err)
	}

	out, err := mediaref.Sanitize(path)
	if err != nil {
		return Result{}, err
	}

	b := img.Bounds()
	g.logger.Debug("thumbnail written",
		slog.String("source", ref.String()),
		slog.String("output", path),
		slog.Float64("timestamp", req.TimestampSeconds),
	)
	return Result{Output: out, Width: b.Dx(), Height: b.Dy(), Hash: hash.ToString()}, nil
}

// write encodes img next to path and renames it into place.
func (g *Generator) write(dir, path string, img image.Image) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create thumbnail directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".thumbnail-*")
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: g.quality}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close thumbnail: %w", err)
	}
	// #nosec G302 - thumbnails are served to other processes
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("set thumbnail mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move thumbnail into place: %w", err)
	}
	return nil
}
