package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/mp4mux"
)

// MuxBackend appends the sample tables of every input at the box level and
// writes a new MP4 without re-encoding. It emits no progress events.
type MuxBackend struct {
	opener mediaref.Opener
	logger *slog.Logger
}

// NewMuxBackend creates a MuxBackend. A nil opener uses mediaref.FileOpener.
func NewMuxBackend(opener mediaref.Opener, logger *slog.Logger) *MuxBackend {
	if opener == nil {
		opener = mediaref.FileOpener{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MuxBackend{opener: opener, logger: logger}
}

// Name implements Backend.
func (b *MuxBackend) Name() string {
	return BackendMux
}

// Export implements Backend. Every video track of every input is appended in
// input order, and likewise every audio track when audio is included.
func (b *MuxBackend) Export(ctx context.Context, req Request) (Result, error) {
	refs := req.Timeline.Sources()
	files := make([]*os.File, 0, len(refs))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	var videos, audios []*mp4mux.Track
	sources := make([]io.ReaderAt, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return Result{}, mergeerr.ExportCancelled(err)
		}

		f, err := b.opener.Open(ctx, ref)
		if err != nil {
			return Result{}, mergeerr.ContainerBuildFailed(fmt.Errorf("open %s: %w", ref, err))
		}
		files = append(files, f)
		sources = append(sources, f)

		movie, err := mp4mux.ReadMovie(f, i)
		if err != nil {
			return Result{}, mergeerr.ContainerBuildFailed(fmt.Errorf("read %s: %w", ref, err))
		}
		videos = append(videos, movie.TracksOf(mp4mux.HandlerVideo)...)
		if req.Timeline.IncludeAudio {
			audios = append(audios, movie.TracksOf(mp4mux.HandlerAudio)...)
		}
	}

	video, err := mp4mux.Append(videos...)
	if err != nil {
		return Result{}, mergeerr.ContainerBuildFailed(fmt.Errorf("append video tracks: %w", err))
	}
	video.Matrix = req.Timeline.Transform.Matrix()
	tracks := []*mp4mux.Track{video}

	if len(audios) > 0 {
		audio, err := mp4mux.Append(audios...)
		if err != nil {
			return Result{}, mergeerr.ContainerBuildFailed(fmt.Errorf("append audio tracks: %w", err))
		}
		tracks = append(tracks, audio)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, mergeerr.ExportCancelled(err)
	}

	output := req.Options.OutputPath()
	if err := writeMovie(output, tracks, sources); err != nil {
		return Result{}, mergeerr.ContainerBuildFailed(err)
	}

	b.logger.Info("mux export completed",
		slog.String("key", req.Key),
		slog.Int("video_tracks", len(videos)),
		slog.Int("audio_tracks", len(audios)),
		slog.String("output", output),
	)
	return Result{Output: output, Duration: video.Duration()}, nil
}

func writeMovie(path string, tracks []*mp4mux.Track, sources []io.ReaderAt) error {
	out, err := os.Create(path) // #nosec G304 - path is built from resolved options
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := mp4mux.Write(out, tracks, sources); err != nil {
		_ = out.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
