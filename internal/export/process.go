package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

var _ Concatenator = (*media.FFmpeg)(nil)

// Concatenator writes a concat manifest and runs the concat demuxer over it.
type Concatenator interface {
	WriteConcatList(w io.Writer, paths []string) error
	ConcatCopy(ctx context.Context, manifest, output string, onProgress func(media.Progress)) (media.Report, error)
}

// TempStore holds the transient manifest file.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// ProcessBackend concatenates the inputs by invoking ffmpeg's concat demuxer
// with stream copy.
type ProcessBackend struct {
	ffmpeg Concatenator
	temp   TempStore
	poller *Poller
	logger *slog.Logger
}

// NewProcessBackend creates a ProcessBackend.
func NewProcessBackend(ffmpeg Concatenator, temp TempStore, poller *Poller, logger *slog.Logger) *ProcessBackend {
	if poller == nil {
		poller = NewPoller(DefaultPollInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessBackend{ffmpeg: ffmpeg, temp: temp, poller: poller, logger: logger}
}

// Name implements Backend.
func (b *ProcessBackend) Name() string {
	return BackendProcess
}

// Export implements Backend. The manifest is removed on every path. The
// result duration is the last out_time ffmpeg reported, or 0.
func (b *ProcessBackend) Export(ctx context.Context, req Request) (Result, error) {
	refs := req.Timeline.Sources()
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !ref.IsFile() {
			return Result{}, mergeerr.ExportFailed(fmt.Errorf("%w: %s", mediaref.ErrNotLocal, ref))
		}
		paths = append(paths, ref.Path())
	}

	var buf bytes.Buffer
	if err := b.ffmpeg.WriteConcatList(&buf, paths); err != nil {
		return Result{}, mergeerr.ExportFailed(fmt.Errorf("build manifest: %w", err))
	}
	manifest, err := b.temp.SaveTemp(ctx, "concat.txt", &buf)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mergeerr.ExportCancelled(ctx.Err())
		}
		return Result{}, mergeerr.ExportFailed(fmt.Errorf("save manifest: %w", err))
	}
	defer func() {
		if err := b.temp.CleanupTemp(context.WithoutCancel(ctx), []string{manifest}); err != nil {
			b.logger.Warn("failed to remove concat manifest",
				slog.String("manifest", manifest),
				slog.String("error", err.Error()),
			)
		}
	}()

	output := req.Options.OutputPath()
	total := req.Timeline.TotalDuration

	job := NewJob()
	_ = job.Start()
	stop := b.poller.Watch(job, req.Key, req.Progress)
	defer stop()

	report, err := b.ffmpeg.ConcatCopy(ctx, manifest, output, func(p media.Progress) {
		if total > 0 {
			job.UpdateProgress(float64(p.OutTime) / float64(total))
		}
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			_ = job.Cancel(err)
			return Result{}, mergeerr.ExportCancelled(err)
		}
		_ = job.Fail(err)
		return Result{}, mergeerr.ExportFailed(err)
	}
	_ = job.Complete()

	b.logger.Info("process export completed",
		slog.String("key", req.Key),
		slog.String("output", output),
		slog.Duration("out_time", report.OutTime),
	)
	return Result{Output: output, Duration: report.OutTime}, nil
}
