package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/timeline"
)

// ErrNoRenderSize is returned when the composition has no usable render size.
var ErrNoRenderSize = errors.New("composition has no render size")

// Segment is one input of a Composition.
type Segment struct {
	Source   mediaref.Reference
	Offset   time.Duration
	Duration time.Duration
}

// Composition is a timeline translated into what a Session renders.
type Composition struct {
	Segments     []Segment
	IncludeAudio bool
	RenderWidth  int
	RenderHeight int
	// Rotation is the clockwise rotation applied to the merged video.
	Rotation float64
	Duration time.Duration
	Output   string
}

// Session renders a Composition asynchronously. Start returns at once; the
// returned Job reaches a terminal state when rendering ends.
type Session interface {
	Start(ctx context.Context, c Composition) *Job
}

// CompositionBackend re-encodes the timeline through a Session.
type CompositionBackend struct {
	session Session
	poller  *Poller
	logger  *slog.Logger
}

// NewCompositionBackend creates a CompositionBackend.
func NewCompositionBackend(session Session, poller *Poller, logger *slog.Logger) *CompositionBackend {
	if poller == nil {
		poller = NewPoller(DefaultPollInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompositionBackend{session: session, poller: poller, logger: logger}
}

// Name implements Backend.
func (b *CompositionBackend) Name() string {
	return BackendComposition
}

// Export implements Backend. An existing file at the output path is removed first.
func (b *CompositionBackend) Export(ctx context.Context, req Request) (Result, error) {
	comp := NewComposition(req.Timeline, req.Options.OutputPath())

	if err := os.Remove(comp.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, mergeerr.ExportFailed(fmt.Errorf("remove existing output: %w", err))
	}

	b.logger.Info("starting composition export",
		slog.String("key", req.Key),
		slog.Int("segments", len(comp.Segments)),
		slog.String("output", comp.Output),
		slog.Float64("rotation", comp.Rotation),
	)

	job := b.session.Start(ctx, comp)
	stop := b.poller.Watch(job, req.Key, req.Progress)
	<-job.Done()
	stop()

	switch job.Status() {
	case StatusCompleted:
		b.logger.Info("composition export completed",
			slog.String("key", req.Key),
			slog.Duration("elapsed", job.Elapsed()),
		)
		return Result{Output: comp.Output, Duration: comp.Duration}, nil
	case StatusCancelled:
		return Result{}, mergeerr.ExportCancelled(job.Err())
	default:
		return Result{}, mergeerr.ExportFailed(job.Err())
	}
}

// NewComposition translates tl into a Composition writing to output.
func NewComposition(tl *timeline.Timeline, output string) Composition {
	c := Composition{
		IncludeAudio: tl.IncludeAudio,
		RenderWidth:  tl.RenderWidth,
		RenderHeight: tl.RenderHeight,
		Rotation:     tl.RotationDegrees(),
		Duration:     tl.TotalDuration,
		Output:       output,
	}
	for _, s := range tl.Video {
		c.Segments = append(c.Segments, Segment{Source: s.Source, Offset: s.Offset, Duration: s.Duration})
	}
	return c
}
