// Package metadata reports duration and playability for a batch of inputs.
package metadata

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/vidmerge/internal/inspect"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

// UnknownDuration is reported for inputs that could not be inspected.
const UnknownDuration int64 = -1

// Metadata describes one input.
type Metadata struct {
	// DurationSeconds is the container duration in whole seconds, or
	// UnknownDuration.
	DurationSeconds int64 `json:"duration"`
	// Playable is true when the input was readable and has a video track.
	Playable bool `json:"playable"`
}

// Extractor inspects inputs in parallel. It holds no per-call state and is
// safe for concurrent use.
type Extractor struct {
	inspector inspect.Inspector
	workers   int
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers bounds the number of inputs inspected at once within one call.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger used for per-input failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an Extractor. The default worker limit is GOMAXPROCS.
func NewExtractor(inspector inspect.Inspector, opts ...Option) *Extractor {
	e := &Extractor{
		inspector: inspector,
		workers:   runtime.GOMAXPROCS(0),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract inspects every reference. A failing input never fails the batch;
// it is reported with UnknownDuration and Playable false. The only error is
// cancellation of ctx, reported as KindUnknown.
func (e *Extractor) Extract(ctx context.Context, refs []mediaref.Reference) (map[mediaref.Reference]Metadata, error) {
	results := make([]Metadata, len(refs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = e.one(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, mergeerr.Wrap(err)
	}

	out := make(map[mediaref.Reference]Metadata, len(refs))
	for i, ref := range refs {
		out[ref] = results[i]
	}
	return out, nil
}

// ExtractRaw sanitizes raw and extracts metadata keyed by the raw strings.
// A malformed reference fails the whole call with KindInvalidInput.
func (e *Extractor) ExtractRaw(ctx context.Context, raw []string) (map[string]Metadata, error) {
	refs, err := mediaref.SanitizeAll(raw)
	if err != nil {
		return nil, err
	}
	byRef, err := e.Extract(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Metadata, len(raw))
	for i, r := range raw {
		out[r] = byRef[refs[i]]
	}
	return out, nil
}

func (e *Extractor) one(ctx context.Context, ref mediaref.Reference) Metadata {
	if ctx.Err() != nil {
		return Metadata{DurationSeconds: UnknownDuration}
	}

	asset, err := e.inspector.Inspect(ctx, ref)
	if err != nil {
		e.logger.Debug("metadata unavailable",
			slog.String("reference", ref.String()),
			slog.String("error", err.Error()),
		)
		return Metadata{DurationSeconds: UnknownDuration}
	}

	video, hasVideo := asset.Video()
	d := asset.Duration
	if d == 0 && hasVideo {
		d = video.Duration()
	}
	return Metadata{
		DurationSeconds: int64(d / time.Second),
		Playable:        hasVideo,
	}
}
