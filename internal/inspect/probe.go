package inspect

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

var _ Prober = (*media.FFmpeg)(nil)

// Prober runs ffprobe against an input.
type Prober interface {
	Probe(ctx context.Context, in media.Input) (*media.ProbeResult, error)
}

// microTimescale is used when ffprobe reports a duration but no time base.
const microTimescale = 1_000_000

// ProbeInspector reads track layout through ffprobe. It handles any container
// ffprobe understands, not just ISO-BMFF.
type ProbeInspector struct {
	prober Prober
	opener mediaref.Opener
}

// NewProbeInspector creates a ProbeInspector. A nil opener uses mediaref.FileOpener.
func NewProbeInspector(prober Prober, opener mediaref.Opener) *ProbeInspector {
	if opener == nil {
		opener = mediaref.FileOpener{}
	}
	return &ProbeInspector{prober: prober, opener: opener}
}

// Inspect implements Inspector.
func (i *ProbeInspector) Inspect(ctx context.Context, ref mediaref.Reference) (*Asset, error) {
	f, err := i.opener.Open(ctx, ref)
	if err != nil {
		return nil, mergeerr.UnreadableSource(ref.String(), err)
	}
	defer func() { _ = f.Close() }()

	result, err := i.prober.Probe(ctx, media.FileInput(f))
	if err != nil {
		return nil, mergeerr.UnreadableSource(ref.String(), err)
	}

	asset := &Asset{
		Ref:      ref,
		Duration: secondsToDuration(result.DurationSeconds()),
	}
	for _, s := range result.Streams {
		var kind Kind
		switch s.CodecType {
		case "video":
			kind = KindVideo
		case "audio":
			kind = KindAudio
		default:
			continue
		}

		d := TrackDescriptor{
			Kind:      kind,
			TrackID:   trackID(s),
			Ticks:     uint64(max(s.DurationTS, 0)),
			Timescale: s.Timescale(),
			Language:  s.Language(),
			Codec:     s.CodecName,
		}
		if d.Timescale == 0 || d.Ticks == 0 {
			secs := s.DurationSeconds()
			if secs == 0 {
				secs = result.DurationSeconds()
			}
			d.Timescale = microTimescale
			d.Ticks = uint64(math.Round(secs * microTimescale))
		}
		if kind == KindVideo {
			// ffprobe reports counter-clockwise rotation.
			d.Geometry = &Geometry{
				Width:     s.Width,
				Height:    s.Height,
				Transform: RotationTransform(-s.Rotation(), s.Width, s.Height),
			}
		}
		asset.Tracks = append(asset.Tracks, d)
	}
	return asset, nil
}

func trackID(s media.Stream) int {
	if id, err := strconv.ParseInt(s.ID, 0, 64); err == nil && id > 0 {
		return int(id)
	}
	return s.Index + 1
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// ErrNoInspectors is returned by a FallbackInspector with nothing to try.
var ErrNoInspectors = errors.New("no inspector configured")

// FallbackInspector tries each inspector in order and returns the first success.
type FallbackInspector struct {
	inspectors []Inspector
	logger     *slog.Logger
}

// NewFallbackInspector creates a FallbackInspector.
func NewFallbackInspector(logger *slog.Logger, inspectors ...Inspector) *FallbackInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackInspector{inspectors: inspectors, logger: logger}
}

// Inspect implements Inspector. When every inspector fails the last error is returned.
func (i *FallbackInspector) Inspect(ctx context.Context, ref mediaref.Reference) (*Asset, error) {
	lastErr := mergeerr.UnreadableSource(ref.String(), ErrNoInspectors)
	for n, in := range i.inspectors {
		asset, err := in.Inspect(ctx, ref)
		if err == nil {
			return asset, nil
		}
		i.logger.Debug("inspector failed",
			slog.String("reference", ref.String()),
			slog.Int("inspector", n),
			slog.String("error", err.Error()),
		)
		lastErr = mergeerr.Wrap(err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
