package inspect

import (
	"context"
	"fmt"

	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/mp4mux"
)

// BoxInspector reads track headers directly from the moov box.
type BoxInspector struct {
	opener mediaref.Opener
}

// NewBoxInspector creates a BoxInspector. A nil opener uses mediaref.FileOpener.
func NewBoxInspector(opener mediaref.Opener) *BoxInspector {
	if opener == nil {
		opener = mediaref.FileOpener{}
	}
	return &BoxInspector{opener: opener}
}

// Inspect implements Inspector.
func (i *BoxInspector) Inspect(ctx context.Context, ref mediaref.Reference) (*Asset, error) {
	f, err := i.opener.Open(ctx, ref)
	if err != nil {
		return nil, mergeerr.UnreadableSource(ref.String(), err)
	}
	defer func() { _ = f.Close() }()

	movie, err := mp4mux.Probe(f)
	if err != nil {
		return nil, mergeerr.UnreadableSource(ref.String(), fmt.Errorf("parse container: %w", err))
	}

	asset := &Asset{Ref: ref}
	for _, t := range movie.Tracks {
		d := TrackDescriptor{
			TrackID:   int(t.TrackID),
			Ticks:     t.MediaDuration,
			Timescale: t.Timescale,
			Language:  t.Language,
			Codec:     t.Codec(),
		}
		switch t.Handler {
		case mp4mux.HandlerVideo:
			d.Kind = KindVideo
			w, h := t.NaturalSize()
			d.Geometry = &Geometry{Width: w, Height: h, Transform: TransformFromMatrix(t.Matrix)}
		case mp4mux.HandlerAudio:
			d.Kind = KindAudio
		default:
			continue
		}
		asset.Tracks = append(asset.Tracks, d)
	}

	if movie.Timescale > 0 {
		asset.Duration = TrackDescriptor{Ticks: movie.Duration, Timescale: movie.Timescale}.Duration()
	}
	if asset.Duration == 0 {
		for _, t := range asset.Tracks {
			asset.Duration = max(asset.Duration, t.Duration())
		}
	}
	return asset, nil
}
