// Package timeline plans the merged output: where each input's tracks land,
// the total duration, the output orientation and the render size.
package timeline

import (
	"errors"
	"time"

	"github.com/maauso/vidmerge/internal/inspect"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

// ErrNoInputs is returned when Build is given no assets.
var ErrNoInputs = errors.New("no inputs to merge")

// Segment places one source track on the output timeline.
type Segment struct {
	// Input is the position of the source in caller order.
	Input  int
	Source mediaref.Reference
	Track  inspect.TrackDescriptor
	// Offset is the insertion point on the output timeline.
	Offset   time.Duration
	Duration time.Duration
}

// End returns Offset + Duration.
func (s Segment) End() time.Duration {
	return s.Offset + s.Duration
}

// Timeline is the merge plan.
type Timeline struct {
	Video        []Segment
	Audio        []Segment
	IncludeAudio bool
	// TotalDuration is the sum of the video segment durations.
	TotalDuration time.Duration
	// Transform is applied to the whole merged video track.
	Transform    inspect.Transform
	RenderWidth  int
	RenderHeight int
}

// Build lays out assets in order: each video track starts where the previous
// one ended, and likewise for audio when includeAudio is set. The transform of
// the last input whose video transform has a non-zero linear component wins.
// The render size is the first input's natural size rounded down to even.
func Build(assets []*inspect.Asset, includeAudio bool) (*Timeline, error) {
	if len(assets) == 0 {
		return nil, mergeerr.InvalidOptions(ErrNoInputs)
	}

	tl := &Timeline{
		IncludeAudio: includeAudio,
		Transform:    inspect.Identity,
	}

	var videoAt, audioAt time.Duration
	for i, asset := range assets {
		if err := asset.Require(includeAudio); err != nil {
			return nil, err
		}

		video, _ := asset.Video()
		seg := Segment{Input: i, Source: asset.Ref, Track: video, Offset: videoAt, Duration: video.Duration()}
		tl.Video = append(tl.Video, seg)
		videoAt = seg.End()

		if g := video.Geometry; g != nil {
			if g.Transform.HasLinearComponent() {
				tl.Transform = g.Transform
			}
			if i == 0 {
				tl.RenderWidth = g.Width &^ 1
				tl.RenderHeight = g.Height &^ 1
			}
		}

		if includeAudio {
			audio, _ := asset.Audio()
			seg := Segment{Input: i, Source: asset.Ref, Track: audio, Offset: audioAt, Duration: audio.Duration()}
			tl.Audio = append(tl.Audio, seg)
			audioAt = seg.End()
		}
	}

	tl.TotalDuration = videoAt
	return tl, nil
}

// Sources returns the source of every video segment in timeline order. An input
// listed more than once appears once per occurrence.
func (t *Timeline) Sources() []mediaref.Reference {
	out := make([]mediaref.Reference, 0, len(t.Video))
	for _, s := range t.Video {
		out = append(out, s.Source)
	}
	return out
}

// RotationDegrees returns the clockwise rotation of the output transform.
func (t *Timeline) RotationDegrees() float64 {
	return t.Transform.RotationDegrees()
}
