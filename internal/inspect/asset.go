// Package inspect reads the track layout of media inputs: kind, duration,
// natural size, orientation and language of every video and audio track.
package inspect

import (
	"context"
	"math"
	"time"

	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

// Kind is the media type of a track.
type Kind string

// Track kinds.
const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Inspector loads the track layout of one input.
type Inspector interface {
	// Inspect opens ref and returns its tracks. Open and parse failures are
	// *mergeerr.Error with KindUnreadableSource.
	Inspect(ctx context.Context, ref mediaref.Reference) (*Asset, error)
}

// Transform is a 2D affine orientation transform in the
// [a b 0; c d 0; tx ty 1] convention used by ISO-BMFF track headers.
type Transform struct {
	A, B, C, D float64
	Tx, Ty     float64
}

// Identity is the no-op transform.
var Identity = Transform{A: 1, D: 1}

// HasLinearComponent reports whether any of a, b, c, d is non-zero.
func (t Transform) HasLinearComponent() bool {
	return t.A != 0 || t.B != 0 || t.C != 0 || t.D != 0
}

// RotationDegrees returns the clockwise display rotation in [0, 360).
func (t Transform) RotationDegrees() float64 {
	deg := math.Atan2(t.B, t.A) * 180 / math.Pi
	deg = math.Round(deg*1000) / 1000
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// RotationTransform returns the track header transform that rotates a
// width x height frame clockwise by deg degrees. Right angles include the
// translation that keeps the frame in the positive quadrant.
func RotationTransform(deg float64, width, height int) Transform {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	w, h := float64(width), float64(height)
	switch deg {
	case 0:
		return Identity
	case 90:
		return Transform{A: 0, B: 1, C: -1, D: 0, Tx: h}
	case 180:
		return Transform{A: -1, B: 0, C: 0, D: -1, Tx: w, Ty: h}
	case 270:
		return Transform{A: 0, B: -1, C: 1, D: 0, Ty: w}
	}
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return Transform{A: cos, B: sin, C: -sin, D: cos}
}

const (
	fixed16 = 1 << 16
	fixed30 = 1 << 30
)

// TransformFromMatrix decodes a tkhd matrix (16.16 fixed point).
func TransformFromMatrix(m [9]int32) Transform {
	return Transform{
		A:  float64(m[0]) / fixed16,
		B:  float64(m[1]) / fixed16,
		C:  float64(m[3]) / fixed16,
		D:  float64(m[4]) / fixed16,
		Tx: float64(m[6]) / fixed16,
		Ty: float64(m[7]) / fixed16,
	}
}

// Matrix encodes t as a tkhd matrix.
func (t Transform) Matrix() [9]int32 {
	return [9]int32{
		toFixed(t.A, fixed16), toFixed(t.B, fixed16), 0,
		toFixed(t.C, fixed16), toFixed(t.D, fixed16), 0,
		toFixed(t.Tx, fixed16), toFixed(t.Ty, fixed16), fixed30,
	}
}

func toFixed(v float64, unit float64) int32 {
	return int32(math.Round(v * unit))
}

// Geometry is the natural size and orientation of a video track.
type Geometry struct {
	Width     int
	Height    int
	Transform Transform
}

// TrackDescriptor describes one track of an input.
type TrackDescriptor struct {
	Kind    Kind
	TrackID int
	// Ticks is the track duration in Timescale units.
	Ticks     uint64
	Timescale uint32
	// Geometry is set for video tracks only.
	Geometry *Geometry
	Language string
	Codec    string
}

// Duration returns the track duration.
func (d TrackDescriptor) Duration() time.Duration {
	if d.Timescale == 0 {
		return 0
	}
	secs := d.Ticks / uint64(d.Timescale)
	rem := d.Ticks % uint64(d.Timescale)
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/uint64(d.Timescale))
}

// Asset is the inspected layout of one input.
type Asset struct {
	Ref    mediaref.Reference
	Tracks []TrackDescriptor
	// Duration is the container duration.
	Duration time.Duration
}

// First returns the first track of kind k.
func (a *Asset) First(k Kind) (TrackDescriptor, bool) {
	for _, t := range a.Tracks {
		if t.Kind == k {
			return t, true
		}
	}
	return TrackDescriptor{}, false
}

// Video returns the first video track.
func (a *Asset) Video() (TrackDescriptor, bool) {
	return a.First(KindVideo)
}

// Audio returns the first audio track.
func (a *Asset) Audio() (TrackDescriptor, bool) {
	return a.First(KindAudio)
}

// Require fails with KindMissingTrack when the asset has no video track, or
// no audio track while includeAudio is set.
func (a *Asset) Require(includeAudio bool) error {
	if _, ok := a.Video(); !ok {
		return mergeerr.MissingTrack(string(KindVideo), a.Ref.String())
	}
	if includeAudio {
		if _, ok := a.Audio(); !ok {
			return mergeerr.MissingTrack(string(KindAudio), a.Ref.String())
		}
	}
	return nil
}
