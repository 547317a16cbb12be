package mp4mux

import (
	"bytes"
	"fmt"
)

// Append concatenates same-handler tracks into a new track. Header fields
// come from the first track. Sample descriptions are de-duplicated by content
// and every track is rescaled to the first track's timescale; rounding
// remainders are carried so the total duration does not drift.
func Append(tracks ...*Track) (*Track, error) {
	if len(tracks) == 0 {
		return nil, ErrNoTracks
	}

	first := tracks[0]
	out := &Track{
		TrackID:   first.TrackID,
		Handler:   first.Handler,
		Timescale: first.Timescale,
		Language:  first.Language,
		Width:     first.Width,
		Height:    first.Height,
		Matrix:    first.Matrix,
		Volume:    first.Volume,
	}
	if out.Timescale == 0 {
		return nil, fmt.Errorf("%w: track %d", ErrZeroTimescale, first.TrackID)
	}

	for i, t := range tracks {
		if t.Handler != out.Handler {
			return nil, fmt.Errorf("%w: track %d is %q, want %q", ErrHandlerMismatch, i, t.Handler, out.Handler)
		}
		if t.Timescale == 0 {
			return nil, fmt.Errorf("%w: track %d", ErrZeroTimescale, t.TrackID)
		}

		remap := make([]uint32, len(t.Descriptions)+1)
		for j, d := range t.Descriptions {
			remap[j+1] = out.addDescription(d)
		}

		base := len(out.Samples)
		var carry uint64
		for _, s := range t.Samples {
			if t.Timescale != out.Timescale {
				scaled := uint64(s.Delta)*uint64(out.Timescale) + carry
				s.Delta = uint32(scaled / uint64(t.Timescale)) // #nosec G115 - bounded by the source delta
				carry = scaled % uint64(t.Timescale)
				s.CompositionOffset = int32(int64(s.CompositionOffset) * int64(out.Timescale) / int64(t.Timescale)) // #nosec G115
			}
			out.Samples = append(out.Samples, s)
		}

		for _, c := range t.Chunks {
			if int(c.DescriptionIndex) < len(remap) && c.DescriptionIndex > 0 {
				c.DescriptionIndex = remap[c.DescriptionIndex]
			} else {
				c.DescriptionIndex = 1
			}
			c.FirstSample += base
			out.Chunks = append(out.Chunks, c)
		}

		out.HasSyncTable = out.HasSyncTable || t.HasSyncTable
		out.HasCompositionOffsets = out.HasCompositionOffsets || t.HasCompositionOffsets
	}

	out.MediaDuration = out.SampleDuration()
	return out, nil
}

// addDescription returns the 1-based index of d, adding it if it is new.
func (t *Track) addDescription(d []byte) uint32 {
	for i, existing := range t.Descriptions {
		if bytes.Equal(existing, d) {
			return uint32(i + 1) // #nosec G115 - description counts are small
		}
	}
	t.Descriptions = append(t.Descriptions, d)
	return uint32(len(t.Descriptions)) // #nosec G115
}
