// Package mp4mux reads, appends and writes ISO-BMFF (MP4) tracks at the box
// level. Sample data is never decoded; appended tracks reference the chunks of
// their source files and are copied into a fresh mdat on Write.
package mp4mux

import (
	"errors"
	"math"
	"time"
)

// Handler is the four-character hdlr handler type of a track.
type Handler string

// Handlers understood by the muxer.
const (
	HandlerVideo Handler = "vide"
	HandlerAudio Handler = "soun"
)

var (
	// ErrNoMovie is returned when the input has no moov box.
	ErrNoMovie = errors.New("mp4: no moov box")
	// ErrNoTracks is returned when Append or Write is given no tracks.
	ErrNoTracks = errors.New("mp4: no tracks")
	// ErrHandlerMismatch is returned when appending tracks of different handler types.
	ErrHandlerMismatch = errors.New("mp4: cannot append tracks of different handler types")
	// ErrInconsistentTables is returned when sample tables disagree on the sample count.
	ErrInconsistentTables = errors.New("mp4: inconsistent sample tables")
	// ErrZeroTimescale is returned for a track whose mdhd timescale is 0.
	ErrZeroTimescale = errors.New("mp4: zero timescale")
	// ErrUnknownSource is returned when a chunk references a source that was not supplied.
	ErrUnknownSource = errors.New("mp4: chunk references unknown source")
)

// IdentityMatrix is the unity transformation matrix in tkhd/mvhd layout
// (16.16 for a, b, c, d, tx, ty and 2.30 for u, v, w).
var IdentityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// Sample is one access unit in a track.
type Sample struct {
	Size              uint32
	Delta             uint32
	CompositionOffset int32
	Sync              bool
}

// Chunk is a contiguous run of samples stored in one source file.
type Chunk struct {
	// Source indexes the sources slice passed to Write.
	Source int
	// Offset is the absolute byte offset of the chunk in its source.
	Offset uint64
	// FirstSample indexes Track.Samples.
	FirstSample int
	SampleCount uint32
	// DescriptionIndex is the 1-based index into Track.Descriptions.
	DescriptionIndex uint32
}

// Track is a parsed trak box.
type Track struct {
	TrackID   uint32
	Handler   Handler
	Timescale uint32
	// MediaDuration is the mdhd duration in Timescale units.
	MediaDuration uint64
	Language      string
	// Width and Height are 16.16 fixed point, as stored in tkhd.
	Width  uint32
	Height uint32
	Matrix [9]int32
	Volume int16

	// Descriptions are the raw sample entries from stsd, header included.
	Descriptions [][]byte
	Samples      []Sample
	Chunks       []Chunk

	// HasSyncTable is false when every sample is a sync sample (no stss).
	HasSyncTable bool
	// HasCompositionOffsets reports whether a ctts table is needed.
	HasCompositionOffsets bool
}

// Codec returns the four-character code of the first sample entry, e.g. "avc1".
func (t *Track) Codec() string {
	if len(t.Descriptions) == 0 || len(t.Descriptions[0]) < 8 {
		return ""
	}
	return string(t.Descriptions[0][4:8])
}

// NaturalSize returns the tkhd width and height in pixels.
func (t *Track) NaturalSize() (width, height int) {
	return int(t.Width >> 16), int(t.Height >> 16)
}

// SampleDuration returns the sum of the sample deltas in Timescale units.
func (t *Track) SampleDuration() uint64 {
	var total uint64
	for _, s := range t.Samples {
		total += uint64(s.Delta)
	}
	return total
}

// Duration returns the sample-table duration, falling back to the mdhd
// duration when the track was read without its sample tables.
func (t *Track) Duration() time.Duration {
	if t.Timescale == 0 {
		return 0
	}
	ticks := t.MediaDuration
	if len(t.Samples) > 0 {
		ticks = t.SampleDuration()
	}
	return ticksToDuration(ticks, t.Timescale)
}

// chunkSize returns the number of bytes chunk c occupies in its source.
func (t *Track) chunkSize(c Chunk) uint64 {
	var size uint64
	end := c.FirstSample + int(c.SampleCount)
	for i := c.FirstSample; i < end && i < len(t.Samples); i++ {
		size += uint64(t.Samples[i].Size)
	}
	return size
}

// Movie is the set of tracks read from, or to be written to, one file.
type Movie struct {
	Timescale uint32
	Duration  uint64
	Tracks    []*Track
}

// Track returns the first track with handler h, or nil.
func (m *Movie) Track(h Handler) *Track {
	for _, t := range m.Tracks {
		if t.Handler == h {
			return t
		}
	}
	return nil
}

// TracksOf returns every track with handler h, in file order.
func (m *Movie) TracksOf(h Handler) []*Track {
	var out []*Track
	for _, t := range m.Tracks {
		if t.Handler == h {
			out = append(out, t)
		}
	}
	return out
}

func ticksToDuration(ticks uint64, timescale uint32) time.Duration {
	secs := ticks / uint64(timescale)
	rem := ticks % uint64(timescale)
	if secs > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/uint64(timescale))
}

func rescale(ticks uint64, from, to uint32) uint64 {
	if from == to || from == 0 {
		return ticks
	}
	hi := ticks / uint64(from)
	lo := ticks % uint64(from)
	return hi*uint64(to) + lo*uint64(to)/uint64(from)
}
