package mp4mux

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleEntry builds a minimal raw stsd entry with the given fourcc.
func sampleEntry(fourcc string, body ...byte) []byte {
	entry := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(entry, uint32(8+len(body)))
	copy(entry[4:], fourcc)
	return append(entry, body...)
}

func videoTrack(timescale, delta uint32, sizes []uint32, source int, offset uint64, syncs ...int) *Track {
	t := &Track{
		TrackID:      1,
		Handler:      HandlerVideo,
		Timescale:    timescale,
		Language:     "und",
		Width:        320 << 16,
		Height:       240 << 16,
		Matrix:       IdentityMatrix,
		Descriptions: [][]byte{sampleEntry("avc1", 1, 2, 3, 4)},
		HasSyncTable: len(syncs) > 0,
	}
	for i, size := range sizes {
		t.Samples = append(t.Samples, Sample{Size: size, Delta: delta, Sync: len(syncs) == 0})
		for _, s := range syncs {
			if s == i {
				t.Samples[i].Sync = true
			}
		}
	}
	t.Chunks = []Chunk{{Source: source, Offset: offset, SampleCount: uint32(len(sizes)), DescriptionIndex: 1}}
	return t
}

func audioTrack(source int, offset uint64) *Track {
	return &Track{
		TrackID:      2,
		Handler:      HandlerAudio,
		Timescale:    44100,
		Language:     "eng",
		Matrix:       IdentityMatrix,
		Volume:       0x0100,
		Descriptions: [][]byte{sampleEntry("mp4a", 9, 9)},
		Samples: []Sample{
			{Size: 4, Delta: 1024, Sync: true},
			{Size: 4, Delta: 1024, Sync: true},
		},
		Chunks: []Chunk{
			{Source: source, Offset: offset, SampleCount: 1, DescriptionIndex: 1},
			{Source: source, Offset: offset + 4, SampleCount: 1, DescriptionIndex: 1},
		},
	}
}

func writeTemp(t *testing.T, tracks []*Track, sources []io.ReaderAt) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.NoError(t, Write(f, tracks, sources))
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return f
}

func TestAppend_RescalesAndDeduplicates(t *testing.T) {
	a := videoTrack(90000, 3000, []uint32{10, 20, 30}, 0, 0, 0)
	b := videoTrack(30000, 1000, []uint32{5, 5}, 1, 4)

	merged, err := Append(a, b)
	require.NoError(t, err)

	assert.Equal(t, uint32(90000), merged.Timescale)
	assert.Len(t, merged.Descriptions, 1)
	require.Len(t, merged.Samples, 5)
	for _, s := range merged.Samples {
		assert.Equal(t, uint32(3000), s.Delta)
	}
	assert.Equal(t, uint64(15000), merged.MediaDuration)
	assert.True(t, merged.HasSyncTable)
	assert.Equal(t, []bool{true, false, false, true, true}, syncFlags(merged))

	require.Len(t, merged.Chunks, 2)
	assert.Equal(t, 3, merged.Chunks[1].FirstSample)
	assert.Equal(t, 1, merged.Chunks[1].Source)
}

func TestAppend_CarriesRoundingRemainder(t *testing.T) {
	a := videoTrack(1000, 33, []uint32{1}, 0, 0)
	// 3 samples of 1/30s at 30 ticks/s become 33+33+34 at 1000 ticks/s.
	b := videoTrack(30, 1, []uint32{1, 1, 1}, 0, 1)

	merged, err := Append(a, b)
	require.NoError(t, err)

	var deltas []uint32
	for _, s := range merged.Samples[1:] {
		deltas = append(deltas, s.Delta)
	}
	assert.Equal(t, []uint32{33, 33, 34}, deltas)
}

func TestAppend_Errors(t *testing.T) {
	_, err := Append()
	assert.ErrorIs(t, err, ErrNoTracks)

	_, err = Append(videoTrack(90000, 1, []uint32{1}, 0, 0), audioTrack(0, 0))
	assert.ErrorIs(t, err, ErrHandlerMismatch)

	_, err = Append(videoTrack(0, 1, []uint32{1}, 0, 0))
	assert.ErrorIs(t, err, ErrZeroTimescale)
}

func TestAppend_DistinctDescriptions(t *testing.T) {
	a := videoTrack(90000, 3000, []uint32{1}, 0, 0)
	b := videoTrack(90000, 3000, []uint32{1}, 0, 1)
	b.Descriptions = [][]byte{sampleEntry("hvc1", 7)}

	merged, err := Append(a, b)
	require.NoError(t, err)

	assert.Len(t, merged.Descriptions, 2)
	assert.Equal(t, uint32(1), merged.Chunks[0].DescriptionIndex)
	assert.Equal(t, uint32(2), merged.Chunks[1].DescriptionIndex)
}

func TestWriteReadRoundTrip(t *testing.T) {
	srcA := bytes.Repeat([]byte{'A'}, 60)
	srcB := append([]byte("junk"), bytes.Repeat([]byte{'B'}, 10)...)
	srcC := []byte("abcdefgh")

	video, err := Append(
		videoTrack(90000, 3000, []uint32{10, 20, 30}, 0, 0, 0),
		videoTrack(30000, 1000, []uint32{5, 5}, 1, 4),
	)
	require.NoError(t, err)
	video.Matrix = [9]int32{0, 0x00010000, 0, -0x00010000, 0, 0, 240 << 16, 0, 0x40000000}

	sources := []io.ReaderAt{bytes.NewReader(srcA), bytes.NewReader(srcB), bytes.NewReader(srcC)}
	f := writeTemp(t, []*Track{video, audioTrack(2, 0)}, sources)

	movie, err := ReadMovie(f, 0)
	require.NoError(t, err)
	require.Len(t, movie.Tracks, 2)
	assert.Equal(t, uint32(MovieTimescale), movie.Timescale)
	assert.Equal(t, uint64(166), movie.Duration)

	v := movie.Track(HandlerVideo)
	require.NotNil(t, v)
	assert.Equal(t, uint32(1), v.TrackID)
	assert.Equal(t, video.Matrix, v.Matrix)
	assert.Equal(t, "und", v.Language)
	assert.Equal(t, "avc1", v.Codec())
	w, h := v.NaturalSize()
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
	assert.Equal(t, uint64(15000), v.MediaDuration)
	assert.Equal(t, []bool{true, false, false, true, true}, syncFlags(v))
	assert.InDelta(t, (15000.0/90000.0)*float64(time.Second), float64(v.Duration()), float64(time.Microsecond))

	a := movie.Track(HandlerAudio)
	require.NotNil(t, a)
	assert.Equal(t, uint32(2), a.TrackID)
	assert.Equal(t, "eng", a.Language)
	assert.Equal(t, "mp4a", a.Codec())
	assert.False(t, a.HasSyncTable)

	assert.Equal(t, append(bytes.Repeat([]byte{'A'}, 60), bytes.Repeat([]byte{'B'}, 10)...), chunkBytes(t, f, v))
	assert.Equal(t, srcC, chunkBytes(t, f, a))
}

func TestProbe_HeadersOnly(t *testing.T) {
	src := bytes.Repeat([]byte{'x'}, 8)
	f := writeTemp(t, []*Track{videoTrack(600, 20, []uint32{4, 4}, 0, 0)}, []io.ReaderAt{bytes.NewReader(src)})

	movie, err := Probe(f)
	require.NoError(t, err)
	require.Len(t, movie.Tracks, 1)

	v := movie.Tracks[0]
	assert.Nil(t, v.Samples)
	assert.Equal(t, uint64(40), v.MediaDuration)
	assert.Equal(t, HandlerVideo, v.Handler)
	assert.InDelta(t, float64(40*time.Second/600), float64(v.Duration()), float64(time.Microsecond))
}

func TestWrite_CompositionOffsets(t *testing.T) {
	track := videoTrack(90000, 3000, []uint32{1, 1, 1}, 0, 0, 0)
	track.Samples[1].CompositionOffset = 6000
	track.Samples[2].CompositionOffset = -3000
	track.HasCompositionOffsets = true

	f := writeTemp(t, []*Track{track}, []io.ReaderAt{bytes.NewReader([]byte("abc"))})

	movie, err := ReadMovie(f, 0)
	require.NoError(t, err)
	got := movie.Tracks[0]
	assert.True(t, got.HasCompositionOffsets)
	assert.Equal(t, int32(6000), got.Samples[1].CompositionOffset)
	assert.Equal(t, int32(-3000), got.Samples[2].CompositionOffset)
}

func TestWrite_Errors(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.ErrorIs(t, Write(f, nil, nil), ErrNoTracks)
	assert.ErrorIs(t, Write(f, []*Track{videoTrack(600, 1, []uint32{1}, 3, 0)}, nil), ErrUnknownSource)
}

func TestReadMovie_NotMP4(t *testing.T) {
	_, err := ReadMovie(bytes.NewReader([]byte("\x00\x00\x00\x08free")), 0)
	assert.ErrorIs(t, err, ErrNoMovie)
}

func syncFlags(t *Track) []bool {
	out := make([]bool, len(t.Samples))
	for i, s := range t.Samples {
		out[i] = s.Sync
	}
	return out
}

func chunkBytes(t *testing.T, r io.ReaderAt, track *Track) []byte {
	t.Helper()
	var out []byte
	for _, c := range track.Chunks {
		buf := make([]byte, track.chunkSize(c))
		_, err := r.ReadAt(buf, int64(c.Offset))
		require.NoError(t, err)
		out = append(out, buf...)
	}
	return out
}
