package mp4mux

import (
	"encoding/binary"
	"fmt"
	"io"

	mp4 "github.com/abema/go-mp4"
)

// Probe reads the movie and track headers of r without its sample tables.
func Probe(r io.ReadSeeker) (*Movie, error) {
	return readMovie(r, 0, false)
}

// ReadMovie reads every track of r including its sample tables. The chunks
// of every track are tagged with source so that several files can be
// appended and written together.
func ReadMovie(r io.ReadSeeker, source int) (*Movie, error) {
	return readMovie(r, source, true)
}

func readMovie(r io.ReadSeeker, source int, tables bool) (*Movie, error) {
	moovs, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov()})
	if err != nil {
		return nil, fmt.Errorf("mp4: scan top-level boxes: %w", err)
	}
	if len(moovs) == 0 {
		return nil, ErrNoMovie
	}
	moov := moovs[0]

	movie := &Movie{}
	mvhds, err := mp4.ExtractBoxWithPayload(r, moov, mp4.BoxPath{mp4.BoxTypeMvhd()})
	if err != nil {
		return nil, fmt.Errorf("mp4: read mvhd: %w", err)
	}
	if len(mvhds) > 0 {
		if mvhd, ok := mvhds[0].Payload.(*mp4.Mvhd); ok {
			movie.Timescale = mvhd.Timescale
			movie.Duration = versioned(mvhd.GetVersion(), uint64(mvhd.DurationV0), mvhd.DurationV1)
		}
	}

	traks, err := mp4.ExtractBox(r, moov, mp4.BoxPath{mp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("mp4: scan tracks: %w", err)
	}

	for _, trak := range traks {
		track, err := readTrack(r, trak, source, tables)
		if err != nil {
			return nil, err
		}
		movie.Tracks = append(movie.Tracks, track)
	}
	return movie, nil
}

func readTrack(r io.ReadSeeker, trak *mp4.BoxInfo, source int, tables bool) (*Track, error) {
	track := &Track{Matrix: IdentityMatrix}

	boxes, err := mp4.ExtractBoxesWithPayload(r, trak, []mp4.BoxPath{
		{mp4.BoxTypeTkhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeMdhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()},
	})
	if err != nil {
		return nil, fmt.Errorf("mp4: read track headers: %w", err)
	}

	for _, b := range boxes {
		switch box := b.Payload.(type) {
		case *mp4.Tkhd:
			track.TrackID = box.TrackID
			track.Width = box.Width
			track.Height = box.Height
			track.Matrix = box.Matrix
			track.Volume = box.Volume
		case *mp4.Mdhd:
			track.Timescale = box.Timescale
			track.MediaDuration = versioned(box.GetVersion(), uint64(box.DurationV0), box.DurationV1)
			track.Language = decodeLanguage(box.Language)
		case *mp4.Hdlr:
			track.Handler = Handler(box.HandlerType[:])
		}
	}

	stbl := mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl()}
	descs, err := readDescriptions(r, trak, append(stbl, mp4.BoxTypeStsd()))
	if err != nil {
		return nil, err
	}
	track.Descriptions = descs

	if !tables {
		return track, nil
	}
	if track.Timescale == 0 {
		return nil, fmt.Errorf("%w: track %d", ErrZeroTimescale, track.TrackID)
	}
	if err := readSampleTables(r, trak, stbl, source, track); err != nil {
		return nil, fmt.Errorf("mp4: track %d: %w", track.TrackID, err)
	}
	return track, nil
}

// readDescriptions returns the raw sample entries of the stsd box.
func readDescriptions(r io.ReadSeeker, trak *mp4.BoxInfo, path mp4.BoxPath) ([][]byte, error) {
	stsds, err := mp4.ExtractBox(r, trak, path)
	if err != nil {
		return nil, fmt.Errorf("mp4: locate stsd: %w", err)
	}
	if len(stsds) == 0 {
		return nil, nil
	}
	stsd := stsds[0]

	if _, err := stsd.SeekToPayload(r); err != nil {
		return nil, fmt.Errorf("mp4: seek stsd: %w", err)
	}
	payload := make([]byte, stsd.Size-stsd.HeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("mp4: read stsd: %w", err)
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: short stsd", ErrInconsistentTables)
	}

	count := binary.BigEndian.Uint32(payload[4:8])
	entries := payload[8:]
	descs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(entries) < 8 {
			return nil, fmt.Errorf("%w: truncated sample entry", ErrInconsistentTables)
		}
		size := binary.BigEndian.Uint32(entries[:4])
		if size < 8 || int(size) > len(entries) {
			return nil, fmt.Errorf("%w: sample entry size %d", ErrInconsistentTables, size)
		}
		descs = append(descs, append([]byte(nil), entries[:size]...))
		entries = entries[size:]
	}
	return descs, nil
}

func readSampleTables(r io.ReadSeeker, trak *mp4.BoxInfo, stbl mp4.BoxPath, source int, track *Track) error {
	paths := []mp4.BoxPath{
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeStts()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeCtts()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeStss()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeStsc()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeStsz()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeStco()),
		append(append(mp4.BoxPath{}, stbl...), mp4.BoxTypeCo64()),
	}
	boxes, err := mp4.ExtractBoxesWithPayload(r, trak, paths)
	if err != nil {
		return fmt.Errorf("read sample tables: %w", err)
	}

	var (
		stts    *mp4.Stts
		ctts    *mp4.Ctts
		stss    *mp4.Stss
		stsc    *mp4.Stsc
		stsz    *mp4.Stsz
		offsets []uint64
	)
	for _, b := range boxes {
		switch box := b.Payload.(type) {
		case *mp4.Stts:
			stts = box
		case *mp4.Ctts:
			ctts = box
		case *mp4.Stss:
			stss = box
		case *mp4.Stsc:
			stsc = box
		case *mp4.Stsz:
			stsz = box
		case *mp4.Stco:
			for _, o := range box.ChunkOffset {
				offsets = append(offsets, uint64(o))
			}
		case *mp4.Co64:
			offsets = append(offsets, box.ChunkOffset...)
		}
	}
	if stts == nil || stsc == nil || stsz == nil {
		return fmt.Errorf("%w: missing stts, stsc or stsz", ErrInconsistentTables)
	}

	count := int(stsz.SampleCount)
	samples := make([]Sample, count)
	for i := range samples {
		if stsz.SampleSize != 0 {
			samples[i].Size = stsz.SampleSize
		} else {
			if i >= len(stsz.EntrySize) {
				return fmt.Errorf("%w: stsz has %d sizes for %d samples", ErrInconsistentTables, len(stsz.EntrySize), count)
			}
			samples[i].Size = stsz.EntrySize[i]
		}
		samples[i].Sync = stss == nil
	}

	n := 0
	for _, e := range stts.Entries {
		for j := uint32(0); j < e.SampleCount && n < count; j++ {
			samples[n].Delta = e.SampleDelta
			n++
		}
	}
	if n != count {
		return fmt.Errorf("%w: stts covers %d of %d samples", ErrInconsistentTables, n, count)
	}

	if ctts != nil {
		n = 0
		for _, e := range ctts.Entries {
			offset := int32(e.SampleOffsetV0) // #nosec G115 - version 0 offsets are stored unsigned
			if ctts.GetVersion() == 1 {
				offset = e.SampleOffsetV1
			}
			for j := uint32(0); j < e.SampleCount && n < count; j++ {
				samples[n].CompositionOffset = offset
				if offset != 0 {
					track.HasCompositionOffsets = true
				}
				n++
			}
		}
	}

	if stss != nil {
		track.HasSyncTable = true
		for _, num := range stss.SampleNumber {
			if num >= 1 && int(num) <= count {
				samples[num-1].Sync = true
			}
		}
	}

	chunks, err := expandChunks(stsc, offsets, source, count)
	if err != nil {
		return err
	}

	track.Samples = samples
	track.Chunks = chunks
	return nil
}

func expandChunks(stsc *mp4.Stsc, offsets []uint64, source, sampleCount int) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(offsets))
	next := 0
	for i, e := range stsc.Entries {
		first := int(e.FirstChunk)
		last := len(offsets)
		if i+1 < len(stsc.Entries) {
			last = int(stsc.Entries[i+1].FirstChunk) - 1
		}
		if first < 1 || last > len(offsets) {
			return nil, fmt.Errorf("%w: stsc chunk range %d-%d of %d", ErrInconsistentTables, first, last, len(offsets))
		}
		for c := first; c <= last; c++ {
			chunks = append(chunks, Chunk{
				Source:           source,
				Offset:           offsets[c-1],
				FirstSample:      next,
				SampleCount:      e.SamplesPerChunk,
				DescriptionIndex: e.SampleDescriptionIndex,
			})
			next += int(e.SamplesPerChunk)
		}
	}
	if next != sampleCount {
		return nil, fmt.Errorf("%w: chunks hold %d of %d samples", ErrInconsistentTables, next, sampleCount)
	}
	return chunks, nil
}

func versioned(version uint8, v0, v1 uint64) uint64 {
	if version == 1 {
		return v1
	}
	return v0
}

func decodeLanguage(l [3]byte) string {
	if l == [3]byte{} {
		return ""
	}
	return string([]byte{l[0] + 0x60, l[1] + 0x60, l[2] + 0x60})
}

func encodeLanguage(s string) [3]byte {
	if len(s) != 3 {
		s = "und"
	}
	return [3]byte{s[0] - 0x60, s[1] - 0x60, s[2] - 0x60}
}
