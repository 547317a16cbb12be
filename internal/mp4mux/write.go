package mp4mux

import (
	"fmt"
	"io"
	"math"

	mp4 "github.com/abema/go-mp4"
)

// MovieTimescale is the mvhd timescale used for written files.
const MovieTimescale = 1000

var (
	brandIsom = [4]byte{'i', 's', 'o', 'm'}
	brandIso2 = [4]byte{'i', 's', 'o', '2'}
	brandAvc1 = [4]byte{'a', 'v', 'c', '1'}
	brandMp41 = [4]byte{'m', 'p', '4', '1'}
)

// Write writes tracks as a new MP4 file laid out as ftyp, mdat, moov. Chunk
// data is copied from sources, indexed by Chunk.Source. Track IDs are
// reassigned from 1 in the order given.
func Write(w io.WriteSeeker, tracks []*Track, sources []io.ReaderAt) error {
	if len(tracks) == 0 {
		return ErrNoTracks
	}
	for _, t := range tracks {
		for _, c := range t.Chunks {
			if c.Source < 0 || c.Source >= len(sources) {
				return fmt.Errorf("%w: %d", ErrUnknownSource, c.Source)
			}
		}
	}

	mw := mp4.NewWriter(w)
	if err := writeFtyp(mw); err != nil {
		return err
	}

	offsets, err := writeMdat(mw, tracks, sources)
	if err != nil {
		return err
	}

	return writeMoov(mw, tracks, offsets)
}

func writeFtyp(w *mp4.Writer) error {
	ftyp := &mp4.Ftyp{
		MajorBrand:   brandIsom,
		MinorVersion: 0x200,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: brandIsom},
			{CompatibleBrand: brandIso2},
			{CompatibleBrand: brandAvc1},
			{CompatibleBrand: brandMp41},
		},
	}
	return writeLeaf(w, mp4.BoxTypeFtyp(), ftyp)
}

// writeMdat copies every chunk into a single mdat, track by track, and
// returns the new chunk offsets per track.
func writeMdat(w *mp4.Writer, tracks []*Track, sources []io.ReaderAt) ([][]uint64, error) {
	var payload uint64
	for _, t := range tracks {
		for _, c := range t.Chunks {
			payload += t.chunkSize(c)
		}
	}

	header := &mp4.BoxInfo{Type: mp4.BoxTypeMdat(), Size: payload + mp4.SmallHeaderSize}
	if payload+mp4.SmallHeaderSize > math.MaxUint32 {
		header.HeaderSize = mp4.LargeHeaderSize
		header.Size = payload + mp4.LargeHeaderSize
	}
	bi, err := mp4.WriteBoxInfo(w, header)
	if err != nil {
		return nil, fmt.Errorf("mp4: write mdat header: %w", err)
	}

	pos := bi.Offset + bi.HeaderSize
	offsets := make([][]uint64, len(tracks))
	for i, t := range tracks {
		offsets[i] = make([]uint64, len(t.Chunks))
		for j, c := range t.Chunks {
			size := t.chunkSize(c)
			section := io.NewSectionReader(sources[c.Source], int64(c.Offset), int64(size)) // #nosec G115 - offsets come from 64-bit box fields
			n, err := io.Copy(w, section)
			if err != nil {
				return nil, fmt.Errorf("mp4: copy chunk %d of track %d: %w", j, t.TrackID, err)
			}
			if uint64(n) != size {
				return nil, fmt.Errorf("mp4: copy chunk %d of track %d: %w", j, t.TrackID, io.ErrUnexpectedEOF)
			}
			offsets[i][j] = pos
			pos += size
		}
	}
	return offsets, nil
}

func writeMoov(w *mp4.Writer, tracks []*Track, offsets [][]uint64) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMoov()}); err != nil {
		return fmt.Errorf("mp4: start moov: %w", err)
	}

	var movieDuration uint64
	for _, t := range tracks {
		if d := rescale(t.SampleDuration(), t.Timescale, MovieTimescale); d > movieDuration {
			movieDuration = d
		}
	}

	mvhd := &mp4.Mvhd{
		Timescale:   MovieTimescale,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      IdentityMatrix,
		NextTrackID: uint32(len(tracks) + 1), // #nosec G115
	}
	if movieDuration > math.MaxUint32 {
		mvhd.SetVersion(1)
		mvhd.DurationV1 = movieDuration
	} else {
		mvhd.DurationV0 = uint32(movieDuration)
	}
	if err := writeLeaf(w, mp4.BoxTypeMvhd(), mvhd); err != nil {
		return err
	}

	for i, t := range tracks {
		if err := writeTrak(w, t, uint32(i+1), offsets[i]); err != nil { // #nosec G115
			return err
		}
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("mp4: end moov: %w", err)
	}
	return nil
}

func writeTrak(w *mp4.Writer, t *Track, trackID uint32, offsets []uint64) error {
	mediaDuration := t.SampleDuration()
	movieDuration := rescale(mediaDuration, t.Timescale, MovieTimescale)

	if err := startBox(w, mp4.BoxTypeTrak()); err != nil {
		return err
	}

	tkhd := &mp4.Tkhd{
		TrackID: trackID,
		Matrix:  t.Matrix,
		Width:   t.Width,
		Height:  t.Height,
	}
	tkhd.SetFlags(0x000003) // enabled, in movie
	if t.Handler == HandlerAudio {
		tkhd.Volume = 0x0100
		tkhd.AlternateGroup = 1
	}
	if movieDuration > math.MaxUint32 {
		tkhd.SetVersion(1)
		tkhd.DurationV1 = movieDuration
	} else {
		tkhd.DurationV0 = uint32(movieDuration)
	}
	if err := writeLeaf(w, mp4.BoxTypeTkhd(), tkhd); err != nil {
		return err
	}

	if err := startBox(w, mp4.BoxTypeMdia()); err != nil {
		return err
	}
	mdhd := &mp4.Mdhd{
		Timescale: t.Timescale,
		Language:  encodeLanguage(t.Language),
	}
	if mediaDuration > math.MaxUint32 {
		mdhd.SetVersion(1)
		mdhd.DurationV1 = mediaDuration
	} else {
		mdhd.DurationV0 = uint32(mediaDuration)
	}
	if err := writeLeaf(w, mp4.BoxTypeMdhd(), mdhd); err != nil {
		return err
	}

	hdlr := &mp4.Hdlr{Name: "VideoHandler"}
	copy(hdlr.HandlerType[:], t.Handler)
	if t.Handler == HandlerAudio {
		hdlr.Name = "SoundHandler"
	}
	if err := writeLeaf(w, mp4.BoxTypeHdlr(), hdlr); err != nil {
		return err
	}

	if err := startBox(w, mp4.BoxTypeMinf()); err != nil {
		return err
	}
	if t.Handler == HandlerAudio {
		if err := writeLeaf(w, mp4.BoxTypeSmhd(), &mp4.Smhd{}); err != nil {
			return err
		}
	} else {
		vmhd := &mp4.Vmhd{}
		vmhd.SetFlags(0x000001)
		if err := writeLeaf(w, mp4.BoxTypeVmhd(), vmhd); err != nil {
			return err
		}
	}
	if err := writeDinf(w); err != nil {
		return err
	}
	if err := writeStbl(w, t, offsets); err != nil {
		return err
	}

	// minf, mdia, trak
	for range 3 {
		if _, err := w.EndBox(); err != nil {
			return fmt.Errorf("mp4: end box: %w", err)
		}
	}
	return nil
}

func writeDinf(w *mp4.Writer) error {
	if err := startBox(w, mp4.BoxTypeDinf()); err != nil {
		return err
	}
	if err := startBox(w, mp4.BoxTypeDref()); err != nil {
		return err
	}
	if err := marshal(w, &mp4.Dref{EntryCount: 1}); err != nil {
		return err
	}
	url := &mp4.Url{}
	url.SetFlags(0x000001) // media is in this file
	if err := writeLeaf(w, mp4.BoxTypeUrl(), url); err != nil {
		return err
	}
	for range 2 {
		if _, err := w.EndBox(); err != nil {
			return fmt.Errorf("mp4: end box: %w", err)
		}
	}
	return nil
}

func writeStbl(w *mp4.Writer, t *Track, offsets []uint64) error {
	if err := startBox(w, mp4.BoxTypeStbl()); err != nil {
		return err
	}

	if err := startBox(w, mp4.BoxTypeStsd()); err != nil {
		return err
	}
	if err := marshal(w, &mp4.Stsd{EntryCount: uint32(len(t.Descriptions))}); err != nil { // #nosec G115
		return err
	}
	for _, d := range t.Descriptions {
		if _, err := w.Write(d); err != nil {
			return fmt.Errorf("mp4: write sample entry: %w", err)
		}
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("mp4: end stsd: %w", err)
	}

	if err := writeLeaf(w, mp4.BoxTypeStts(), buildStts(t.Samples)); err != nil {
		return err
	}
	if t.HasCompositionOffsets {
		if err := writeLeaf(w, mp4.BoxTypeCtts(), buildCtts(t.Samples)); err != nil {
			return err
		}
	}
	if t.HasSyncTable {
		if err := writeLeaf(w, mp4.BoxTypeStss(), buildStss(t.Samples)); err != nil {
			return err
		}
	}
	if err := writeLeaf(w, mp4.BoxTypeStsc(), buildStsc(t.Chunks)); err != nil {
		return err
	}
	if err := writeLeaf(w, mp4.BoxTypeStsz(), buildStsz(t.Samples)); err != nil {
		return err
	}

	var maxOffset uint64
	for _, o := range offsets {
		maxOffset = max(maxOffset, o)
	}
	if maxOffset > math.MaxUint32 {
		co64 := &mp4.Co64{EntryCount: uint32(len(offsets)), ChunkOffset: offsets} // #nosec G115
		if err := writeLeaf(w, mp4.BoxTypeCo64(), co64); err != nil {
			return err
		}
	} else {
		stco := &mp4.Stco{EntryCount: uint32(len(offsets)), ChunkOffset: make([]uint32, len(offsets))} // #nosec G115
		for i, o := range offsets {
			stco.ChunkOffset[i] = uint32(o)
		}
		if err := writeLeaf(w, mp4.BoxTypeStco(), stco); err != nil {
			return err
		}
	}

	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("mp4: end stbl: %w", err)
	}
	return nil
}

func buildStts(samples []Sample) *mp4.Stts {
	stts := &mp4.Stts{}
	for _, s := range samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.Delta {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, mp4.SttsEntry{SampleCount: 1, SampleDelta: s.Delta})
	}
	stts.EntryCount = uint32(len(stts.Entries)) // #nosec G115
	return stts
}

func buildCtts(samples []Sample) *mp4.Ctts {
	ctts := &mp4.Ctts{}
	negative := false
	for _, s := range samples {
		if s.CompositionOffset < 0 {
			negative = true
		}
		if n := len(ctts.Entries); n > 0 && ctts.Entries[n-1].SampleOffsetV1 == s.CompositionOffset {
			ctts.Entries[n-1].SampleCount++
			continue
		}
		ctts.Entries = append(ctts.Entries, mp4.CttsEntry{
			SampleCount:    1,
			SampleOffsetV0: uint32(s.CompositionOffset), // #nosec G115 - only used when no offset is negative
			SampleOffsetV1: s.CompositionOffset,
		})
	}
	if negative {
		ctts.SetVersion(1)
	}
	ctts.EntryCount = uint32(len(ctts.Entries)) // #nosec G115
	return ctts
}

func buildStss(samples []Sample) *mp4.Stss {
	stss := &mp4.Stss{}
	for i, s := range samples {
		if s.Sync {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1)) // #nosec G115
		}
	}
	stss.EntryCount = uint32(len(stss.SampleNumber)) // #nosec G115
	return stss
}

func buildStsc(chunks []Chunk) *mp4.Stsc {
	stsc := &mp4.Stsc{}
	for i, c := range chunks {
		if n := len(stsc.Entries); n > 0 {
			last := stsc.Entries[n-1]
			if last.SamplesPerChunk == c.SampleCount && last.SampleDescriptionIndex == c.DescriptionIndex {
				continue
			}
		}
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{
			FirstChunk:             uint32(i + 1), // #nosec G115
			SamplesPerChunk:        c.SampleCount,
			SampleDescriptionIndex: c.DescriptionIndex,
		})
	}
	stsc.EntryCount = uint32(len(stsc.Entries)) // #nosec G115
	return stsc
}

func buildStsz(samples []Sample) *mp4.Stsz {
	stsz := &mp4.Stsz{SampleCount: uint32(len(samples))} // #nosec G115
	uniform := len(samples) > 0
	for _, s := range samples {
		if s.Size != samples[0].Size {
			uniform = false
			break
		}
	}
	if uniform {
		stsz.SampleSize = samples[0].Size
		return stsz
	}
	stsz.EntrySize = make([]uint32, len(samples))
	for i, s := range samples {
		stsz.EntrySize[i] = s.Size
	}
	return stsz
}

func startBox(w *mp4.Writer, t mp4.BoxType) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: t}); err != nil {
		return fmt.Errorf("mp4: start %s: %w", t, err)
	}
	return nil
}

func marshal(w *mp4.Writer, box mp4.IImmutableBox) error {
	if _, err := mp4.Marshal(w, box, mp4.Context{}); err != nil {
		return fmt.Errorf("mp4: marshal %s: %w", box.GetType(), err)
	}
	return nil
}

func writeLeaf(w *mp4.Writer, t mp4.BoxType, box mp4.IImmutableBox) error {
	if err := startBox(w, t); err != nil {
		return err
	}
	if err := marshal(w, box); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("mp4: end %s: %w", t, err)
	}
	return nil
}
