package mp4

import (
	"fmt"
	"math"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
)

const (
	movieTimeScale = 1000
)

type chunk struct {
	offset      uint64
	sampleCount uint32
}

type track struct {
	id        int
	codec     codecs.Codec
	timeScale uint32

	firstDTS        time.Duration
	firstPTSOffset  int64
	trimAtStart     int64
	nextDTS         int64
	sizes           []uint32
	durations       []uint32
	ptsOffsets      []int32
	syncSamples     []uint32
	allSync         bool
	hasPTSOffset    bool
	chunks          []*chunk
	lastSampleEnd   uint64
	mediaDuration   uint64
	maxChunkOffset  uint64
	hasFirstSample  bool
	hasNegativeCTTS bool
}

func newTrack(id int, codec codecs.Codec) *track {
	return &track{
		id:        id,
		codec:     codec,
		timeScale: container.TimeScale(codec),
		allSync:   true,
	}
}

func (t *track) sampleCount() int {
	return len(t.sizes)
}

// addSample registers a sample that has been written at the given offset.
// dts is relative to the beginning of the session.
func (t *track) addSample(offset uint64, s *container.Sample, dts time.Duration) {
	dtsTS := container.DurationToTimeScale(dts, t.timeScale)

	if !t.hasFirstSample {
		t.hasFirstSample = true
		t.firstDTS = dts
		t.nextDTS = dtsTS
		t.firstPTSOffset = container.DurationToTimeScale(s.PTS-s.DTS, t.timeScale)
		t.trimAtStart = container.DurationToTimeScale(s.TrimAtStart, t.timeScale)
	}

	// durations are computed from absolute positions in order to avoid drift
	endTS := container.DurationToTimeScale(dts+s.Duration, t.timeScale)
	if endTS < t.nextDTS+1 {
		endTS = t.nextDTS + 1
	}
	duration := endTS - t.nextDTS
	t.nextDTS = endTS

	t.durations = append(t.durations, uint32(duration))
	t.mediaDuration += uint64(duration)
	t.sizes = append(t.sizes, uint32(len(s.Payload)))

	ptsOffset := int32(container.DurationToTimeScale(s.PTS-s.DTS, t.timeScale))
	if ptsOffset != 0 {
		t.hasPTSOffset = true
	}
	if ptsOffset < 0 {
		t.hasNegativeCTTS = true
	}
	t.ptsOffsets = append(t.ptsOffsets, ptsOffset)

	if s.IsSync {
		t.syncSamples = append(t.syncSamples, uint32(len(t.sizes)))
	} else {
		t.allSync = false
	}

	// samples that are contiguous in the file belong to the same chunk
	if len(t.chunks) != 0 && offset == t.lastSampleEnd {
		t.chunks[len(t.chunks)-1].sampleCount++
	} else {
		t.chunks = append(t.chunks, &chunk{
			offset:      offset,
			sampleCount: 1,
		})
		if offset > t.maxChunkOffset {
			t.maxChunkOffset = offset
		}
	}
	t.lastSampleEnd = offset + uint64(len(s.Payload))
}

// emptyDuration returns the duration, in movie time scale, of the gap
// between the beginning of the session and the first sample.
func (t *track) emptyDuration() uint64 {
	if t.firstDTS <= 0 {
		return 0
	}
	return uint64(container.DurationToTimeScale(t.firstDTS, movieTimeScale))
}

// mediaTime returns the position, in track time scale, where presentation begins.
func (t *track) mediaTime() int64 {
	return t.firstPTSOffset + t.trimAtStart
}

// presentationDuration returns the duration, in movie time scale, of the media edit.
func (t *track) presentationDuration() uint64 {
	d := int64(t.mediaDuration) - t.trimAtStart
	if d < 0 {
		d = 0
	}
	return uint64(container.DurationToTimeScale(
		container.TimeScaleToDuration(d, t.timeScale), movieTimeScale))
}

func (t *track) duration() uint64 {
	return t.emptyDuration() + t.presentationDuration()
}

func (t *track) dimensions() (int, int, error) {
	switch tcodec := t.codec.(type) {
	case *codecs.H264:
		return tcodec.Dimensions()

	case *codecs.H265:
		return tcodec.Dimensions()
	}

	return 0, 0, nil
}

func (t *track) marshal(w *mp4Writer) error {
	/*
		   trak
		   - tkhd
		   - edts
		     - elst
		   - mdia
			 - mdhd
			 - hdlr
			 - minf
			   - vmhd (video)
			   - smhd (audio)
			   - dinf
				 - dref
				   - url
			   - stbl
				 - stsd
				   - avc1 (h264)
					 - avcC
					 - btrt
				   - hev1 (h265)
					 - hvcC
				   - mp4a (mpeg4audio)
					 - esds
					 - btrt
				 - stts
				 - ctts
				 - stss
				 - stsc
				 - stsz
				 - stco / co64
	*/

	_, err := w.writeBoxStart(&gomp4.Trak{}) // <trak>
	if err != nil {
		return err
	}

	width, height, err := t.dimensions()
	if err != nil {
		return fmt.Errorf("unable to parse SPS: %w", err)
	}

	err = t.marshalTkhd(w, width, height)
	if err != nil {
		return err
	}

	err = t.marshalEdts(w)
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Mdia{}) // <mdia>
	if err != nil {
		return err
	}

	mdhd := &gomp4.Mdhd{ // <mdhd/>
		Timescale: t.timeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	}
	if t.mediaDuration > math.MaxUint32 {
		mdhd.FullBox.Version = 1
		mdhd.DurationV1 = t.mediaDuration
	} else {
		mdhd.DurationV0 = uint32(t.mediaDuration)
	}
	_, err = w.writeBox(mdhd)
	if err != nil {
		return err
	}

	if t.codec.IsVideo() {
		_, err = w.writeBox(&gomp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'v', 'i', 'd', 'e'},
			Name:        "VideoHandler",
		})
	} else {
		_, err = w.writeBox(&gomp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'s', 'o', 'u', 'n'},
			Name:        "SoundHandler",
		})
	}
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Minf{}) // <minf>
	if err != nil {
		return err
	}

	if t.codec.IsVideo() {
		_, err = w.writeBox(&gomp4.Vmhd{ // <vmhd/>
			FullBox: gomp4.FullBox{
				Flags: [3]byte{0, 0, 1},
			},
		})
	} else {
		_, err = w.writeBox(&gomp4.Smhd{ // <smhd/>
		})
	}
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Dinf{}) // <dinf>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Dref{ // <dref>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	_, err = w.writeBox(&gomp4.Url{ // <url/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </dref>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </dinf>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Stbl{}) // <stbl>
	if err != nil {
		return err
	}

	err = t.marshalStsd(w, width, height)
	if err != nil {
		return err
	}

	err = t.marshalSampleTables(w)
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </stbl>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </minf>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </mdia>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </trak>
	if err != nil {
		return err
	}

	return nil
}

func (t *track) marshalTkhd(w *mp4Writer, width int, height int) error {
	tkhd := &gomp4.Tkhd{ // <tkhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID: uint32(t.id),
		Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
	}

	duration := t.duration()
	if duration > math.MaxUint32 {
		tkhd.FullBox.Version = 1
		tkhd.DurationV1 = duration
	} else {
		tkhd.DurationV0 = uint32(duration)
	}

	if t.codec.IsVideo() {
		tkhd.Width = uint32(width * 65536)
		tkhd.Height = uint32(height * 65536)
	} else {
		tkhd.AlternateGroup = 1
		tkhd.Volume = 256
	}

	_, err := w.writeBox(tkhd)
	return err
}

func (t *track) marshalEdts(w *mp4Writer) error {
	emptyDuration := t.emptyDuration()
	mediaTime := t.mediaTime()

	if emptyDuration == 0 && mediaTime == 0 {
		return nil
	}

	var entries []gomp4.ElstEntry

	if emptyDuration != 0 {
		entries = append(entries, gomp4.ElstEntry{
			SegmentDurationV0: uint32(emptyDuration),
			MediaTimeV0:       -1,
			MediaRateInteger:  1,
		})
	}

	entries = append(entries, gomp4.ElstEntry{
		SegmentDurationV0: uint32(t.presentationDuration()),
		MediaTimeV0:       int32(mediaTime),
		MediaRateInteger:  1,
	})

	_, err := w.writeBoxStart(&gomp4.Edts{}) // <edts>
	if err != nil {
		return err
	}

	_, err = w.writeBox(&gomp4.Elst{ // <elst/>
		EntryCount: uint32(len(entries)),
		Entries:    entries,
	})
	if err != nil {
		return err
	}

	return w.writeBoxEnd() // </edts>
}

func (t *track) marshalStsd(w *mp4Writer, width int, height int) error {
	_, err := w.writeBoxStart(&gomp4.Stsd{ // <stsd>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	switch tcodec := t.codec.(type) {
	case *codecs.H264:
		var spsp h264.SPS
		err = spsp.Unmarshal(tcodec.SPS)
		if err != nil {
			return err
		}

		_, err = w.writeBoxStart(&gomp4.VisualSampleEntry{ // <avc1>
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox: gomp4.AnyTypeBox{
					Type: gomp4.BoxTypeAvc1(),
				},
				DataReferenceIndex: 1,
			},
			Width:           uint16(width),
			Height:          uint16(height),
			Horizresolution: 4718592,
			Vertresolution:  4718592,
			FrameCount:      1,
			Depth:           24,
			PreDefined3:     -1,
		})
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.AVCDecoderConfiguration{ // <avcc/>
			AnyTypeBox: gomp4.AnyTypeBox{
				Type: gomp4.BoxTypeAvcC(),
			},
			ConfigurationVersion:       1,
			Profile:                    spsp.ProfileIdc,
			ProfileCompatibility:       tcodec.SPS[2],
			Level:                      spsp.LevelIdc,
			LengthSizeMinusOne:         3,
			NumOfSequenceParameterSets: 1,
			SequenceParameterSets: []gomp4.AVCParameterSet{
				{
					Length:  uint16(len(tcodec.SPS)),
					NALUnit: tcodec.SPS,
				},
			},
			NumOfPictureParameterSets: 1,
			PictureParameterSets: []gomp4.AVCParameterSet{
				{
					Length:  uint16(len(tcodec.PPS)),
					NALUnit: tcodec.PPS,
				},
			},
		})
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.Btrt{ // <btrt/>
			MaxBitrate: 1000000,
			AvgBitrate: 1000000,
		})
		if err != nil {
			return err
		}

		err = w.writeBoxEnd() // </avc1>
		if err != nil {
			return err
		}

	case *codecs.H265:
		var spsp h265.SPS
		err = spsp.Unmarshal(tcodec.SPS)
		if err != nil {
			return err
		}

		_, err = w.writeBoxStart(&gomp4.VisualSampleEntry{ // <hev1>
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox: gomp4.AnyTypeBox{
					Type: gomp4.BoxTypeHev1(),
				},
				DataReferenceIndex: 1,
			},
			Width:           uint16(width),
			Height:          uint16(height),
			Horizresolution: 4718592,
			Vertresolution:  4718592,
			FrameCount:      1,
			Depth:           24,
			PreDefined3:     -1,
		})
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.HvcC{ // <hvcC/>
			ConfigurationVersion:        1,
			GeneralProfileIdc:           spsp.ProfileTierLevel.GeneralProfileIdc,
			GeneralProfileCompatibility: spsp.ProfileTierLevel.GeneralProfileCompatibilityFlag,
			GeneralConstraintIndicator: [6]uint8{
				tcodec.SPS[7], tcodec.SPS[8], tcodec.SPS[9],
				tcodec.SPS[10], tcodec.SPS[11], tcodec.SPS[12],
			},
			GeneralLevelIdc:      spsp.ProfileTierLevel.GeneralLevelIdc,
			ChromaFormatIdc:      uint8(spsp.ChromaFormatIdc),
			BitDepthLumaMinus8:   uint8(spsp.BitDepthLumaMinus8),
			BitDepthChromaMinus8: uint8(spsp.BitDepthChromaMinus8),
			NumTemporalLayers:    1,
			LengthSizeMinusOne:   3,
			NumOfNaluArrays:      3,
			NaluArrays: []gomp4.HEVCNaluArray{
				{
					NaluType: byte(h265.NALUType_VPS_NUT),
					NumNalus: 1,
					Nalus: []gomp4.HEVCNalu{{
						Length:  uint16(len(tcodec.VPS)),
						NALUnit: tcodec.VPS,
					}},
				},
				{
					NaluType: byte(h265.NALUType_SPS_NUT),
					NumNalus: 1,
					Nalus: []gomp4.HEVCNalu{{
						Length:  uint16(len(tcodec.SPS)),
						NALUnit: tcodec.SPS,
					}},
				},
				{
					NaluType: byte(h265.NALUType_PPS_NUT),
					NumNalus: 1,
					Nalus: []gomp4.HEVCNalu{{
						Length:  uint16(len(tcodec.PPS)),
						NALUnit: tcodec.PPS,
					}},
				},
			},
		})
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.Btrt{ // <btrt/>
			MaxBitrate: 1000000,
			AvgBitrate: 1000000,
		})
		if err != nil {
			return err
		}

		err = w.writeBoxEnd() // </hev1>
		if err != nil {
			return err
		}

	case *codecs.MPEG4Audio:
		_, err = w.writeBoxStart(&gomp4.AudioSampleEntry{ // <mp4a>
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox: gomp4.AnyTypeBox{
					Type: gomp4.BoxTypeMp4a(),
				},
				DataReferenceIndex: 1,
			},
			ChannelCount: uint16(tcodec.Config.ChannelCount),
			SampleSize:   16,
			SampleRate:   uint32(tcodec.Config.SampleRate * 65536),
		})
		if err != nil {
			return err
		}

		enc, err := tcodec.Config.Marshal()
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.Esds{ // <esds/>
			Descriptors: []gomp4.Descriptor{
				{
					Tag:  gomp4.ESDescrTag,
					Size: 32 + uint32(len(enc)),
					ESDescriptor: &gomp4.ESDescriptor{
						ESID: uint16(t.id),
					},
				},
				{
					Tag:  gomp4.DecoderConfigDescrTag,
					Size: 18 + uint32(len(enc)),
					DecoderConfigDescriptor: &gomp4.DecoderConfigDescriptor{
						ObjectTypeIndication: 0x40,
						StreamType:           0x05,
						UpStream:             false,
						Reserved:             true,
						MaxBitrate:           128825,
						AvgBitrate:           128825,
					},
				},
				{
					Tag:  gomp4.DecSpecificInfoTag,
					Size: uint32(len(enc)),
					Data: enc,
				},
				{
					Tag:  gomp4.SLConfigDescrTag,
					Size: 1,
					Data: []byte{0x02},
				},
			},
		})
		if err != nil {
			return err
		}

		_, err = w.writeBox(&gomp4.Btrt{ // <btrt/>
			MaxBitrate: 128825,
			AvgBitrate: 128825,
		})
		if err != nil {
			return err
		}

		err = w.writeBoxEnd() // </mp4a>
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported codec: %T", t.codec)
	}

	return w.writeBoxEnd() // </stsd>
}

func (t *track) marshalSampleTables(w *mp4Writer) error {
	// stts: run-length encoded durations
	var sttsEntries []gomp4.SttsEntry
	for _, d := range t.durations {
		if len(sttsEntries) != 0 && sttsEntries[len(sttsEntries)-1].SampleDelta == d {
			sttsEntries[len(sttsEntries)-1].SampleCount++
		} else {
			sttsEntries = append(sttsEntries, gomp4.SttsEntry{
				SampleCount: 1,
				SampleDelta: d,
			})
		}
	}

	_, err := w.writeBox(&gomp4.Stts{ // <stts/>
		EntryCount: uint32(len(sttsEntries)),
		Entries:    sttsEntries,
	})
	if err != nil {
		return err
	}

	if t.hasPTSOffset {
		ctts := &gomp4.Ctts{}
		if t.hasNegativeCTTS {
			ctts.FullBox.Version = 1
		}

		for _, o := range t.ptsOffsets {
			n := len(ctts.Entries)
			if n != 0 && ctts.Entries[n-1].SampleOffsetV1 == o {
				ctts.Entries[n-1].SampleCount++
				continue
			}

			e := gomp4.CttsEntry{
				SampleCount:    1,
				SampleOffsetV1: o,
			}
			if !t.hasNegativeCTTS {
				e.SampleOffsetV0 = uint32(o)
			}
			ctts.Entries = append(ctts.Entries, e)
		}
		ctts.EntryCount = uint32(len(ctts.Entries))

		_, err = w.writeBox(ctts) // <ctts/>
		if err != nil {
			return err
		}
	}

	if t.codec.IsVideo() && !t.allSync {
		_, err = w.writeBox(&gomp4.Stss{ // <stss/>
			EntryCount:   uint32(len(t.syncSamples)),
			SampleNumber: t.syncSamples,
		})
		if err != nil {
			return err
		}
	}

	// stsc: run-length encoded samples per chunk
	var stscEntries []gomp4.StscEntry
	for i, c := range t.chunks {
		if len(stscEntries) != 0 && stscEntries[len(stscEntries)-1].SamplesPerChunk == c.sampleCount {
			continue
		}
		stscEntries = append(stscEntries, gomp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        c.sampleCount,
			SampleDescriptionIndex: 1,
		})
	}

	_, err = w.writeBox(&gomp4.Stsc{ // <stsc/>
		EntryCount: uint32(len(stscEntries)),
		Entries:    stscEntries,
	})
	if err != nil {
		return err
	}

	_, err = w.writeBox(&gomp4.Stsz{ // <stsz/>
		SampleCount: uint32(len(t.sizes)),
		EntrySize:   t.sizes,
	})
	if err != nil {
		return err
	}

	if t.maxChunkOffset > math.MaxUint32 {
		offsets := make([]uint64, len(t.chunks))
		for i, c := range t.chunks {
			offsets[i] = c.offset
		}

		_, err = w.writeBox(&gomp4.Co64{ // <co64/>
			EntryCount:  uint32(len(offsets)),
			ChunkOffset: offsets,
		})
		return err
	}

	offsets := make([]uint32, len(t.chunks))
	for i, c := range t.chunks {
		offsets[i] = uint32(c.offset)
	}

	_, err = w.writeBox(&gomp4.Stco{ // <stco/>
		EntryCount:  uint32(len(offsets)),
		ChunkOffset: offsets,
	})
	return err
}
