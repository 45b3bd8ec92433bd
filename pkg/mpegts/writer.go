// Package mpegts contains a MPEG-TS writer and related utilities.
package mpegts

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
	"github.com/bluenviron/gomp4mux/pkg/storage"
)

const (
	pcrOffset = 400 * time.Millisecond // 2 samples @ 5fps
	firstPID  = 256
)

func durationToTS(d time.Duration) int64 {
	return container.DurationToTimeScale(d, clockRate)
}

type writerTrack struct {
	pid   uint16
	codec codecs.Codec
}

func (t *writerTrack) streamType() astits.StreamType {
	switch t.codec.(type) {
	case *codecs.H264:
		return astits.StreamTypeH264Video
	case *codecs.H265:
		return astits.StreamTypeH265Video
	default:
		return astits.StreamTypeAACAudio
	}
}

// Writer is a MPEG-TS writer.
// Video samples are converted from length-prefixed units into Annex-B access units,
// while audio samples are wrapped into ADTS.
// The program map table is generated when the first sample is appended,
// therefore tracks must be added before that.
// Leading trims are not supported and are ignored.
type Writer struct {
	// Storage of the output file.
	// It defaults to disk.
	Factory storage.Factory

	mutex          sync.Mutex
	file           storage.File
	bw             *bufio.Writer
	tsw            *astits.Muxer
	tracks         []*writerTrack
	locked         bool
	pcrTrack       *writerTrack
	pcrCounter     int
	sessionStarted bool
	sessionStart   time.Duration
	finalized      bool
	err            error
}

var _ container.Writer = (*Writer)(nil)

// Open implements container.Writer.
func (w *Writer) Open(fpath string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file != nil {
		return fmt.Errorf("writer is already open")
	}

	if w.Factory == nil {
		w.Factory = storage.NewFactoryDisk("")
	}

	f, err := w.Factory.NewFile(fpath)
	if err != nil {
		return err
	}

	w.file = f
	w.bw = bufio.NewWriter(f)
	w.tsw = astits.NewMuxer(context.Background(), w.bw)

	return nil
}

// AddTrack implements container.Writer.
func (w *Writer) AddTrack(codec codecs.Codec) (container.TrackHandle, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("writer is not open")
	}

	if w.locked || w.finalized {
		return 0, container.ErrTracksLocked
	}

	switch codec.(type) {
	case *codecs.H264, *codecs.H265, *codecs.MPEG4Audio:
	default:
		return 0, fmt.Errorf("unsupported codec: %T", codec)
	}

	t := &writerTrack{
		pid:   uint16(firstPID + len(w.tracks)),
		codec: codec,
	}
	w.tracks = append(w.tracks, t)

	return container.TrackHandle(len(w.tracks)), nil
}

// BeginSession implements container.Writer.
func (w *Writer) BeginSession(at time.Duration) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return fmt.Errorf("writer is not open")
	}

	if w.sessionStarted {
		return fmt.Errorf("session already started")
	}

	w.sessionStarted = true
	w.sessionStart = at
	return nil
}

func (w *Writer) track(h container.TrackHandle) *writerTrack {
	i := int(h) - 1
	if i < 0 || i >= len(w.tracks) {
		return nil
	}
	return w.tracks[i]
}

// IsReady implements container.Writer.
func (w *Writer) IsReady(h container.TrackHandle) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.sessionStarted && !w.finalized && w.err == nil && w.track(h) != nil
}

func (w *Writer) lock() {
	w.locked = true

	for _, t := range w.tracks {
		w.tsw.AddElementaryStream(astits.PMTElementaryStream{ //nolint:errcheck
			ElementaryPID: t.pid,
			StreamType:    t.streamType(),
		})

		if w.pcrTrack == nil && t.codec.IsVideo() {
			w.pcrTrack = t
		}
	}

	if w.pcrTrack == nil {
		w.pcrTrack = w.tracks[0]
	}

	// WriteTable() is not necessary
	// since it's called automatically when WriteData() is called with
	// * PID == PCRPID
	// * AdaptationField != nil
	// * RandomAccessIndicator = true
	w.tsw.SetPCRPID(w.pcrTrack.pid)
}

// Append implements container.Writer.
func (w *Writer) Append(h container.TrackHandle, s *container.Sample) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.sessionStarted {
		return fmt.Errorf("session not started")
	}

	if w.finalized {
		return fmt.Errorf("writer is finalized")
	}

	if w.err != nil {
		return w.err
	}

	t := w.track(h)
	if t == nil {
		return fmt.Errorf("invalid track: %d", h)
	}

	if !w.locked {
		w.lock()
	}

	pts := s.PTS - w.sessionStart
	dts := s.DTS - w.sessionStart

	var err error
	if t.codec.IsVideo() {
		err = w.writeVideo(t, dts, pts, s)
	} else {
		err = w.writeAudio(t, pts, s)
	}
	if err != nil {
		w.err = err
		return err
	}

	return nil
}

func (w *Writer) pcr(t *writerTrack, dts time.Duration) *astits.ClockReference {
	if t != w.pcrTrack {
		return nil
	}

	// send PCR once in a while
	if w.pcrCounter != 0 {
		w.pcrCounter--
		return nil
	}

	w.pcrCounter = 2
	return &astits.ClockReference{Base: durationToTS(dts)}
}

func annexB(t *writerTrack, payload []byte, isSync bool) ([]byte, error) {
	var avcc h264.AVCC
	err := avcc.Unmarshal(payload)
	if err != nil {
		return nil, err
	}

	// prepend an AUD. This is required by video.js and iOS.
	// Parameter sets are repeated before random access points.
	var nalus [][]byte

	switch codec := t.codec.(type) {
	case *codecs.H264:
		nalus = [][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}
		if isSync {
			nalus = append(nalus, codec.SPS, codec.PPS)
		}

	case *codecs.H265:
		nalus = [][]byte{{byte(h265.NALUType_AUD_NUT) << 1, 1, 0x50}}
		if isSync {
			nalus = append(nalus, codec.VPS, codec.SPS, codec.PPS)
		}
	}

	return h264.AnnexB(append(nalus, avcc...)).Marshal()
}

func (w *Writer) writeVideo(t *writerTrack, dts time.Duration, pts time.Duration, s *container.Sample) error {
	enc, err := annexB(t, s.Payload, s.IsSync)
	if err != nil {
		return err
	}

	var af *astits.PacketAdaptationField

	if s.IsSync {
		af = &astits.PacketAdaptationField{}
		af.RandomAccessIndicator = true
	}

	if pcr := w.pcr(t, dts); pcr != nil {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = pcr
	}

	oh := &astits.PESOptionalHeader{
		MarkerBits: 2,
	}

	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: durationToTS(pts + pcrOffset)}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: durationToTS(dts + pcrOffset)}
		oh.PTS = &astits.ClockReference{Base: durationToTS(pts + pcrOffset)}
	}

	_, err = w.tsw.WriteData(&astits.MuxerData{
		PID:             t.pid,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       224, // video
			},
			Data: enc,
		},
	})
	return err
}

func (w *Writer) writeAudio(t *writerTrack, pts time.Duration, s *container.Sample) error {
	conf := t.codec.(*codecs.MPEG4Audio).Config

	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         conf.Type,
			SampleRate:   conf.SampleRate,
			ChannelCount: conf.ChannelCount,
			AU:           s.Payload,
		},
	}

	enc, err := pkts.Marshal()
	if err != nil {
		return err
	}

	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: true,
	}

	if pcr := w.pcr(t, pts); pcr != nil {
		af.HasPCR = true
		af.PCR = pcr
	}

	_, err = w.tsw.WriteData(&astits.MuxerData{
		PID:             t.pid,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: durationToTS(pts + pcrOffset)},
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     192, // audio
			},
			Data: enc,
		},
	})
	return err
}

// Finalize implements container.Writer.
func (w *Writer) Finalize(onComplete func(error)) {
	onComplete(w.finalize())
}

func (w *Writer) finalize() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return fmt.Errorf("writer is not open")
	}

	if w.finalized {
		return fmt.Errorf("writer is already finalized")
	}
	w.finalized = true

	if w.err != nil {
		w.file.Finalize() //nolint:errcheck
		return w.err
	}

	err := w.bw.Flush()
	if err != nil {
		w.file.Finalize() //nolint:errcheck
		return err
	}

	return w.file.Finalize()
}
