// Package fmp4 contains a fragmented MP4 writer.
package fmp4

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
	"github.com/bluenviron/gomp4mux/pkg/storage"
)

type writerTrack struct {
	id        int
	codec     codecs.Codec
	timeScale uint32

	nextDTS  int64
	started  bool
	baseTime uint64
	samples  []*fmp4.Sample
}

func (t *writerTrack) addSample(s *container.Sample, dts time.Duration) {
	dtsTS := container.DurationToTimeScale(dts, t.timeScale)
	if dtsTS < 0 {
		dtsTS = 0
	}

	if !t.started {
		t.started = true
		t.nextDTS = dtsTS
	}

	if len(t.samples) == 0 {
		t.baseTime = uint64(t.nextDTS)
	}

	endTS := container.DurationToTimeScale(dts+s.Duration, t.timeScale)
	if endTS < t.nextDTS+1 {
		endTS = t.nextDTS + 1
	}

	t.samples = append(t.samples, &fmp4.Sample{
		Duration:        uint32(endTS - t.nextDTS),
		PTSOffset:       int32(container.DurationToTimeScale(s.PTS-s.DTS, t.timeScale)),
		IsNonSyncSample: t.codec.IsVideo() && !s.IsSync,
		Payload:         s.Payload,
	})
	t.nextDTS = endTS
}

// Writer is a fragmented MP4 writer.
// The initialization section is written when the first sample is appended,
// therefore tracks must be added before that.
// Then, samples are grouped into fragments.
// Leading trims are not supported and are ignored.
type Writer struct {
	// Storage of the output file.
	// It defaults to disk.
	Factory storage.Factory

	// Minimum duration of each fragment.
	// Fragments are started on video random access points.
	// It defaults to 1sec.
	FragmentDuration time.Duration

	mutex          sync.Mutex
	file           storage.File
	tracks         []*writerTrack
	initWritten    bool
	sessionStarted bool
	sessionStart   time.Duration
	fragmentStart  time.Duration
	fragmentOpen   bool
	nextSeqNum     uint32
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
	if w.FragmentDuration == 0 {
		w.FragmentDuration = 1 * time.Second
	}

	f, err := w.Factory.NewFile(fpath)
	if err != nil {
		return err
	}

	w.file = f
	w.nextSeqNum = 1

	return nil
}

// AddTrack implements container.Writer.
func (w *Writer) AddTrack(codec codecs.Codec) (container.TrackHandle, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("writer is not open")
	}

	if w.initWritten || w.finalized {
		return 0, container.ErrTracksLocked
	}

	if codecs.ToFMP4(codec) == nil {
		return 0, fmt.Errorf("unsupported codec: %T", codec)
	}

	t := &writerTrack{
		id:        len(w.tracks) + 1,
		codec:     codec,
		timeScale: container.TimeScale(codec),
	}
	w.tracks = append(w.tracks, t)

	return container.TrackHandle(t.id), nil
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

func (w *Writer) hasVideo() bool {
	for _, t := range w.tracks {
		if t.codec.IsVideo() {
			return true
		}
	}
	return false
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

	if !w.initWritten {
		err := w.writeInit()
		if err != nil {
			w.err = err
			return err
		}
	}

	dts := s.DTS - w.sessionStart

	// switch fragment
	if w.fragmentOpen &&
		(dts-w.fragmentStart) >= w.FragmentDuration &&
		((t.codec.IsVideo() && s.IsSync) || !w.hasVideo()) {
		err := w.flush()
		if err != nil {
			w.err = err
			return err
		}
	}

	if !w.fragmentOpen {
		w.fragmentOpen = true
		w.fragmentStart = dts
	}

	t.addSample(s, dts)

	return nil
}

func (w *Writer) writeInit() error {
	init := fmp4.Init{}

	for _, t := range w.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     codecs.ToFMP4(t.codec),
		})
	}

	var buf seekablebuffer.Buffer
	err := init.Marshal(&buf)
	if err != nil {
		return err
	}

	_, err = w.file.Write(buf.Bytes())
	if err != nil {
		return err
	}

	w.initWritten = true
	return nil
}

func (w *Writer) flush() error {
	part := fmp4.Part{
		SequenceNumber: w.nextSeqNum,
	}

	for _, t := range w.tracks {
		if len(t.samples) != 0 {
			part.Tracks = append(part.Tracks, &fmp4.PartTrack{
				ID:       t.id,
				BaseTime: t.baseTime,
				Samples:  t.samples,
			})
			t.samples = nil
		}
	}

	w.fragmentOpen = false

	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	err := part.Marshal(&buf)
	if err != nil {
		return err
	}

	_, err = w.file.Write(buf.Bytes())
	if err != nil {
		return err
	}

	w.nextSeqNum++
	return nil
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

	if !w.initWritten {
		err := w.writeInit()
		if err != nil {
			w.file.Finalize() //nolint:errcheck
			return err
		}
	}

	err := w.flush()
	if err != nil {
		w.file.Finalize() //nolint:errcheck
		return err
	}

	return w.file.Finalize()
}
