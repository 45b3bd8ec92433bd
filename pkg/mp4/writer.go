// Package mp4 contains a progressive MP4 writer.
package mp4

import (
	"fmt"
	"math"
	"sync"
	"time"

	gomp4 "github.com/abema/go-mp4"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
	"github.com/bluenviron/gomp4mux/pkg/storage"
)

// Writer is a progressive MP4 writer.
// Samples are stored into the media data box as soon as they are appended,
// while the movie box, that contains sample tables, is written by Finalize.
type Writer struct {
	// Storage of the output file.
	// It defaults to disk.
	Factory storage.Factory

	mutex          sync.Mutex
	file           storage.File
	w              *mp4Writer
	tracks         []*track
	pos            uint64
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
	w.w = newMP4Writer(f)

	/*
		ftyp
		mdat
	*/

	_, err = w.w.writeBox(&gomp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	})
	if err != nil {
		f.Remove()
		w.file = nil
		return err
	}

	w.pos, err = w.w.writeLargeBoxStart(gomp4.BoxTypeMdat()) // <mdat>
	if err != nil {
		f.Remove()
		w.file = nil
		return err
	}

	return nil
}

// AddTrack implements container.Writer.
func (w *Writer) AddTrack(codec codecs.Codec) (container.TrackHandle, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("writer is not open")
	}

	if w.finalized {
		return 0, fmt.Errorf("writer is finalized")
	}

	switch codec.(type) {
	case *codecs.H264, *codecs.H265, *codecs.MPEG4Audio:
	default:
		return 0, fmt.Errorf("unsupported codec: %T", codec)
	}

	t := newTrack(len(w.tracks)+1, codec)
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

func (w *Writer) track(h container.TrackHandle) *track {
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

	if uint64(len(s.Payload)) > math.MaxUint32 {
		return fmt.Errorf("sample is too big")
	}

	err := w.w.write(s.Payload)
	if err != nil {
		w.err = err
		return err
	}

	t.addSample(w.pos, s, s.DTS-w.sessionStart)
	w.pos += uint64(len(s.Payload))

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

	err := w.w.writeBoxEnd() // </mdat>
	if err != nil {
		w.file.Finalize() //nolint:errcheck
		return err
	}

	err = w.writeMoov()
	if err != nil {
		w.file.Finalize() //nolint:errcheck
		return err
	}

	return w.file.Finalize()
}

func (w *Writer) writeMoov() error {
	/*
		moov
		- mvhd
		- trak
		- trak
	*/

	_, err := w.w.writeBoxStart(&gomp4.Moov{}) // <moov>
	if err != nil {
		return err
	}

	var duration uint64
	for _, t := range w.tracks {
		if d := t.duration(); d > duration {
			duration = d
		}
	}

	mvhd := &gomp4.Mvhd{ // <mvhd/>
		Timescale:   movieTimeScale,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
		NextTrackID: uint32(len(w.tracks) + 1),
	}
	if duration > math.MaxUint32 {
		mvhd.FullBox.Version = 1
		mvhd.DurationV1 = duration
	} else {
		mvhd.DurationV0 = uint32(duration)
	}

	_, err = w.w.writeBox(mvhd)
	if err != nil {
		return err
	}

	for _, t := range w.tracks {
		err = t.marshal(w.w)
		if err != nil {
			return err
		}
	}

	return w.w.writeBoxEnd() // </moov>
}
