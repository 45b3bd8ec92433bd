// Package container contains the interface between the multiplexer and container writers.
package container

import (
	"errors"
	"time"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
)

// ErrTracksLocked is returned by AddTrack when the writer
// does not accept new tracks anymore.
var ErrTracksLocked = errors.New("tracks cannot be added after the header has been written")

// TrackHandle identifies a track inside a Writer.
type TrackHandle int

// Sample is a timed sample, ready to be stored into a container.
type Sample struct {
	// payload. Video samples are a sequence of length-prefixed NAL units.
	Payload []byte

	// presentation timestamp.
	PTS time.Duration

	// decode timestamp.
	DTS time.Duration

	// duration.
	Duration time.Duration

	// whether the sample is a random access point.
	IsSync bool

	// amount of media to skip at the beginning of the track.
	// It is used to compensate encoder priming.
	TrimAtStart time.Duration
}

// Writer writes timed samples into a container file.
type Writer interface {
	// Open opens the output file.
	Open(fpath string) error

	// AddTrack adds a track, described by its codec.
	AddTrack(codec codecs.Codec) (TrackHandle, error)

	// BeginSession starts a writing session.
	// Timestamps of samples are relative to at.
	BeginSession(at time.Duration) error

	// IsReady returns whether the track is able to receive samples.
	IsReady(h TrackHandle) bool

	// Append writes a sample into a track.
	Append(h TrackHandle, s *Sample) error

	// Finalize completes the file and closes it.
	// onComplete is called once, with the resulting error, if any.
	Finalize(onComplete func(error))
}
