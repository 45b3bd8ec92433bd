// Package gomp4mux multiplexes a live H264/H265 and AAC stream into a container file.
package gomp4mux

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomp4mux/pkg/codecparams"
	"github.com/bluenviron/gomp4mux/pkg/container"
	"github.com/bluenviron/gomp4mux/pkg/fmp4"
	"github.com/bluenviron/gomp4mux/pkg/mp4"
	"github.com/bluenviron/gomp4mux/pkg/mpegts"
	"github.com/bluenviron/gomp4mux/pkg/storage"
)

const (
	defaultAudioPriming = 100 * time.Millisecond

	// duration of samples that are not followed by another one.
	minSampleDuration = 10 * time.Microsecond
)

// TimeUnset can be passed in place of a decode timestamp when it is not available.
// The presentation timestamp is used instead.
const TimeUnset time.Duration = math.MinInt64

var (
	// ErrStopped is returned when pushing data into a stopped multiplexer.
	ErrStopped = errors.New("multiplexer is stopped")

	// ErrNotConfigured is returned when pushing data before Configure.
	ErrNotConfigured = errors.New("multiplexer is not configured")
)

// SessionParams are the parameters of a multiplexing session.
type SessionParams struct {
	// Path of the output file.
	Path string

	// Frame rate declared by the producer.
	FrameRate float64

	// Picture size declared by the producer.
	// It is compared with the one stored into the SPS.
	Width  int
	Height int

	// Video codec.
	Codec CodecKind
}

// MultiplexerOnOpenErrorFunc is the prototype of Multiplexer.OnOpenError.
type MultiplexerOnOpenErrorFunc func(err error)

// Multiplexer receives length-prefixed video units and audio frames
// and writes them into a container file, from a dedicated goroutine.
type Multiplexer struct {
	//
	// parameters (all optional).
	//
	// Format of the output file.
	// It defaults to ContainerFormatMP4.
	Format ContainerFormat
	// Container writer.
	// When set, it overrides Format and Storage.
	Writer container.Writer
	// Storage of the output file.
	// It defaults to disk.
	Storage storage.Factory
	// Amount of audio to skip at the beginning, to compensate encoder priming.
	// It defaults to 100ms. A negative value disables priming.
	AudioPriming time.Duration

	//
	// callbacks (all optional).
	//
	// called when the output file cannot be opened.
	OnOpenError MultiplexerOnOpenErrorFunc
	// called when there's a log.
	Log LogFunc

	//
	// private
	//

	mutex      sync.Mutex
	cond       *sync.Cond
	params     SessionParams
	configured bool
	stopping   atomic.Bool
	state      WriterState
	onStopped  []func()

	paramSets  parameterSets
	videoTrack *muxerTrack
	audioTrack *muxerTrack

	// session clock
	sessionStarted      bool
	firstVideoFrameTime time.Duration
	lastVideoFrameTime  time.Duration

	// accessed by the writer goroutine only
	sessionBegun  bool
	sessionFailed bool
	audioPrimed   bool
}

// Configure sets the session parameters and starts the writer goroutine.
// It can be called once.
func (m *Multiplexer) Configure(params SessionParams) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.configured {
		return fmt.Errorf("multiplexer is already configured")
	}

	if m.stopping.Load() {
		return ErrStopped
	}

	if params.Path == "" {
		return fmt.Errorf("path is empty")
	}

	if m.Format == 0 {
		m.Format = ContainerFormatMP4
	}
	if m.AudioPriming == 0 {
		m.AudioPriming = defaultAudioPriming
	}
	if m.Log == nil {
		m.Log = defaultLog
	}

	if m.Writer == nil {
		switch m.Format {
		case ContainerFormatMP4:
			m.Writer = &mp4.Writer{Factory: m.Storage}

		case ContainerFormatFMP4:
			m.Writer = &fmp4.Writer{Factory: m.Storage}

		case ContainerFormatMPEGTS:
			m.Writer = &mpegts.Writer{Factory: m.Storage}

		default:
			return fmt.Errorf("unsupported container format: %d", m.Format)
		}
	}

	m.params = params
	m.configured = true
	m.cond = sync.NewCond(&m.mutex)
	m.state = WriterStateOpening
	m.videoTrack = &muxerTrack{name: "video"}
	m.audioTrack = &muxerTrack{name: "audio"}

	m.Log(LogLevelInfo, "session: path=%s, fps=%v, size=%dx%d, codec=%v",
		params.Path, params.FrameRate, params.Width, params.Height, params.Codec)

	go m.run()

	return nil
}

func (m *Multiplexer) checkPush() error {
	if !m.configured {
		return ErrNotConfigured
	}

	if m.stopping.Load() || m.state == WriterStateStopped {
		return ErrStopped
	}

	return nil
}

// PushVideoUnit pushes a video unit, made of a 4-byte length prefix and a NAL unit.
// Parameter sets are stored, while coded units are queued for writing.
// Pass TimeUnset as dts when the decode timestamp is not available.
func (m *Multiplexer) PushVideoUnit(buf []byte, pts time.Duration, dts time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkPush()
	if err != nil {
		return err
	}

	t := m.videoTrack

	class, err := classifyNAL(m.params.Codec, buf)
	if err != nil {
		t.counters.rejected.Add(1)
		m.Log(LogLevelError, "unable to push video unit: %v", err)
		return err
	}

	if !t.firstUnitSeen {
		t.firstUnitSeen = true
		m.Log(LogLevelDebug, "first video unit received (type %d)", class.raw)
	}

	if class.typ != NALTypeCoded {
		if m.paramSets.store(class.typ, buf[lengthPrefixSize:]) {
			m.Log(LogLevelDebug, "stored %v", class.typ)
		}

		if t.codec == nil {
			m.initializeVideoTrack()
		}
		return nil
	}

	s := newTimedSample(buf, pts, dts, class.randomAccess)

	if !m.sessionStarted {
		m.sessionStarted = true
		m.firstVideoFrameTime = s.dts
		m.Log(LogLevelDebug, "session starts at %v", s.dts)
	}
	m.lastVideoFrameTime = s.pts

	t.queue.push(s)
	t.counters.enqueued.Add(1)
	m.cond.Signal()

	return nil
}

func (m *Multiplexer) initializeVideoTrack() {
	if !m.paramSets.complete(m.params.Codec) {
		return
	}

	codec, width, height, err := newVideoCodec(m.params.Codec, &m.paramSets)
	if err != nil {
		m.Log(LogLevelError, "unable to create video format: %v", err)
		return
	}

	if (m.params.Width != 0 && m.params.Width != width) ||
		(m.params.Height != 0 && m.params.Height != height) {
		m.Log(LogLevelWarn, "picture size of SPS (%dx%d) differs from the declared one (%dx%d)",
			width, height, m.params.Width, m.params.Height)
	}

	m.videoTrack.codec = codec
	m.Log(LogLevelDebug, "video format created: %s, %dx%d", codecparams.Marshal(codec), width, height)

	// let the writer attach the track
	m.cond.Signal()
}

// PushAudioFrame pushes an AAC frame.
// The first call must contain the AudioSpecificConfig of the stream,
// and is used to create the audio track. sampleRate and channelCount are used when
// the configuration cannot be decoded, and ignored in subsequent calls.
// Frames are discarded until the first coded video unit has been received.
// Pass TimeUnset as dts when the decode timestamp is not available.
func (m *Multiplexer) PushAudioFrame(
	buf []byte,
	pts time.Duration,
	dts time.Duration,
	sampleRate int,
	channelCount int,
) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkPush()
	if err != nil {
		return err
	}

	t := m.audioTrack

	if t.codec == nil {
		codec, err := newAudioCodec(buf, sampleRate, channelCount)
		if err != nil {
			t.counters.rejected.Add(1)
			m.Log(LogLevelError, "unable to create audio format: %v", err)
			return err
		}

		t.codec = codec
		t.firstUnitSeen = true
		m.Log(LogLevelDebug, "audio format created: %s, %d Hz, %d channels, %d samples per frame",
			codecparams.Marshal(codec), codec.Config.SampleRate, codec.Config.ChannelCount, aacFramesPerPacket)

		// let the writer attach the track
		m.cond.Signal()
		return nil
	}

	if !m.sessionStarted || pts <= m.firstVideoFrameTime {
		t.counters.rejected.Add(1)
		return nil
	}

	t.queue.push(newTimedSample(buf, pts, dts, true))
	t.counters.enqueued.Add(1)
	m.cond.Signal()

	return nil
}

// Stop stops the multiplexer.
// Queued samples are written, then the file is finalized and onStopped is called.
// onStopped is called exactly once, even if the file cannot be finalized.
func (m *Multiplexer) Stop(onStopped func()) {
	if onStopped == nil {
		onStopped = func() {}
	}

	m.mutex.Lock()

	m.stopping.Store(true)

	if !m.configured || m.state == WriterStateStopped {
		m.mutex.Unlock()
		onStopped()
		return
	}

	m.onStopped = append(m.onStopped, onStopped)

	m.mutex.Unlock()

	m.cond.Broadcast()
}

// State returns the state of the writer goroutine.
func (m *Multiplexer) State() WriterState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Stats returns statistics about the session.
func (m *Multiplexer) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.configured {
		return Stats{}
	}

	return Stats{
		State:               m.state,
		SessionStarted:      m.sessionStarted,
		FirstVideoFrameTime: m.firstVideoFrameTime,
		LastVideoFrameTime:  m.lastVideoFrameTime,
		Video:               m.videoTrack.stats(),
		Audio:               m.audioTrack.stats(),
	}
}
