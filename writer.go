package gomp4mux

import (
	"sync"

	"github.com/bluenviron/gomp4mux/pkg/codecparams"
	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
)

// WriterState is the state of the writer goroutine.
type WriterState int

// writer states.
const (
	// Configure has not been called yet.
	WriterStateIdle WriterState = iota

	// the output file is being opened.
	WriterStateOpening

	// samples are written as soon as their duration is known.
	WriterStateRunning

	// Stop has been called and queued samples are being written.
	WriterStateDraining

	// the output file is being finalized.
	WriterStateFinalizing

	// the writer goroutine has exited.
	WriterStateStopped
)

// String implements fmt.Stringer.
func (s WriterState) String() string {
	switch s {
	case WriterStateIdle:
		return "idle"
	case WriterStateOpening:
		return "opening"
	case WriterStateRunning:
		return "running"
	case WriterStateDraining:
		return "draining"
	case WriterStateFinalizing:
		return "finalizing"
	case WriterStateStopped:
		return "stopped"
	}
	return "unknown"
}

func (m *Multiplexer) run() {
	err := m.Writer.Open(m.params.Path)
	if err != nil {
		m.Log(LogLevelError, "unable to open %s: %v", m.params.Path, err)

		if m.OnOpenError != nil {
			m.OnOpenError(err)
		}

		m.terminate()
		return
	}

	m.mutex.Lock()
	m.state = WriterStateRunning
	m.mutex.Unlock()

	for {
		m.mutex.Lock()

		m.prepare()

		draining := m.stopping.Load()
		if draining {
			m.state = WriterStateDraining

			if m.videoTrack.queue.len() == 0 && m.audioTrack.queue.len() == 0 {
				m.mutex.Unlock()
				break
			}
		}

		video := m.videoTrack.popReady(draining)
		audio := m.audioTrack.popReady(draining)

		m.mutex.Unlock()

		// samples are written outside the lock, in order not to block producers.
		m.writeSample(m.videoTrack, video)
		m.writeSample(m.audioTrack, audio)

		m.mutex.Lock()
		if !m.stopping.Load() &&
			m.videoTrack.queue.len() < 2 &&
			m.audioTrack.queue.len() < 2 &&
			!m.needsPrepare() {
			m.cond.Wait()
		}
		m.mutex.Unlock()
	}

	m.mutex.Lock()
	m.state = WriterStateFinalizing
	tracks := m.attachedCodecs()
	m.mutex.Unlock()

	var once sync.Once

	m.Writer.Finalize(func(err error) {
		once.Do(func() {
			if err != nil {
				m.Log(LogLevelError, "unable to finalize %s: %v", m.params.Path, err)
			} else {
				m.Log(LogLevelInfo, "file %s finalized (%s)", m.params.Path, codecparams.MarshalAll(tracks))
			}

			m.terminate()
		})
	})
}

// terminate moves the writer into the stopped state and calls stop callbacks.
// Samples still in queue, that exist only when the output file could not be opened,
// are discarded.
func (m *Multiplexer) terminate() {
	m.mutex.Lock()
	m.state = WriterStateStopped
	m.videoTrack.discardAll()
	m.audioTrack.discardAll()
	onStopped := m.onStopped
	m.onStopped = nil
	m.mutex.Unlock()

	for _, cb := range onStopped {
		cb()
	}
}

func (m *Multiplexer) needsPrepare() bool {
	return m.videoTrack.needsAttach() ||
		m.audioTrack.needsAttach() ||
		(m.sessionStarted && !m.sessionBegun && !m.sessionFailed)
}

// prepare attaches tracks to the container writer and begins the session.
func (m *Multiplexer) prepare() {
	for _, t := range []*muxerTrack{m.videoTrack, m.audioTrack} {
		if !t.needsAttach() {
			continue
		}

		h, err := m.Writer.AddTrack(t.codec)
		if err != nil {
			t.attachFailed = true
			m.Log(LogLevelError, "unable to add %s track: %v", t.name, err)
			continue
		}

		t.handle = h
		t.attached = true
		m.Log(LogLevelInfo, "%s track added (%s)", t.name, codecparams.Marshal(t.codec))
	}

	if m.sessionStarted && !m.sessionBegun && !m.sessionFailed {
		err := m.Writer.BeginSession(m.firstVideoFrameTime)
		if err != nil {
			m.sessionFailed = true
			m.Log(LogLevelError, "unable to begin session: %v", err)
			return
		}

		m.sessionBegun = true
	}
}

func (m *Multiplexer) attachedCodecs() []codecs.Codec {
	var ret []codecs.Codec
	for _, t := range []*muxerTrack{m.videoTrack, m.audioTrack} {
		if t.attached {
			ret = append(ret, t.codec)
		}
	}
	return ret
}

func (m *Multiplexer) writeSample(t *muxerTrack, s *timedSample) {
	if s == nil {
		return
	}

	if !t.attached {
		t.counters.discarded.Add(1)
		m.Log(LogLevelDebug, "%s track is not available, discarding sample", t.name)
		return
	}

	if !m.sessionBegun {
		t.counters.discarded.Add(1)
		m.Log(LogLevelDebug, "session has not begun, discarding %s sample", t.name)
		return
	}

	if !m.Writer.IsReady(t.handle) {
		t.counters.dropped.Add(1)
		m.Log(LogLevelWarn, "%s track is not ready for more data, dropping sample", t.name)
		return
	}

	cs := &container.Sample{
		Payload:  s.payload,
		PTS:      s.pts,
		DTS:      s.dts,
		Duration: s.duration,
		IsSync:   s.randomAccess,
	}

	if t == m.audioTrack && !m.audioPrimed {
		m.audioPrimed = true

		if cs.TrimAtStart == 0 && m.AudioPriming > 0 {
			m.Log(LogLevelDebug, "priming audio with %v", m.AudioPriming)
			cs.TrimAtStart = m.AudioPriming
		}
	}

	err := m.Writer.Append(t.handle, cs)
	if err != nil {
		t.counters.failed.Add(1)
		m.Log(LogLevelError, "unable to append %s sample: %v", t.name, err)
		return
	}

	t.counters.written.Add(1)
}
