package gomp4mux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
	"github.com/bluenviron/gomp4mux/pkg/storage"
)

// baseline profile without POC, 1920x1080
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testH265VPS = []byte{0x40, 0x01, 0x0c, 0x01}

var testH265SPS = []byte{
	0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03,
	0x00, 0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
	0x00, 0x78, 0xa0, 0x03, 0xc0, 0x80, 0x10, 0xe5,
	0x96, 0x66, 0x69, 0x24, 0xca, 0xe0, 0x10, 0x00,
	0x00, 0x03, 0x00, 0x10, 0x00, 0x00, 0x03, 0x01,
	0xe0, 0x80,
}

var testH265PPS = []byte{0x44, 0x01, 0xc1, 0x72}

// AAC-LC, 44100Hz, stereo
var testAudioConfig = []byte{0x12, 0x10}

func lengthPrefixed(nalu []byte) []byte {
	return append([]byte{
		byte(len(nalu) >> 24), byte(len(nalu) >> 16), byte(len(nalu) >> 8), byte(len(nalu)),
	}, nalu...)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func discardLog(LogLevel, string, ...interface{}) {}

type writtenSample struct {
	track container.TrackHandle
	container.Sample
}

type fakeWriter struct {
	openErr     error
	addTrackErr map[bool]error // indexed by IsVideo()
	finalizeErr error
	notReady    bool
	appendGate  chan struct{}

	mutex             sync.Mutex
	path              string
	tracks            []codecs.Codec
	sessionStart      *time.Duration
	samples           []writtenSample
	finalizeCount     int
	samplesAtFinalize int
}

func (w *fakeWriter) Open(fpath string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.path = fpath
	return w.openErr
}

func (w *fakeWriter) AddTrack(codec codecs.Codec) (container.TrackHandle, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err := w.addTrackErr[codec.IsVideo()]; err != nil {
		return 0, err
	}

	w.tracks = append(w.tracks, codec)
	return container.TrackHandle(len(w.tracks)), nil
}

func (w *fakeWriter) BeginSession(at time.Duration) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.sessionStart != nil {
		return fmt.Errorf("session already started")
	}
	w.sessionStart = &at
	return nil
}

func (w *fakeWriter) IsReady(container.TrackHandle) bool {
	return !w.notReady
}

func (w *fakeWriter) Append(h container.TrackHandle, s *container.Sample) error {
	if w.appendGate != nil {
		<-w.appendGate
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.samples = append(w.samples, writtenSample{track: h, Sample: *s})
	return nil
}

func (w *fakeWriter) Finalize(onComplete func(error)) {
	w.mutex.Lock()
	w.finalizeCount++
	w.samplesAtFinalize = len(w.samples)
	w.mutex.Unlock()

	// completion is asynchronous, as in most writers backed by a device
	go onComplete(w.finalizeErr)
}

func (w *fakeWriter) trackCount() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.tracks)
}

func (w *fakeWriter) writtenSamples() []writtenSample {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return append([]writtenSample(nil), w.samples...)
}

func (w *fakeWriter) samplesOf(h container.TrackHandle) []writtenSample {
	var ret []writtenSample
	for _, s := range w.writtenSamples() {
		if s.track == h {
			ret = append(ret, s)
		}
	}
	return ret
}

func newTestMultiplexer(t *testing.T, w container.Writer, codec CodecKind) *Multiplexer {
	m := &Multiplexer{
		Writer: w,
		Log:    discardLog,
	}

	err := m.Configure(SessionParams{
		Path:      "out.mp4",
		FrameRate: 30,
		Width:     1920,
		Height:    1080,
		Codec:     codec,
	})
	require.NoError(t, err)

	return m
}

func stopAndWait(t *testing.T, m *Multiplexer) {
	done := make(chan struct{})
	m.Stop(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop callback was not called")
	}
}

func pushH264ParameterSets(t *testing.T, m *Multiplexer) {
	err := m.PushVideoUnit(lengthPrefixed(testSPS), 0, TimeUnset)
	require.NoError(t, err)

	err = m.PushVideoUnit(lengthPrefixed(testPPS), 0, TimeUnset)
	require.NoError(t, err)
}

func TestMultiplexerVideoDurations(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH264)

	pushH264ParameterSets(t, m)

	require.Eventually(t, func() bool {
		return w.trackCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// duplicates are ignored
	err := m.PushVideoUnit(lengthPrefixed([]byte{0x67, 0x64, 0x00, 0x1f}), 0, TimeUnset)
	require.NoError(t, err)
	err = m.PushVideoUnit(lengthPrefixed(testPPS), 0, TimeUnset)
	require.NoError(t, err)

	for i, nalu := range [][]byte{{0x65, 0x88}, {0x41, 0x9a}, {0x41, 0x9b}} {
		err = m.PushVideoUnit(lengthPrefixed(nalu), ms(33*i), ms(33*i))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(w.writtenSamples()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, m.Stats().Video.Queued)

	stopAndWait(t, m)

	require.Equal(t, []codecs.Codec{&codecs.H264{SPS: testSPS, PPS: testPPS}}, w.tracks)
	require.Equal(t, time.Duration(0), *w.sessionStart)
	require.Equal(t, "out.mp4", w.path)
	require.Equal(t, 1, w.finalizeCount)

	require.Equal(t, []writtenSample{
		{
			track: 1,
			Sample: container.Sample{
				Payload:  lengthPrefixed([]byte{0x65, 0x88}),
				PTS:      0,
				DTS:      0,
				Duration: ms(33),
				IsSync:   true,
			},
		},
		{
			track: 1,
			Sample: container.Sample{
				Payload:  lengthPrefixed([]byte{0x41, 0x9a}),
				PTS:      ms(33),
				DTS:      ms(33),
				Duration: ms(33),
			},
		},
		{
			track: 1,
			Sample: container.Sample{
				Payload:  lengthPrefixed([]byte{0x41, 0x9b}),
				PTS:      ms(66),
				DTS:      ms(66),
				Duration: minSampleDuration,
			},
		},
	}, w.samples)

	stats := m.Stats()
	require.Equal(t, WriterStateStopped, stats.State)
	require.Equal(t, TrackStats{Enqueued: 3, Written: 3}, stats.Video)
	require.Equal(t, ms(66), stats.LastVideoFrameTime)
}

func TestMultiplexerFormatRequiresAllParameterSets(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH265)

	err := m.PushVideoUnit(lengthPrefixed(testH265SPS), 0, TimeUnset)
	require.NoError(t, err)

	err = m.PushVideoUnit(lengthPrefixed(testH265PPS), 0, TimeUnset)
	require.NoError(t, err)

	// an access unit delimiter is not a parameter set
	err = m.PushVideoUnit(lengthPrefixed([]byte{0x46, 0x01, 0x50}), 0, TimeUnset)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, w.trackCount())

	err = m.PushVideoUnit(lengthPrefixed(testH265VPS), 0, TimeUnset)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return w.trackCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopAndWait(t, m)

	require.Equal(t, []codecs.Codec{&codecs.H265{
		VPS: testH265VPS,
		SPS: testH265SPS,
		PPS: testH265PPS,
	}}, w.tracks)
}

func TestMultiplexerInvalidSPS(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH264)

	err := m.PushVideoUnit(lengthPrefixed([]byte{0x67, 0x01}), 0, TimeUnset)
	require.NoError(t, err)

	err = m.PushVideoUnit(lengthPrefixed(testPPS), 0, TimeUnset)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err = m.PushVideoUnit(lengthPrefixed([]byte{0x65, byte(i)}), ms(33*i), TimeUnset)
		require.NoError(t, err)
	}

	stopAndWait(t, m)

	require.Equal(t, 0, w.trackCount())
	require.Empty(t, w.samples)
	require.Equal(t, uint64(3), m.Stats().Video.Discarded)
}

func TestMultiplexerAudioBeforeVideo(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH264)

	// stream configuration
	err := m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 48000, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return w.trackCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	err = m.PushAudioFrame([]byte{1, 2, 3}, ms(10), TimeUnset, 0, 0)
	require.NoError(t, err)

	stats := m.Stats()
	require.Equal(t, uint64(0), stats.Audio.Enqueued)
	require.Equal(t, uint64(1), stats.Audio.Rejected)

	pushH264ParameterSets(t, m)

	err = m.PushVideoUnit(lengthPrefixed([]byte{0x65, 0x88}), time.Second, time.Second)
	require.NoError(t, err)

	// same time as the first video frame
	err = m.PushAudioFrame([]byte{4, 5, 6}, time.Second, TimeUnset, 0, 0)
	require.NoError(t, err)

	err = m.PushAudioFrame([]byte{7, 8, 9}, time.Second+ms(20), TimeUnset, 0, 0)
	require.NoError(t, err)

	stats = m.Stats()
	require.Equal(t, uint64(1), stats.Audio.Enqueued)
	require.Equal(t, uint64(2), stats.Audio.Rejected)
	require.True(t, stats.SessionStarted)
	require.Equal(t, time.Second, stats.FirstVideoFrameTime)

	stopAndWait(t, m)

	// the configuration wins over the stream description
	audioCodec := w.tracks[0].(*codecs.MPEG4Audio)
	require.Equal(t, 44100, audioCodec.Config.SampleRate)
	require.Equal(t, 2, audioCodec.Config.ChannelCount)

	audio := w.samplesOf(1)
	require.Len(t, audio, 1)
	require.Equal(t, []byte{7, 8, 9}, audio[0].Payload)
	require.Equal(t, defaultAudioPriming, audio[0].TrimAtStart)
	require.Equal(t, minSampleDuration, audio[0].Duration)
}

func TestMultiplexerAudioConfigFromDescription(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH264)

	err := m.PushAudioFrame([]byte{0xff}, 0, TimeUnset, 0, 2)
	require.Error(t, err)

	err = m.PushAudioFrame([]byte{0xff}, 0, TimeUnset, 48000, 1)
	require.NoError(t, err)

	stopAndWait(t, m)

	require.Len(t, w.tracks, 1)
	audioCodec := w.tracks[0].(*codecs.MPEG4Audio)
	require.Equal(t, 48000, audioCodec.Config.SampleRate)
	require.Equal(t, 1, audioCodec.Config.ChannelCount)
}

func TestMultiplexerStopDrainsQueues(t *testing.T) {
	w := &fakeWriter{
		appendGate: make(chan struct{}),
	}
	m := newTestMultiplexer(t, w, CodecKindH264)

	err := m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 0, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return w.trackCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	pushH264ParameterSets(t, m)

	require.Eventually(t, func() bool {
		return w.trackCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		err = m.PushVideoUnit(lengthPrefixed([]byte{0x41, byte(i)}), ms(33*i), ms(33*i))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		err = m.PushAudioFrame([]byte{byte(i)}, ms(10+23*i), ms(10+23*i), 0, 0)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	m.Stop(func() {
		close(done)
	})

	err = m.PushVideoUnit(lengthPrefixed([]byte{0x41, 0xff}), ms(500), ms(500))
	require.Equal(t, ErrStopped, err)

	close(w.appendGate)
	<-done

	require.Equal(t, 8, w.samplesAtFinalize)
	require.Equal(t, 1, w.finalizeCount)

	video := w.samplesOf(2)
	require.Len(t, video, 5)
	for i, s := range video {
		require.Equal(t, ms(33*i), s.DTS)
	}
	require.Equal(t, minSampleDuration, video[4].Duration)

	audio := w.samplesOf(1)
	require.Len(t, audio, 3)
	require.Equal(t, defaultAudioPriming, audio[0].TrimAtStart)
	require.Equal(t, ms(23), audio[0].Duration)
	require.Equal(t, time.Duration(0), audio[1].TrimAtStart)
	require.Equal(t, time.Duration(0), audio[2].TrimAtStart)

	stats := m.Stats()
	require.Equal(t, 0, stats.Video.Queued)
	require.Equal(t, 0, stats.Audio.Queued)
}

func TestMultiplexerStopCallbackOnce(t *testing.T) {
	for _, ca := range []string{"finalize ok", "finalize error"} {
		t.Run(ca, func(t *testing.T) {
			w := &fakeWriter{}
			if ca == "finalize error" {
				w.finalizeErr = fmt.Errorf("disk full")
			}

			m := newTestMultiplexer(t, w, CodecKindH264)

			var count1 atomic.Int32
			var count2 atomic.Int32
			done := make(chan struct{}, 2)

			m.Stop(func() {
				count1.Add(1)
				done <- struct{}{}
			})
			m.Stop(func() {
				count2.Add(1)
				done <- struct{}{}
			})

			<-done
			<-done

			time.Sleep(50 * time.Millisecond)
			require.Equal(t, int32(1), count1.Load())
			require.Equal(t, int32(1), count2.Load())
			require.Equal(t, 1, w.finalizeCount)

			// stopping a stopped multiplexer calls the callback immediately
			called := false
			m.Stop(func() {
				called = true
			})
			require.True(t, called)
		})
	}
}

func TestMultiplexerBackpressure(t *testing.T) {
	w := &fakeWriter{notReady: true}
	m := newTestMultiplexer(t, w, CodecKindH264)

	pushH264ParameterSets(t, m)

	for i := 0; i < 4; i++ {
		err := m.PushVideoUnit(lengthPrefixed([]byte{0x41, byte(i)}), ms(33*i), TimeUnset)
		require.NoError(t, err)
	}

	stopAndWait(t, m)

	require.Empty(t, w.samples)
	stats := m.Stats()
	require.Equal(t, uint64(4), stats.Video.Dropped)
	require.Equal(t, uint64(0), stats.Video.Written)
}

func TestMultiplexerAttachFailure(t *testing.T) {
	w := &fakeWriter{
		addTrackErr: map[bool]error{false: fmt.Errorf("audio not supported")},
	}
	m := newTestMultiplexer(t, w, CodecKindH264)

	err := m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 0, 0)
	require.NoError(t, err)

	pushH264ParameterSets(t, m)

	for i := 0; i < 3; i++ {
		err = m.PushVideoUnit(lengthPrefixed([]byte{0x41, byte(i)}), ms(33*i), TimeUnset)
		require.NoError(t, err)

		err = m.PushAudioFrame([]byte{byte(i)}, ms(10+33*i), TimeUnset, 0, 0)
		require.NoError(t, err)
	}

	stopAndWait(t, m)

	require.Len(t, w.tracks, 1)
	require.Len(t, w.samples, 3)

	stats := m.Stats()
	require.Equal(t, uint64(3), stats.Video.Written)
	require.Equal(t, uint64(3), stats.Audio.Discarded)
	require.Equal(t, uint64(0), stats.Audio.Written)
}

func TestMultiplexerUnsupportedCodec(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKind(0))

	err := m.PushVideoUnit(lengthPrefixed(testSPS), 0, TimeUnset)
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	err = m.PushVideoUnit(lengthPrefixed([]byte{0x65, 0x88}), 0, TimeUnset)
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	// the audio path is not affected
	err = m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 0, 0)
	require.NoError(t, err)

	stopAndWait(t, m)

	require.Len(t, w.tracks, 1)
	stats := m.Stats()
	require.Equal(t, uint64(2), stats.Video.Rejected)
	require.False(t, stats.SessionStarted)
}

func TestMultiplexerShortUnit(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMultiplexer(t, w, CodecKindH264)

	err := m.PushVideoUnit([]byte{0, 0, 0, 0}, 0, TimeUnset)
	require.ErrorIs(t, err, ErrShortUnit)

	stopAndWait(t, m)
}

func TestMultiplexerOpenError(t *testing.T) {
	openErr := fmt.Errorf("permission denied")
	w := &fakeWriter{openErr: openErr}

	onOpenError := make(chan error, 1)

	m := &Multiplexer{
		Writer: w,
		Log:    discardLog,
		OnOpenError: func(err error) {
			onOpenError <- err
		},
	}

	err := m.Configure(SessionParams{Path: "/nonexisting/out.mp4", Codec: CodecKindH264})
	require.NoError(t, err)

	require.Equal(t, openErr, <-onOpenError)

	require.Eventually(t, func() bool {
		return m.State() == WriterStateStopped
	}, 2*time.Second, 5*time.Millisecond)

	err = m.PushVideoUnit(lengthPrefixed(testSPS), 0, TimeUnset)
	require.Equal(t, ErrStopped, err)

	count := 0
	m.Stop(func() {
		count++
	})
	require.Equal(t, 1, count)
	require.Equal(t, 0, w.finalizeCount)
}

func TestMultiplexerErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		m := &Multiplexer{}

		err := m.PushVideoUnit(lengthPrefixed(testSPS), 0, TimeUnset)
		require.Equal(t, ErrNotConfigured, err)

		err = m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 0, 0)
		require.Equal(t, ErrNotConfigured, err)

		require.Equal(t, WriterStateIdle, m.State())
		require.Equal(t, Stats{}, m.Stats())

		called := false
		m.Stop(func() {
			called = true
		})
		require.True(t, called)

		err = m.Configure(SessionParams{Path: "out.mp4"})
		require.Equal(t, ErrStopped, err)
	})

	t.Run("configured twice", func(t *testing.T) {
		m := newTestMultiplexer(t, &fakeWriter{}, CodecKindH264)

		err := m.Configure(SessionParams{Path: "out2.mp4"})
		require.EqualError(t, err, "multiplexer is already configured")

		stopAndWait(t, m)

		err = m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 0, 0)
		require.Equal(t, ErrStopped, err)
	})

	t.Run("empty path", func(t *testing.T) {
		m := &Multiplexer{Writer: &fakeWriter{}}
		err := m.Configure(SessionParams{})
		require.EqualError(t, err, "path is empty")
	})

	t.Run("invalid format", func(t *testing.T) {
		m := &Multiplexer{Format: ContainerFormat(10)}
		err := m.Configure(SessionParams{Path: "out.mp4"})
		require.EqualError(t, err, "unsupported container format: 10")
	})
}

func readStorageFile(t *testing.T, factory *storage.FactoryRAM, fpath string) []byte {
	f, ok := factory.File(fpath)
	require.True(t, ok)

	r, err := f.Reader()
	require.NoError(t, err)
	defer r.Close()

	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	return buf
}

func TestMultiplexerMP4(t *testing.T) {
	factory := storage.NewFactoryRAM()

	m := &Multiplexer{
		Storage: factory,
		Log:     discardLog,
	}

	err := m.Configure(SessionParams{
		Path:   "out.mp4",
		Width:  1920,
		Height: 1080,
		Codec:  CodecKindH264,
	})
	require.NoError(t, err)

	err = m.PushAudioFrame(testAudioConfig, 0, TimeUnset, 44100, 2)
	require.NoError(t, err)

	pushH264ParameterSets(t, m)

	audioDuration := container.TimeScaleToDuration(1024, 44100)

	for i := 0; i < 10; i++ {
		err = m.PushVideoUnit(lengthPrefixed([]byte{0x65, byte(i)}), ms(1000+33*i), TimeUnset)
		require.NoError(t, err)

		if i != 0 {
			pts := ms(1000) + time.Duration(i)*audioDuration
			err = m.PushAudioFrame([]byte{byte(i), 1}, pts, pts, 0, 0)
			require.NoError(t, err)
		}
	}

	stopAndWait(t, m)

	stats := m.Stats()
	require.Equal(t, uint64(10), stats.Video.Written)
	require.Equal(t, uint64(9), stats.Audio.Written)

	info, err := gomp4.Probe(bytes.NewReader(readStorageFile(t, factory, "out.mp4")))
	require.NoError(t, err)
	require.Len(t, info.Tracks, 2)

	tracks := make(map[gomp4.Codec]*gomp4.Track)
	for _, tr := range info.Tracks {
		tracks[tr.Codec] = tr
	}

	audio := tracks[gomp4.CodecMP4A]
	require.NotNil(t, audio)
	require.Equal(t, uint32(44100), audio.Timescale)
	require.Len(t, audio.Samples, 9)
	require.Equal(t, uint32(1024), audio.Samples[0].TimeDelta)

	video := tracks[gomp4.CodecAVC1]
	require.NotNil(t, video)
	require.Equal(t, uint32(90000), video.Timescale)
	require.Len(t, video.Samples, 10)
	require.Equal(t, uint32(2970), video.Samples[0].TimeDelta)
	require.Equal(t, uint32(1), video.Samples[9].TimeDelta)
}

func TestMultiplexerFormats(t *testing.T) {
	for _, ca := range []struct {
		name   string
		format ContainerFormat
	}{
		{"mp4", ContainerFormatMP4},
		{"fmp4", ContainerFormatFMP4},
		{"mpegts", ContainerFormatMPEGTS},
	} {
		t.Run(ca.name, func(t *testing.T) {
			factory := storage.NewFactoryRAM()

			m := &Multiplexer{
				Format:  ca.format,
				Storage: factory,
				Log:     discardLog,
			}

			err := m.Configure(SessionParams{Path: "out", Codec: CodecKindH264})
			require.NoError(t, err)

			pushH264ParameterSets(t, m)

			for i := 0; i < 3; i++ {
				err = m.PushVideoUnit(lengthPrefixed([]byte{0x65, byte(i)}), ms(33*i), TimeUnset)
				require.NoError(t, err)
			}

			stopAndWait(t, m)

			require.Equal(t, uint64(3), m.Stats().Video.Written)
			require.NotEmpty(t, readStorageFile(t, factory, "out"))
		})
	}
}

func TestMultiplexerDiskOpenError(t *testing.T) {
	var openErr error
	var mutex sync.Mutex

	m := &Multiplexer{
		Log: discardLog,
		OnOpenError: func(err error) {
			mutex.Lock()
			openErr = err
			mutex.Unlock()
		},
	}

	err := m.Configure(SessionParams{
		Path:  t.TempDir() + "/missing/out.mp4",
		Codec: CodecKindH264,
	})
	require.NoError(t, err)

	stopAndWait(t, m)

	mutex.Lock()
	defer mutex.Unlock()
	require.Error(t, openErr)
	require.False(t, errors.Is(openErr, ErrStopped))
}
