package gomp4mux

import (
	"fmt"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
	"github.com/bluenviron/gomp4mux/pkg/container"
)

// AAC-LC frames always contain this number of samples per channel.
const aacFramesPerPacket = 1024

type trackCounters struct {
	enqueued  atomic.Uint64
	rejected  atomic.Uint64
	written   atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

type muxerTrack struct {
	name string

	// format description. It is built once.
	codec codecs.Codec

	// handle returned by the container writer.
	handle       container.TrackHandle
	attached     bool
	attachFailed bool

	firstUnitSeen bool
	queue         sampleQueue
	counters      trackCounters
}

// needsAttach returns whether the track has a format description
// that still has to be submitted to the container writer.
func (t *muxerTrack) needsAttach() bool {
	return t.codec != nil && !t.attached && !t.attachFailed
}

// popReady removes the oldest sample, provided that its duration can be computed,
// and fills its duration.
func (t *muxerTrack) popReady(draining bool) *timedSample {
	n := t.queue.len()
	if n < 2 && (!draining || n == 0) {
		return nil
	}

	s := t.queue.pop()

	if next := t.queue.peek(); next != nil {
		s.duration = next.dts - s.dts
	}

	// last sample, or non-increasing timestamps
	if s.duration <= 0 {
		s.duration = minSampleDuration
	}

	return s
}

func (t *muxerTrack) discardAll() {
	for t.queue.len() != 0 {
		t.queue.pop()
		t.counters.discarded.Add(1)
	}
}

func (t *muxerTrack) stats() TrackStats {
	return TrackStats{
		Enqueued:  t.counters.enqueued.Load(),
		Rejected:  t.counters.rejected.Load(),
		Written:   t.counters.written.Load(),
		Dropped:   t.counters.dropped.Load(),
		Discarded: t.counters.discarded.Load(),
		Failed:    t.counters.failed.Load(),
		Queued:    t.queue.len(),
	}
}

// newVideoCodec builds the format description of the video track.
// The SPS is decoded in order to validate it.
func newVideoCodec(kind CodecKind, ps *parameterSets) (codecs.Codec, int, int, error) {
	var codec interface {
		codecs.Codec
		Dimensions() (int, int, error)
	}

	switch kind {
	case CodecKindH264:
		codec = &codecs.H264{
			SPS: ps.sps,
			PPS: ps.pps,
		}

	case CodecKindH265:
		codec = &codecs.H265{
			VPS: ps.vps,
			SPS: ps.sps,
			PPS: ps.pps,
		}

	default:
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedCodec, kind)
	}

	width, height, err := codec.Dimensions()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid SPS: %w", err)
	}

	return codec, width, height, nil
}

// newAudioCodec builds the format description of the audio track.
// When config contains a valid AudioSpecificConfig, it is used as is,
// otherwise an AAC-LC configuration is built from the stream description.
func newAudioCodec(config []byte, sampleRate int, channelCount int) (*codecs.MPEG4Audio, error) {
	var conf mpeg4audio.AudioSpecificConfig
	err := conf.Unmarshal(config)
	if err == nil {
		return &codecs.MPEG4Audio{Config: conf}, nil
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	if channelCount <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channelCount)
	}

	// frame length flag is unset, therefore each frame contains aacFramesPerPacket samples.
	return &codecs.MPEG4Audio{
		Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
		},
	}, nil
}
