package container

import (
	"time"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
)

const (
	// VideoTimeScale is the time scale of video tracks.
	VideoTimeScale = 90000
)

// TimeScale returns the time scale of a track.
func TimeScale(c codecs.Codec) uint32 {
	if codec, ok := c.(*codecs.MPEG4Audio); ok {
		return uint32(codec.Config.SampleRate)
	}
	return VideoTimeScale
}

// DurationToTimeScale converts a duration into a time scale, rounding to the nearest value.
func DurationToTimeScale(v time.Duration, timeScale uint32) int64 {
	if v < 0 {
		return -DurationToTimeScale(-v, timeScale)
	}

	timeScale64 := int64(timeScale)
	secs := v / time.Second
	dec := v % time.Second
	return int64(secs)*timeScale64 + (int64(dec)*timeScale64+int64(time.Second)/2)/int64(time.Second)
}

// TimeScaleToDuration converts a time scale value into a duration.
func TimeScaleToDuration(v int64, timeScale uint32) time.Duration {
	timeScale64 := int64(timeScale)
	secs := v / timeScale64
	dec := v % timeScale64
	return time.Duration(secs)*time.Second + time.Duration(dec)*time.Second/time.Duration(timeScale64)
}
