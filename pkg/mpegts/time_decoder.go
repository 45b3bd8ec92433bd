package mpegts

import (
	"time"
)

const (
	maximum           = 0x1FFFFFFFF // 33 bits
	negativeThreshold = 0x1FFFFFFFF / 2
	clockRate         = 90000
)

// TimeDecoder converts 33-bit MPEG-TS timestamps into monotonic durations,
// relative to the first decoded timestamp.
// Wraparounds and small negative jumps are handled.
type TimeDecoder struct {
	initialized bool
	overall     int64
	prev        int64
}

// Decode decodes a MPEG-TS timestamp.
func (d *TimeDecoder) Decode(ts int64) time.Duration {
	if !d.initialized {
		d.initialized = true
		d.prev = ts
	}

	diff := (ts - d.prev) & maximum

	if diff > negativeThreshold {
		d.overall -= (d.prev - ts) & maximum
	} else {
		d.overall += diff
	}
	d.prev = ts

	// avoid an int64 overflow and preserve resolution by splitting division into two parts:
	// first add the integer part, then the decimal part.
	secs := time.Duration(d.overall / clockRate)
	dec := time.Duration(d.overall % clockRate)
	return secs*time.Second + dec*time.Second/clockRate
}
