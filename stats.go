package gomp4mux

import (
	"time"
)

// TrackStats are statistics about a track.
type TrackStats struct {
	// samples accepted into the queue.
	Enqueued uint64

	// units refused by Push methods.
	Rejected uint64

	// samples written into the container.
	Written uint64

	// samples dropped since the container was not ready.
	Dropped uint64

	// samples discarded since the track or the session were not available.
	Discarded uint64

	// samples that the container failed to write.
	Failed uint64

	// samples waiting in the queue.
	Queued int
}

// Stats are statistics about a session.
type Stats struct {
	State               WriterState
	SessionStarted      bool
	FirstVideoFrameTime time.Duration
	LastVideoFrameTime  time.Duration
	Video               TrackStats
	Audio               TrackStats
}
