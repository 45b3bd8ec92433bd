package gomp4mux

import (
	"time"
)

type timedSample struct {
	payload      []byte
	pts          time.Duration
	dts          time.Duration
	duration     time.Duration
	randomAccess bool
}

func newTimedSample(buf []byte, pts time.Duration, dts time.Duration, randomAccess bool) *timedSample {
	if dts == TimeUnset {
		dts = pts
	}

	return &timedSample{
		payload:      append([]byte(nil), buf...),
		pts:          pts,
		dts:          dts,
		randomAccess: randomAccess,
	}
}

// sampleQueue is a FIFO of samples, backed by a ring buffer.
type sampleQueue struct {
	buf  []*timedSample
	head int
	size int
}

func (q *sampleQueue) len() int {
	return q.size
}

func (q *sampleQueue) grow() {
	n := len(q.buf) * 2
	if n == 0 {
		n = 16
	}

	buf := make([]*timedSample, n)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}

	q.buf = buf
	q.head = 0
}

func (q *sampleQueue) push(s *timedSample) {
	if q.size == len(q.buf) {
		q.grow()
	}

	q.buf[(q.head+q.size)%len(q.buf)] = s
	q.size++
}

// peek returns the oldest sample.
func (q *sampleQueue) peek() *timedSample {
	if q.size == 0 {
		return nil
	}
	return q.buf[q.head]
}

// pop removes and returns the oldest sample.
func (q *sampleQueue) pop() *timedSample {
	if q.size == 0 {
		return nil
	}

	s := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--

	return s
}
