// Package metrics exposes statistics of a multiplexer in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bluenviron/gomp4mux"
)

// Source is a multiplexer.
type Source interface {
	Stats() gomp4mux.Stats
}

type trackCounter struct {
	desc  *prometheus.Desc
	value func(gomp4mux.TrackStats) uint64
}

type collector struct {
	source Source

	state         *prometheus.Desc
	sessionActive *prometheus.Desc
	lastFrameTime *prometheus.Desc
	queued        *prometheus.Desc
	counters      []trackCounter
}

func newTrackCounter(name string, help string, value func(gomp4mux.TrackStats) uint64) trackCounter {
	return trackCounter{
		desc:  prometheus.NewDesc("mp4mux_samples_"+name+"_total", help, []string{"track"}, nil),
		value: value,
	}
}

func newCollector(source Source) *collector {
	return &collector{
		source: source,
		state: prometheus.NewDesc("mp4mux_writer_state",
			"Current state of the writer goroutine", []string{"state"}, nil),
		sessionActive: prometheus.NewDesc("mp4mux_session_started",
			"Whether the first coded video unit has been received", nil, nil),
		lastFrameTime: prometheus.NewDesc("mp4mux_last_video_frame_seconds",
			"Presentation timestamp of the last coded video unit", nil, nil),
		queued: prometheus.NewDesc("mp4mux_samples_queued",
			"Samples waiting to be written", []string{"track"}, nil),
		counters: []trackCounter{
			newTrackCounter("enqueued", "Samples accepted into the queue",
				func(s gomp4mux.TrackStats) uint64 { return s.Enqueued }),
			newTrackCounter("rejected", "Units refused by the multiplexer",
				func(s gomp4mux.TrackStats) uint64 { return s.Rejected }),
			newTrackCounter("written", "Samples written into the container",
				func(s gomp4mux.TrackStats) uint64 { return s.Written }),
			newTrackCounter("dropped", "Samples dropped since the container was not ready",
				func(s gomp4mux.TrackStats) uint64 { return s.Dropped }),
			newTrackCounter("discarded", "Samples discarded since the track was not available",
				func(s gomp4mux.TrackStats) uint64 { return s.Discarded }),
			newTrackCounter("failed", "Samples that the container failed to write",
				func(s gomp4mux.TrackStats) uint64 { return s.Failed }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.sessionActive
	ch <- c.lastFrameTime
	ch <- c.queued
	for _, tc := range c.counters {
		ch <- tc.desc
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	for s := gomp4mux.WriterStateIdle; s <= gomp4mux.WriterStateStopped; s++ {
		v := 0.0
		if s == stats.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}

	started := 0.0
	if stats.SessionStarted {
		started = 1
	}
	ch <- prometheus.MustNewConstMetric(c.sessionActive, prometheus.GaugeValue, started)

	ch <- prometheus.MustNewConstMetric(c.lastFrameTime, prometheus.GaugeValue,
		stats.LastVideoFrameTime.Seconds())

	for _, track := range []struct {
		name  string
		stats gomp4mux.TrackStats
	}{
		{"video", stats.Video},
		{"audio", stats.Audio},
	} {
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue,
			float64(track.stats.Queued), track.name)

		for _, tc := range c.counters {
			ch <- prometheus.MustNewConstMetric(tc.desc, prometheus.CounterValue,
				float64(tc.value(track.stats)), track.name)
		}
	}
}

// Metrics holds the Prometheus registry of a multiplexer.
type Metrics struct {
	registry *prometheus.Registry
}

// New creates and registers Prometheus metrics for the given multiplexer.
func New(source Source) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(source))

	return &Metrics{
		registry: registry,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
