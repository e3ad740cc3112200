// Package metrics provides Prometheus metrics for the playback
// pipeline: queue pressure, decode throughput, sync drops, and the
// master clock.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtsppull",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current packet queue depth",
	}, []string{"stream"})

	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "queue",
		Name:      "packets_dropped_total",
		Help:      "Packets discarded by queue overflow or drop mode",
	}, []string{"stream"})

	packetsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "source",
		Name:      "packets_read_total",
		Help:      "Packets read from the demuxer per stream",
	}, []string{"stream"})

	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "source",
		Name:      "read_errors_total",
		Help:      "Non-EOF demuxer read failures",
	})

	framesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "decode",
		Name:      "frames_total",
		Help:      "Frames emitted by the decoders per stream",
	}, []string{"stream"})

	framesDroppedSync = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "decode",
		Name:      "frames_dropped_sync_total",
		Help:      "Video frames dropped by the pacer to catch up with the audio clock",
	})

	masterClockMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtsppull",
		Subsystem: "sink",
		Name:      "master_clock_ms",
		Help:      "Byte-accurate audio playout position in milliseconds",
	})

	sinkChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "sink",
		Name:      "chunks_dropped_total",
		Help:      "PCM chunks discarded by app-side buffer overflow",
	})

	sinkBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "sink",
		Name:      "bytes_written_total",
		Help:      "PCM bytes handed to the output device",
	})

	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsppull",
		Subsystem: "pipeline",
		Name:      "stage_errors_total",
		Help:      "Fatal errors surfaced per stage",
	}, []string{"stage"})
)

// SetQueueDepth records the current depth of a packet queue.
func SetQueueDepth(stream string, depth int) {
	queueDepth.WithLabelValues(stream).Set(float64(depth))
}

// AddPacketsDropped counts packets discarded under queue pressure.
func AddPacketsDropped(stream string, n int) {
	packetsDropped.WithLabelValues(stream).Add(float64(n))
}

// IncPacketsRead counts one packet read from the demuxer.
func IncPacketsRead(stream string) {
	packetsRead.WithLabelValues(stream).Inc()
}

// IncReadError counts one non-EOF demuxer failure.
func IncReadError() {
	readErrors.Inc()
}

// IncFramesDecoded counts one emitted decoded frame.
func IncFramesDecoded(stream string) {
	framesDecoded.WithLabelValues(stream).Inc()
}

// IncFramesDroppedSync counts one frame the pacer skipped.
func IncFramesDroppedSync() {
	framesDroppedSync.Inc()
}

// SetMasterClock publishes the audio clock for scraping.
func SetMasterClock(ms int64) {
	masterClockMs.Set(float64(ms))
}

// IncSinkChunkDropped counts one discarded PCM chunk.
func IncSinkChunkDropped() {
	sinkChunksDropped.Inc()
}

// AddSinkBytesWritten counts bytes written to the device.
func AddSinkBytesWritten(n int) {
	sinkBytesWritten.Add(float64(n))
}

// IncStageError counts one fatal stage error.
func IncStageError(stage string) {
	stageErrors.WithLabelValues(stage).Inc()
}
