// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "surveillance"

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames published to the cache, by source",
	}, []string{"source"})

	readFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "read_failures_total",
		Help:      "Failed camera device reads",
	})

	encodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "encode_failures_total",
		Help:      "Frames dropped because JPEG encoding failed",
	})

	tickOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "tick_overruns_total",
		Help:      "Ticks whose work exceeded the frame interval",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "tick_duration_seconds",
		Help:      "Time spent producing one frame",
		Buckets:   []float64{.005, .01, .02, .04, .08, .16, .32},
	})

	frameBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frame_bytes",
		Help:      "Size of the latest encoded frame",
	})

	feederRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "feeder_restarts_total",
		Help:      "Encoder subprocess launches triggered by a dead or broken pipe",
	})

	feederAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "feeder_alive",
		Help:      "1 while the encoder subprocess is running",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_dropped_total",
		Help:      "Frames not delivered to a sink",
	}, []string{"sink"})

	recording = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "active",
		Help:      "1 while a recording subprocess is running",
	})

	recordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "started_total",
		Help:      "Recordings started",
	})

	rtpPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mjpeg_rtp",
		Name:      "packets_total",
		Help:      "RTP/JPEG packets sent",
	})
)

// IncFrames counts a published frame; source is "device" or "placeholder".
func IncFrames(source string) { framesCaptured.WithLabelValues(source).Inc() }

// IncReadFailures counts a failed device read.
func IncReadFailures() { readFailures.Inc() }

// IncEncodeFailures counts a frame lost to an encode error.
func IncEncodeFailures() { encodeFailures.Inc() }

// IncTickOverruns counts a tick that took longer than the interval.
func IncTickOverruns() { tickOverruns.Inc() }

// ObserveTick records the work time of one tick.
func ObserveTick(seconds float64) { tickDuration.Observe(seconds) }

// SetFrameBytes records the latest frame size.
func SetFrameBytes(n int) { frameBytes.Set(float64(n)) }

// IncFeederRestarts counts an encoder relaunch.
func IncFeederRestarts() { feederRestarts.Inc() }

// SetFeederAlive records encoder liveness.
func SetFeederAlive(alive bool) { feederAlive.Set(boolValue(alive)) }

// IncFramesDropped counts a frame a sink could not take.
func IncFramesDropped(sink string) { framesDropped.WithLabelValues(sink).Inc() }

// SetRecording records recorder activity.
func SetRecording(active bool) { recording.Set(boolValue(active)) }

// IncRecordingsStarted counts a recording start.
func IncRecordingsStarted() { recordingsStarted.Inc() }

// AddRTPPackets counts sent RTP packets.
func AddRTPPackets(n int) { rtpPackets.Add(float64(n)) }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
