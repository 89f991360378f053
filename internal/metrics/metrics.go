// Package metrics defines the process's Prometheus series, exposed over
// a bare /metrics endpoint — distinct from the out-of-scope HTTP surface
// since it serves only exposition, not any stream-facing API. Grounded
// in the reference's internal/metrics/metrics.go, whose RTMP/viewer
// series are replaced here with the NVR ingest pipeline's own lifecycle,
// fan-out, and shutdown events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_active_streams",
		Help: "Number of streams with a running Stream Thread.",
	})

	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_reconnects_total",
		Help: "Total input reconnect attempts, by stream.",
	}, []string{"stream"})

	PacketsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_packets_received_total",
		Help: "Total demuxed packets received, by stream and kind.",
	}, []string{"stream", "kind"})

	KeyframesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_keyframes_received_total",
		Help: "Total video keyframes received, by stream.",
	}, []string{"stream"})

	HLSSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_hls_segments_total",
		Help: "Total HLS segments rotated, by stream.",
	}, []string{"stream"})

	MP4SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_mp4_sessions_total",
		Help: "Total MP4 recording sessions started, by stream.",
	}, []string{"stream"})

	DetectionSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_detection_submitted_total",
		Help: "Total detection tasks submitted to the dispatcher, by stream.",
	}, []string{"stream"})

	DetectionDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_detection_dropped_total",
		Help: "Total detection tasks dropped, by stream and reason.",
	}, []string{"stream", "reason"})

	DetectionPoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_detection_pool_active_workers",
		Help: "Number of detection workers currently running a task.",
	})

	ShutdownDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nvr_shutdown_duration_seconds",
		Help:    "Time taken for the shutdown coordinator to drain every registered component.",
		Buckets: prometheus.DefBuckets,
	})

	ArchiveUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_archive_uploads_total",
		Help: "Total recordings moved to cold storage, by stream and outcome.",
	}, []string{"stream", "outcome"})
)
