package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame pipeline metrics
var (
	FramesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_frames_read_total",
			Help: "Total number of camera frames read from recordings",
		},
		[]string{"status"}, // "ok", "corrupted"
	)

	FrameReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_observer_frame_read_duration_seconds",
			Help:    "Time spent reading a single camera frame",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	RecordingsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_observer_recordings_processed_total",
			Help: "Total number of recording files processed",
		},
	)
)

// QR scan metrics
var (
	QrScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_qr_scans_total",
			Help: "Total number of frame scans by outcome",
		},
		[]string{"outcome"}, // "detected", "empty", "error"
	)

	QrCodesDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_qr_codes_decoded_total",
			Help: "Total number of QR codes decoded by kind",
		},
		[]string{"kind"}, // "mezzanine", "status", "pre_test", "unrecognized"
	)

	QrScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playback_observer_qr_scan_duration_seconds",
			Help:    "Frame scan duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"}, // "general", "intensive"
	)

	QrScanWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_observer_qr_scan_workers",
			Help: "Size of the QR scan worker pool",
		},
	)

	DuplicateFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_observer_duplicate_frames_total",
			Help: "Total number of duplicate QR detections discarded",
		},
	)
)

// Session metrics
var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_sessions_total",
			Help: "Total number of observation sessions by final state",
		},
		[]string{"state"}, // "completed", "aborted", "error"
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_observer_session_duration_seconds",
			Help:    "Wall-clock duration of session analysis",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	TestsObservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_tests_observed_total",
			Help: "Total number of tests observed by verdict",
		},
		[]string{"verdict"}, // "pass", "fail", "not_run", "error"
	)

	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_observations_total",
			Help: "Total number of individual observations evaluated",
		},
		[]string{"kind", "verdict"},
	)
)

// Audio metrics
var (
	AudioSegmentsAlignedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_audio_segments_aligned_total",
			Help: "Total number of audio segments checked for alignment",
		},
		[]string{"status"}, // "aligned", "unaligned"
	)

	AudioCorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_observer_audio_correlation_duration_seconds",
			Help:    "FFT cross-correlation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// Result store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playback_observer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	ResultPostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observer_result_posts_total",
			Help: "Total number of result submissions to the test runner",
		},
		[]string{"status"}, // "success", "error"
	)
)
