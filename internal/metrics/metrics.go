// Package metrics defines the Prometheus collectors exposed on /metrics. All
// metrics are prefixed with "highlight_reel_".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Render metrics
var (
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_reel_renders_total",
			Help: "Total number of finished renders by result",
		},
		[]string{"result"}, // "completed", "cancelled" or the error kind
	)

	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "highlight_reel_render_duration_seconds",
			Help:    "Wall-clock duration of renders in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	RendersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "highlight_reel_renders_in_flight",
			Help: "Number of render sessions currently running",
		},
	)

	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "highlight_reel_output_bytes",
			Help:    "Size of finalized render outputs in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10),
		},
	)
)

// Frame pipeline metrics
var (
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_reel_frames_total",
			Help: "Total number of output frames by how they were produced",
		},
		[]string{"mode"}, // "pass", "blend"
	)

	DecodersOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "highlight_reel_decoders_open",
			Help: "Number of decode adapters currently open",
		},
	)

	DecodeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "highlight_reel_decode_retries_total",
			Help: "Total number of frame reads retried after a re-seek",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_reel_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_reel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "highlight_reel_event_subscribers",
			Help: "Number of open progress websocket connections",
		},
	)
)

// Frame modes
const (
	ModePass  = "pass"
	ModeBlend = "blend"
)
