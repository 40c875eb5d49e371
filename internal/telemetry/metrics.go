/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry
// tracing for the karaoke server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestDuration tracks HTTP request latency by method,
	// endpoint and status code.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skald_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// APIRequestsTotal counts HTTP requests by method, endpoint and
	// status code.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skald_api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skald_api_active_connections",
			Help: "Currently active HTTP connections",
		},
	)

	// SongsPlayed counts songs by how playback ended.
	SongsPlayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skald_songs_played_total",
			Help: "Songs played, labelled by end reason",
		},
		[]string{"reason"},
	)

	// EnqueueRejections counts queue additions refused and why.
	EnqueueRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skald_enqueue_rejections_total",
			Help: "Queue additions rejected, labelled by reason",
		},
		[]string{"reason"},
	)

	// QueueLength gauges the current number of queued songs.
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skald_queue_length",
			Help: "Current queue length",
		},
	)

	// EncoderStarts counts encoder process launches.
	EncoderStarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skald_encoder_starts_total",
			Help: "Encoder processes launched",
		},
	)

	// EncoderFailures counts encoder launches that never produced a
	// playable stream.
	EncoderFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skald_encoder_failures_total",
			Help: "Encoder runs that failed before playback",
		},
	)

	// BufferWaitSeconds tracks how long playback waited for the
	// transcode buffer to fill.
	BufferWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skald_buffer_wait_seconds",
			Help:    "Time spent waiting for the stream buffer",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// LibrarySongs gauges how many songs the library scan found.
	LibrarySongs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skald_library_songs",
			Help: "Songs discovered in the library directory",
		},
	)

	// WebsocketClients gauges connected event stream clients.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skald_websocket_clients",
			Help: "Connected websocket event clients",
		},
	)
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
