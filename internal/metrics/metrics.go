// Package metrics registers the client's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StatusFrames counts inbound push frames by result: applied, ignored, invalid.
	StatusFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_status_frames_total",
		Help: "Push frames received on the status channel",
	}, []string{"result"})

	// StatusConnects counts established status channel connections.
	StatusConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchat_status_connects_total",
		Help: "Status channel connections established",
	})

	// StatusReconnects counts reconnection attempts after a failure.
	StatusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchat_status_reconnects_total",
		Help: "Status channel reconnection attempts",
	})

	// Uploads counts upload batches by outcome.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_upload_batches_total",
		Help: "Upload batches by outcome",
	}, []string{"outcome"})

	// UploadedFiles counts files sent in accepted batches.
	UploadedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchat_uploaded_files_total",
		Help: "Files sent in accepted upload batches",
	})

	// Queries counts chat queries by outcome.
	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_queries_total",
		Help: "Chat queries by outcome",
	}, []string{"outcome"})

	// QueryDuration measures round-trip time of answered queries.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_query_duration_seconds",
		Help:    "Query round-trip time in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// TerminalDocuments counts documents reaching a terminal status.
	TerminalDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_documents_terminal_total",
		Help: "Documents that reached completed or failed",
	}, []string{"status"})
)

// Frame result labels.
const (
	FrameApplied = "applied"
	FrameIgnored = "ignored"
	FrameInvalid = "invalid"
)

// ObserveQuery records one query outcome and, when answered, its latency.
func ObserveQuery(outcome string, start time.Time) {
	Queries.WithLabelValues(outcome).Inc()
	if outcome == "answered" {
		QueryDuration.Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
