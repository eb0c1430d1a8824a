// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderdocs_extractions_total",
			Help: "Total number of extraction calls by outcome",
		},
		[]string{"file_type", "status", "method"},
	)

	extractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenderdocs_extraction_duration_seconds",
			Help:    "Extraction duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"file_type"},
	)

	engineAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderdocs_ocr_engine_attempts_total",
			Help: "OCR engine attempts by engine and outcome",
		},
		[]string{"engine", "outcome"}, // outcome: success, partial, failed, unavailable
	)

	engineAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenderdocs_ocr_engine_available",
			Help: "1 when the OCR engine passed its availability probe",
		},
		[]string{"engine"},
	)

	jobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderdocs_ocr_job_transitions_total",
			Help: "OCR job status transitions",
		},
		[]string{"status"},
	)

	jobConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenderdocs_ocr_job_conflicts_total",
			Help: "OCR requests rejected because the document was already processing",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenderdocs_ocr_queue_depth",
			Help: "Jobs waiting in the OCR worker queue",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderdocs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveExtraction records one orchestrator call.
func ObserveExtraction(fileType, status, method string, d time.Duration) {
	if method == "" {
		method = "none"
	}
	extractionsTotal.WithLabelValues(fileType, status, method).Inc()
	extractionDuration.WithLabelValues(fileType).Observe(d.Seconds())
}

// EngineAttempt records one OCR engine attempt.
func EngineAttempt(engine, outcome string) {
	engineAttempts.WithLabelValues(engine, outcome).Inc()
}

// SetEngineAvailable publishes the probe result of an engine.
func SetEngineAvailable(engine string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	engineAvailable.WithLabelValues(engine).Set(v)
}

// JobTransition records an OCR job entering status.
func JobTransition(status string) {
	jobTransitions.WithLabelValues(status).Inc()
}

// JobConflict records a rejected OCR request.
func JobConflict() {
	jobConflicts.Inc()
}

// SetQueueDepth publishes the number of queued jobs.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// HTTPRequest records a served HTTP request.
func HTTPRequest(method, route, status string) {
	httpRequests.WithLabelValues(method, route, status).Inc()
}
