// Package observability holds the structured logger and Prometheus metrics.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bravapress_jobs_enqueued_total",
		Help: "The total number of enqueued jobs",
	}, []string{"type"})

	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bravapress_jobs_claimed_total",
		Help: "The total number of claimed jobs",
	}, []string{"type"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bravapress_jobs_processed_total",
		Help: "The total number of processed jobs",
	}, []string{"type", "outcome"}) // outcome: completed, retrying, failed

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bravapress_job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"type"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bravapress_workflow_stage_duration_seconds",
		Help:    "Duration of submission workflow stages.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage", "status"})

	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bravapress_queue_jobs",
		Help: "Jobs currently stored, by reported status and type.",
	}, []string{"status", "type"})
)

// NewLogger creates a JSON structured logger at the given level.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
