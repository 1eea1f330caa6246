// Package metrics registers the Prometheus metrics of the import pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

var (
	// PipelineRuns counts finished runs by outcome (completed, failed).
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importq_pipeline_runs_total",
			Help: "Finished import pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	// PipelineFailures counts failed runs by the stage that failed.
	PipelineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importq_pipeline_failures_total",
			Help: "Failed import pipeline runs by stage.",
		},
		[]string{"stage"},
	)

	// StageDuration observes how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "importq_stage_duration_seconds",
			Help:    "Duration of import pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"stage"},
	)

	// RecordsLoaded counts rows written to import tables.
	RecordsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "importq_records_loaded_total",
		Help: "Rows written to import tables.",
	})

	// QueueEntries reports the number of queue entries per status.
	QueueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "importq_queue_entries",
			Help: "Import queue entries by status.",
		},
		[]string{"status"},
	)

	// CleanedUp counts completed entries removed by retention cleanup.
	CleanedUp = promauto.NewCounter(prometheus.CounterOpts{
		Name: "importq_cleanup_deleted_total",
		Help: "Completed queue entries deleted by retention cleanup.",
	})

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importq_http_requests_total",
			Help: "HTTP requests to the admin API.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "importq_http_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveStage records the duration of one stage since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// SetQueue publishes queue counts per status.
func SetQueue(counts map[model.QueueStatus]int) {
	for _, s := range model.QueueStatuses {
		QueueEntries.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// Middleware records request counts and durations labelled by the matched
// chi route pattern, which keeps ids out of the label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
