package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	jobsCreated       *prometheus.CounterVec
	stepsRequested    *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sepiatone_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sepiatone_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sepiatone_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sepiatone_queue_jobs_enqueued_total",
			Help: "Total jobs enqueued to the processing queue.",
		}, []string{"queue"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sepiatone_api_jobs_created_total",
			Help: "Total sepia jobs created, by source type.",
		}, []string{"source_type"}),
		stepsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sepiatone_api_pipeline_steps_total",
			Help: "Pipeline steps requested by created jobs, by action.",
		}, []string{"action"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.jobsCreated,
		m.stepsRequested,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// withHTTPMetrics labels requests by the route they matched, never the raw
// path, so job IDs do not leak into label values.
func (m *metrics) withHTTPMetrics(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		label := route(r)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, label, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) observeJob(job domain.Job) {
	m.jobsCreated.WithLabelValues(job.SourceType).Inc()
	for _, step := range job.Pipeline {
		m.stepsRequested.WithLabelValues(step.Action).Inc()
	}
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel maps a ServeMux pattern such as "POST /v1/jobs/{id}/start" to
// its path. Unmatched requests share one label.
func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern == "" {
		return "other"
	}
	return pattern
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
