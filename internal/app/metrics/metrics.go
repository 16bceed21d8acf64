// Package metrics exposes Prometheus collectors for the platform.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sportsblock",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sportsblock",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sportsblock",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	chainCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sportsblock",
			Subsystem: "chain",
			Name:      "calls_total",
			Help:      "Total number of chain RPC calls.",
		},
		[]string{"method", "outcome"},
	)

	stakeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sportsblock",
			Subsystem: "predictions",
			Name:      "stake_verifications_total",
			Help:      "Total number of stake verification attempts.",
		},
		[]string{"result"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sportsblock",
			Subsystem: "predictions",
			Name:      "settlements_total",
			Help:      "Total number of prediction settlements.",
		},
		[]string{"status"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sportsblock",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sportsblock",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		chainCalls,
		stakeVerifications,
		settlements,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordChainCall records a chain RPC call outcome.
func RecordChainCall(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	chainCalls.WithLabelValues(method, outcome).Inc()
}

// RecordStakeVerification records one stake verification attempt.
func RecordStakeVerification(result string) {
	stakeVerifications.WithLabelValues(result).Inc()
}

// RecordSettlement records a prediction reaching a terminal status.
func RecordSettlement(status string) {
	settlements.WithLabelValues(status).Inc()
}

// RecordJobRun records a scheduled job execution.
func RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	jobRuns.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so metric cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")

	switch parts[0] {
	case "predictions":
		if len(parts) == 1 {
			return "/predictions"
		}
		if len(parts) == 2 {
			return "/predictions/:id"
		}
		return "/predictions/:id/" + parts[2]
	case "users":
		if len(parts) == 1 {
			return "/users"
		}
		if len(parts) == 2 {
			return "/users/:username"
		}
		return "/users/:username/" + parts[2]
	case "posts":
		if len(parts) == 1 {
			return "/posts"
		}
		return "/posts/:id"
	case "feeds":
		if len(parts) >= 2 {
			return "/feeds/" + parts[1]
		}
		return "/feeds"
	case "prices":
		if len(parts) == 1 {
			return "/prices"
		}
		return "/prices/:pair"
	case "notifications":
		return "/notifications"
	default:
		return "/" + parts[0]
	}
}
