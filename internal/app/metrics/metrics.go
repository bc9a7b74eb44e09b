package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/acme-industrial/enms-analytics/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "enms_analytics",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enms_analytics",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enms_analytics",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	trainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enms_analytics",
			Subsystem: "baseline",
			Name:      "training_duration_seconds",
			Help:      "Duration of baseline model training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"},
	)

	detectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enms_analytics",
			Subsystem: "anomaly",
			Name:      "detection_duration_seconds",
			Help:      "Duration of anomaly detection passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)

	featureCoverage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "enms_analytics",
			Subsystem: "features",
			Name:      "coverage_ratio",
			Help:      "Fraction of expected readings present for the most recent aggregation window, per machine.",
		},
		[]string{"machine_id", "granularity"},
	)

	schedulerJobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enms_analytics",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job executions.",
		},
		[]string{"job", "result"},
	)

	schedulerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enms_analytics",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"job"},
	)

	wsConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "enms_analytics",
			Subsystem: "websocket",
			Name:      "connected_clients",
			Help:      "Current number of connected WebSocket clients, by topic.",
		},
		[]string{"topic"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enms_analytics",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by the rate limiter or connection throttle.",
		},
		[]string{"reason"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		trainingDuration,
		detectionDuration,
		featureCoverage,
		schedulerJobRuns,
		schedulerJobDuration,
		wsConnections,
		rateLimitRejections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
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

// RecordTraining records the duration and outcome of a baseline training run.
func RecordTraining(duration time.Duration, success bool) {
	trainingDuration.WithLabelValues(resultLabel(success)).Observe(positive(duration).Seconds())
}

// RecordDetection records the duration and outcome of an anomaly detection pass.
func RecordDetection(duration time.Duration, success bool) {
	detectionDuration.WithLabelValues(resultLabel(success)).Observe(positive(duration).Seconds())
}

// SetFeatureCoverage records the fraction of expected readings present for a
// machine's most recent aggregation window at the given granularity.
func SetFeatureCoverage(machineID, granularity string, ratio float64) {
	featureCoverage.WithLabelValues(machineID, granularity).Set(ratio)
}

// RecordSchedulerJob records a scheduled job's outcome and duration.
func RecordSchedulerJob(job string, duration time.Duration, success bool) {
	schedulerJobRuns.WithLabelValues(job, resultLabel(success)).Inc()
	schedulerJobDuration.WithLabelValues(job).Observe(positive(duration).Seconds())
}

// SetWebSocketConnections records the current client count for a fan-out topic.
func SetWebSocketConnections(topic string, count int) {
	wsConnections.WithLabelValues(topic).Set(float64(count))
}

// RecordRateLimitRejection records a request rejected by the rate limiter or
// connection throttle, tagged with the reason ("per_ip", "redis_down",
// "connections").
func RecordRateLimitRejection(reason string) {
	rateLimitRejections.WithLabelValues(reason).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics,
// keyed by a caller-chosen namespace/subsystem/name triple. Used for
// in-flight/duration instrumentation of operations that don't have a
// dedicated Record* helper above (e.g. per-machine feature aggregation runs).
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["machine_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["energy_source_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["job_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// FeatureAggregationHooks captures per-machine feature aggregation runs.
func FeatureAggregationHooks() core.ObservationHooks {
	return ObservationHooks("enms_analytics", "features", "aggregation")
}

// EventBusPublishHooks captures event bus publish attempts.
func EventBusPublishHooks() core.ObservationHooks {
	return ObservationHooks("enms_analytics", "eventbus", "publish")
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

// canonicalPath collapses path parameters to keep the requests_total/
// request_duration_seconds label cardinality bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i == 0 {
			continue
		}
		if looksLikeIdentifier(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// looksLikeIdentifier reports whether a path segment looks like a UUID or
// numeric ID rather than a fixed route word.
func looksLikeIdentifier(segment string) bool {
	if segment == "" {
		return false
	}
	hasDigit := false
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			hasDigit = true
			continue
		}
		if r == '-' {
			continue
		}
		if (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			continue
		}
		return false
	}
	return hasDigit
}
