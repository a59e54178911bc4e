package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	engineOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_operations_total",
			Help: "Engine operations by component, action and outcome.",
		},
		[]string{"component", "action", "outcome"},
	)

	retentionRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_retention_rows_total",
			Help: "Rows affected by scheduled retention routines.",
		},
		[]string{"routine"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		engineOperationsTotal,
		retentionRowsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation counts one engine operation outcome.
func RecordOperation(component, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	engineOperationsTotal.WithLabelValues(component, action, outcome).Inc()
}

// RecordRetention counts rows affected by a retention routine run.
func RecordRetention(routine string, rows int64) {
	if rows < 0 {
		return
	}
	retentionRowsTotal.WithLabelValues(routine).Add(float64(rows))
}

// Instrument wraps an HTTP handler with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
