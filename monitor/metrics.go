// Package monitor exposes the server's Prometheus metrics.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocagent",
		Name:      "http_requests_total",
		Help:      "HTTP requests by path and status code.",
	}, []string{"path", "status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vocagent",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a full chat turn.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	FramesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vocagent",
		Name:      "frames_streamed_total",
		Help:      "Reply frames delivered to clients.",
	})

	MemoryCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocagent",
		Name:      "memory_commands_total",
		Help:      "Applied memory-update commands by kind.",
	}, []string{"kind"})

	ContextCompactions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vocagent",
		Name:      "context_compactions_total",
		Help:      "Completed rolling-summary compactions.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests per route pattern and status.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(sw.status)).Inc()
	})
}

// ObserveTurn records one turn's duration.
func ObserveTurn(start time.Time) {
	TurnDuration.Observe(time.Since(start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
