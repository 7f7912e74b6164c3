package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	uploadsTotal    *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	ruleChanges     *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "api",
			Name:      "uploads_total",
			Help:      "Document uploads by result.",
		},
		[]string{"service", "status"},
	)
	uploadBytes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "api",
			Name:      "upload_size_bytes",
			Help:      "Size of accepted uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ruleChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "api",
			Name:      "rule_changes_total",
			Help:      "Administrative rule mutations by rule kind and action.",
		},
		[]string{"service", "kind", "action"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadBytes,
		ruleChanges,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		uploadsTotal:    uploadsTotal,
		uploadBytes:     uploadBytes,
		ruleChanges:     ruleChanges,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses ids so label cardinality stays bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		rest := strings.TrimPrefix(path, "/v1/documents/")
		if i := strings.Index(rest, "/"); i >= 0 {
			return "/v1/documents/{document_id}" + rest[i:]
		}
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/rules/"):
		return "/v1/rules/{keyword}"
	case strings.HasPrefix(path, "/v1/routing-rules/"):
		rest := strings.TrimPrefix(path, "/v1/routing-rules/")
		if i := strings.Index(rest, "/"); i >= 0 {
			return "/v1/routing-rules/{rule_id}" + rest[i:]
		}
		return "/v1/routing-rules/{rule_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordUpload(service string, size int64, err error) {
	status := "accepted"
	if err != nil {
		status = "rejected"
	}
	m.uploadsTotal.WithLabelValues(service, status).Inc()
	if err == nil && size >= 0 {
		m.uploadBytes.Observe(float64(size))
	}
}

func (m *HTTPServerMetrics) RecordRuleChange(service, kind, action string) {
	m.ruleChanges.WithLabelValues(service, kind, action).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
