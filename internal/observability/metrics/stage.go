package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StageMetrics records pipeline stage throughput. It satisfies pipeline.Observer.
type StageMetrics struct {
	registry *prometheus.Registry

	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	inboxSubmitted  prometheus.Counter
}

func NewStageMetrics(service string) *StageMetrics {
	registry := prometheus.NewRegistry()

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docpipe",
			Subsystem:   "stage",
			Name:        "messages_total",
			Help:        "Total stage messages by outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"stage", "outcome"},
	)
	messageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docpipe",
			Subsystem:   "stage",
			Name:        "message_duration_seconds",
			Help:        "Stage message handling duration in seconds by outcome.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"stage", "outcome"},
	)
	inFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "docpipe",
			Subsystem:   "stage",
			Name:        "in_flight",
			Help:        "Messages currently being handled per stage.",
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"stage"},
	)
	inboxSubmitted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "docpipe",
			Subsystem:   "inbox",
			Name:        "submitted_total",
			Help:        "Files picked up from the inbox directory.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(messagesTotal, messageDuration, inFlight, inboxSubmitted)

	return &StageMetrics{
		registry:        registry,
		messagesTotal:   messagesTotal,
		messageDuration: messageDuration,
		inFlight:        inFlight,
		inboxSubmitted:  inboxSubmitted,
	}
}

func (m *StageMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *StageMetrics) MessageStarted(stage string) {
	m.inFlight.WithLabelValues(stage).Inc()
}

func (m *StageMetrics) MessageFinished(stage, outcome string, duration time.Duration) {
	m.inFlight.WithLabelValues(stage).Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.messagesTotal.WithLabelValues(stage, outcome).Inc()
	m.messageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

func (m *StageMetrics) InboxSubmitted() {
	m.inboxSubmitted.Inc()
}
