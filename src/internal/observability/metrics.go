package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	Memories       prometheus.Gauge
}

// NewMetrics registers the instruments with reg (the default registerer
// when nil, a fresh registry in tests).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "Request latency in milliseconds by operation.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"operation"}),
		Memories: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memories",
			Help:      "Number of memories currently held by the engine.",
		}),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
