package bapp

import (
	"strconv"
	"time"

	"github.com/advdv/bedge"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a [bedge.Observer] that records dispatch outcomes, completed responses and open
// connections as prometheus metrics.
type Metrics struct {
	dispatches *prometheus.CounterVec
	responses  *prometheus.CounterVec
	bodyBytes  prometheus.Counter
	duration   prometheus.Histogram
	conns      prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedge",
			Name:      "dispatches_total",
			Help:      "Number of dispatched requests by outcome.",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedge",
			Name:      "responses_total",
			Help:      "Number of responses fully written to a connection by status code.",
		}, []string{"code"}),
		bodyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bedge",
			Name:      "response_body_bytes_total",
			Help:      "Number of response body bytes written.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bedge",
			Name:      "response_duration_seconds",
			Help:      "Time from activating a response until its last byte was written.",
			Buckets:   prometheus.DefBuckets,
		}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bedge",
			Name:      "open_connections",
			Help:      "Number of open connections.",
		}),
	}

	for _, c := range []prometheus.Collector{m.dispatches, m.responses, m.bodyBytes, m.duration, m.conns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) ObserveDispatch(outcome bedge.Outcome) {
	m.dispatches.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) ObserveResponse(status int, bodyBytes int64, elapsed time.Duration) {
	m.responses.WithLabelValues(strconv.Itoa(status)).Inc()
	m.bodyBytes.Add(float64(bodyBytes))
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveConn(delta int) {
	m.conns.Add(float64(delta))
}

var _ bedge.Observer = &Metrics{}
