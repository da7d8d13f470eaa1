package supabridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange paths recorded in metrics and logs.
const (
	PathVerified = "verified"
	PathFallback = "fallback"
	PathRejected = "rejected"
)

// Metrics holds the Prometheus collectors of the bridge. A nil *Metrics records nothing.
type Metrics struct {
	Exchanges            *prometheus.CounterVec
	ExchangeLatency      *prometheus.HistogramVec
	VerificationFailures *prometheus.CounterVec
	KeySetFetches        *prometheus.CounterVec
}

// NewMetrics creates the bridge metrics and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Exchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supabridge_exchanges_total",
				Help: "Total number of token exchanges by path and result.",
			},
			[]string{"path", "result"},
		),
		ExchangeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supabridge_exchange_duration_seconds",
				Help:    "Latency of token exchanges.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		VerificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supabridge_verification_failures_total",
				Help: "Total number of upstream token verification failures by kind.",
			},
			[]string{"kind"},
		),
		KeySetFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supabridge_keyset_fetches_total",
				Help: "Total number of key set lookups by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordExchange records the outcome of one exchange.
func (m *Metrics) RecordExchange(path, result string, duration time.Duration) {
	if m == nil {
		return
	}

	m.Exchanges.WithLabelValues(path, result).Inc()
	m.ExchangeLatency.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordVerificationFailure counts a failed verification.
func (m *Metrics) RecordVerificationFailure(kind ErrorKind) {
	if m == nil {
		return
	}

	m.VerificationFailures.WithLabelValues(string(kind)).Inc()
}

// RecordKeySetFetch counts a key set lookup by result, one of hit, fetched, throttled or error.
func (m *Metrics) RecordKeySetFetch(result string) {
	if m == nil {
		return
	}

	m.KeySetFetches.WithLabelValues(result).Inc()
}
