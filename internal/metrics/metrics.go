package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatbot"

// Upstream outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport_error"
	OutcomeMalformed = "malformed"
)

// Metrics holds the collectors for the conversation pipeline. A nil *Metrics
// records nothing.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
	Interactions     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that are
// already registered are reused.
func New(reg prometheus.Registerer) *Metrics {
	upstreamRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Generation API calls by outcome",
		},
		[]string{"outcome"},
	)

	upstreamDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of generation API calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	interactions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "interactions_total",
			Help:      "Persisted interactions by classification",
		},
		[]string{"classification"},
	)

	return &Metrics{
		UpstreamRequests: register(reg, upstreamRequests),
		UpstreamDuration: register(reg, upstreamDuration),
		Interactions:     register(reg, interactions),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

// ObserveUpstream records one generation call.
func (m *Metrics) ObserveUpstream(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(outcome).Inc()
	m.UpstreamDuration.Observe(elapsed.Seconds())
}

// CountInteraction records one persisted interaction.
func (m *Metrics) CountInteraction(classification string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(classification).Inc()
}
