package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for verification attempts.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeExpired     = "expired"
	OutcomeAlreadyUsed = "already_used"
	OutcomeUnknownUser = "unknown_user"
	OutcomeError       = "error"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry      *prometheus.Registry
	linksIssued   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		linksIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamegroup",
			Name:      "login_links_issued_total",
			Help:      "Login link requests by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamegroup",
			Name:      "login_link_verifications_total",
			Help:      "Login link verification attempts by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gamegroup",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.linksIssued,
		m.verifications,
		m.requests,
	)

	return m
}

func (m *Metrics) LinkIssued(result string) {
	m.linksIssued.WithLabelValues(result).Inc()
}

func (m *Metrics) Verification(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.requests.WithLabelValues(method, route, status).Observe(seconds)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
