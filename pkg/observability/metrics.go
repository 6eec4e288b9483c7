package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the mesh counters. Every method is nil-safe so components
// can run without a metrics sink in tests.
type Metrics struct {
	reg *prometheus.Registry

	probes       *prometheus.CounterVec
	sends        *prometheus.CounterVec
	dispatches   *prometheus.CounterVec
	authFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillmesh_discovery_probes_total",
		Help: "Discovery probe outcomes.",
	}, []string{"result"})
	m.sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillmesh_transport_sends_total",
		Help: "Outbound send outcomes by transport kind.",
	}, []string{"transport", "result"})
	m.dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillmesh_router_dispatch_total",
		Help: "Router dispatch outcomes.",
	}, []string{"outcome"})
	m.authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skillmesh_auth_failures_total",
		Help: "Signature and handshake verification failures.",
	})
	m.reg.MustRegister(m.probes, m.sends, m.dispatches, m.authFailures)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProbe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSend(transport string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sends.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
