package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters on a private registry. A nil *Metrics
// is a valid no-op sink so hot paths never have to branch on wiring.
type Metrics struct {
	registry *prometheus.Registry

	ParseSkips  prometheus.Counter
	BookRejects prometheus.Counter
	StaleDrops  prometheus.Counter

	BackpressureDrops *prometheus.CounterVec // policy: drop_newest|drop_oldest
	ResyncSignals     prometheus.Counter

	WSFailures   *prometheus.CounterVec // venue
	RouterOrders *prometheus.CounterVec // outcome: routed|rejected
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ParseSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "md_parse_skips_total",
		Help: "Frames or levels skipped by a venue parser",
	})
	m.BookRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "md_book_rejects_total",
		Help: "Book events discarded for invalid price or size",
	})
	m.StaleDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "md_stale_drops_total",
		Help: "Deltas dropped as older than the book sequence watermark",
	})
	m.BackpressureDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "md_backpressure_drops_total",
		Help: "Raw frames dropped or evicted on a full ring, by policy",
	}, []string{"policy"})
	m.ResyncSignals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "md_resync_signals_total",
		Help: "Ring-full events that raised the resync flag",
	})
	m.WSFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_failures_total",
		Help: "WebSocket connect/read failures by venue",
	}, []string{"venue"})
	m.RouterOrders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_orders_total",
		Help: "Order-entry outcomes",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.ParseSkips, m.BookRejects, m.StaleDrops,
		m.BackpressureDrops, m.ResyncSignals,
		m.WSFailures, m.RouterOrders,
	)
	return m
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncParseSkip() {
	if m != nil {
		m.ParseSkips.Inc()
	}
}

func (m *Metrics) IncBookReject() {
	if m != nil {
		m.BookRejects.Inc()
	}
}

func (m *Metrics) IncStaleDrop() {
	if m != nil {
		m.StaleDrops.Inc()
	}
}

func (m *Metrics) IncBackpressureDrop(policy string) {
	if m != nil {
		m.BackpressureDrops.WithLabelValues(policy).Inc()
	}
}

func (m *Metrics) IncResyncSignal() {
	if m != nil {
		m.ResyncSignals.Inc()
	}
}

func (m *Metrics) IncWSFailure(venue string) {
	if m != nil {
		m.WSFailures.WithLabelValues(venue).Inc()
	}
}

func (m *Metrics) IncRouterOrder(outcome string) {
	if m != nil {
		m.RouterOrders.WithLabelValues(outcome).Inc()
	}
}
