package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总服务指标。方法对 nil 接收者安全，测试里可以不注入。
type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	CheckoutSteps  *prometheus.CounterVec
	GatewayCharges *prometheus.CounterVec
	Settlements    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New 在给定 registry 上注册全部指标。
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flea_market",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flea_market",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		CheckoutSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flea_market",
			Subsystem: "checkout",
			Name:      "steps_total",
			Help:      "Checkout step outcomes.",
		}, []string{"step", "result"}),
		GatewayCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flea_market",
			Subsystem: "payment",
			Name:      "charges_total",
			Help:      "Charge gateway outcomes.",
		}, []string{"outcome"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flea_market",
			Subsystem: "checkout",
			Name:      "settlements_total",
			Help:      "Settlement transaction outcomes after a successful charge.",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.CheckoutSteps, m.GatewayCharges, m.Settlements)
	return m
}

func (m *Metrics) ObserveStep(step, result string) {
	if m == nil {
		return
	}
	m.CheckoutSteps.WithLabelValues(step, result).Inc()
}

func (m *Metrics) ObserveCharge(outcome string) {
	if m == nil {
		return
	}
	m.GatewayCharges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSettlement(result string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(handler, status string, latencyMS float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(latencyMS)
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
