package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"max.com/margin/pkg/risk"
)

// Metrics 监控服务的 Prometheus 指标，nil 安全
type Metrics struct {
	evaluations *prometheus.CounterVec
	errors      *prometheus.CounterVec
	alerts      prometheus.Counter
	accounts    *prometheus.GaugeVec
	stale       prometheus.Gauge
	utilization *prometheus.GaugeVec
	borrowAPR   *prometheus.GaugeVec
	rescanSecs  prometheus.Histogram
}

// NewMetrics 创建并注册指标，reg 为 nil 时注册到默认 registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_risk_evaluations_total",
			Help: "Risk evaluations by resulting level.",
		}, []string{"level"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_errors_total",
			Help: "Failed operations by kind.",
		}, []string{"kind"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "margin_liquidation_alerts_total",
			Help: "Liquidation alerts emitted.",
		}),
		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_accounts_at_risk",
			Help: "Indexed accounts per risk level.",
		}, []string{"level"}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "margin_accounts_stale",
			Help: "Indexed accounts whose last evaluation had no usable price.",
		}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_pool_utilization_ratio",
			Help: "Pool utilization (0-1).",
		}, []string{"pool"}),
		borrowAPR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_pool_borrow_apr",
			Help: "Pool borrow APR as a fraction.",
		}, []string{"pool"}),
		rescanSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_rescan_duration_seconds",
			Help:    "Full account rescan duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.evaluations, m.errors, m.alerts, m.accounts, m.stale, m.utilization, m.borrowAPR, m.rescanSecs)
	return m
}

func (m *Metrics) observeEvaluation(level risk.Level) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(level.String()).Inc()
}

func (m *Metrics) observeError(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeAlert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) setLevels(counts map[risk.Level]int) {
	if m == nil {
		return
	}
	for level, n := range counts {
		m.accounts.WithLabelValues(level.String()).Set(float64(n))
	}
}

func (m *Metrics) setStale(n int) {
	if m == nil {
		return
	}
	m.stale.Set(float64(n))
}

func (m *Metrics) setPool(poolID string, utilization, borrowAPR float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(poolID).Set(utilization)
	m.borrowAPR.WithLabelValues(poolID).Set(borrowAPR)
}

func (m *Metrics) observeRescan(seconds float64) {
	if m == nil {
		return
	}
	m.rescanSecs.Observe(seconds)
}
