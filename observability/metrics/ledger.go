package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics captures checkpoint cycle activity and the shared accrual
// state of the collateral ledger.
type LedgerMetrics struct {
	cycles             *prometheus.CounterVec
	atRisk             prometheus.Counter
	touched            prometheus.Histogram
	settlements        *prometheus.CounterVec
	exchangeRate       prometheus.Gauge
	interestMultiplier prometheus.Gauge
	feeMultiplier      prometheus.Gauge
	openPositions      prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "cycles_total",
				Help:      "Checkpoint cycles segmented by outcome.",
			}, []string{"outcome"}),
			atRisk: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "positions_at_risk_total",
				Help:      "Cycles rejected because a touched position failed the solvency check.",
			}),
			touched: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "touched_positions",
				Help:      "Number of positions re-validated per committed cycle.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "settlements_total",
				Help:      "Custody movements executed after committed cycles.",
			}, []string{"kind"}),
			exchangeRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "exchange_rate",
				Help:      "Current smoothed exchange rate of the ledger unit.",
			}),
			interestMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "interest_multiplier",
				Help:      "Cumulative interest multiplier applied to real debt.",
			}),
			feeMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "fee_multiplier",
				Help:      "Cumulative fee multiplier applied to real debt.",
			}),
			openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "ledger",
				Name:      "open_positions",
				Help:      "Number of open positions excluding the aggregate position.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.cycles,
			ledgerRegistry.atRisk,
			ledgerRegistry.touched,
			ledgerRegistry.settlements,
			ledgerRegistry.exchangeRate,
			ledgerRegistry.interestMultiplier,
			ledgerRegistry.feeMultiplier,
			ledgerRegistry.openPositions,
		)
	})
	return ledgerRegistry
}

// ObserveCycle records the outcome of a cycle. Outcomes should be stable
// strings such as "committed" or "aborted".
func (m *LedgerMetrics) ObserveCycle(outcome string, touched int) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		m.touched.Observe(float64(touched))
	}
}

func (m *LedgerMetrics) RecordAtRisk() {
	if m == nil {
		return
	}
	m.atRisk.Inc()
}

func (m *LedgerMetrics) RecordSettlement(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.settlements.WithLabelValues(kind).Inc()
}

// SetAccrual publishes the shared accrual state after a cycle.
func (m *LedgerMetrics) SetAccrual(exchangeRate, interestMultiplier, feeMultiplier float64) {
	if m == nil {
		return
	}
	m.exchangeRate.Set(exchangeRate)
	m.interestMultiplier.Set(interestMultiplier)
	m.feeMultiplier.Set(feeMultiplier)
}

func (m *LedgerMetrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}
