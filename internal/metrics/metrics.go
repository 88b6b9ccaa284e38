// Package metrics registers the Prometheus instruments updated by the engine
// and served at /metrics in text exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the engine updates. A single instance is
// wired through the app so tests can use a private registry.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	SignalsConsumed    prometheus.Counter
	OrdersSubmitted    *prometheus.CounterVec
	ExitReasons        *prometheus.CounterVec
	ExchangeErrors     *prometheus.CounterVec
	MonitorSkips       *prometheus.CounterVec
	BreakerTrips       prometheus.Counter

	OpenPositions prometheus.Gauge
	BalanceUSD    prometheus.Gauge
	DailyPnLUSD   prometheus.Gauge
	EnginePaused  prometheus.Gauge
}

// New creates the instrument set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_admission_decisions_total",
				Help: "Admission pipeline decisions split by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		SignalsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_signals_consumed_total",
				Help: "Signals read from the inbound stream",
			},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_orders_total",
				Help: "Orders submitted to the exchange gateway",
			},
			[]string{"mode", "side"}, // mode: paper|live
		),
		ExitReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_exit_reasons_total",
				Help: "Position exits split by reason and side",
			},
			[]string{"reason", "side"},
		),
		ExchangeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_exchange_errors_total",
				Help: "Exchange gateway call failures by operation",
			},
			[]string{"op"},
		),
		MonitorSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_monitor_skips_total",
				Help: "Monitoring ticks skipped per position by cause",
			},
			[]string{"cause"}, // no_price|timeout|terminal
		),
		BreakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_breaker_trips_total",
				Help: "Times the safety breaker paused the engine",
			},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_open_positions",
				Help: "Currently open positions",
			},
		),
		BalanceUSD: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_balance_usd",
				Help: "Account balance snapshot in USD",
			},
		),
		DailyPnLUSD: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_daily_pnl_usd",
				Help: "Realized P&L for the current UTC day",
			},
		),
		EnginePaused: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_engine_paused",
				Help: "1 when the safety breaker has paused admissions",
			},
		),
	}

	reg.MustRegister(
		m.AdmissionDecisions,
		m.SignalsConsumed,
		m.OrdersSubmitted,
		m.ExitReasons,
		m.ExchangeErrors,
		m.MonitorSkips,
		m.BreakerTrips,
		m.OpenPositions,
		m.BalanceUSD,
		m.DailyPnLUSD,
		m.EnginePaused,
	)
	return m
}

// NewDefault registers against the global default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
