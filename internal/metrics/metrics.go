package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus instruments behind one registry so
// tests can build isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec
	TradesOpenedTotal *prometheus.CounterVec
	TradesClosedTotal *prometheus.CounterVec
	ReconnectsTotal   prometheus.Counter
	ScreenerRunsTotal *prometheus.CounterVec

	OpenContracts  prometheus.Gauge
	AccountBalance prometheus.Gauge
	DailyPnLPct    prometheus.Gauge
}

// New builds a registry with the full instrument set registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Ticks received per symbol.",
		}, []string{"symbol"}),
		TradesOpenedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_opened_total",
			Help: "Contracts opened per strategy.",
		}, []string{"strategy"}),
		TradesClosedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Contracts settled, labelled win or loss.",
		}, []string{"result"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "deriv_reconnects_total",
			Help: "Broker socket redials since start.",
		}),
		ScreenerRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_runs_total",
			Help: "Screener evaluations per strategy.",
		}, []string{"strategy"}),
		OpenContracts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_contracts",
			Help: "Currently tracked open contracts.",
		}),
		AccountBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_account_balance",
			Help: "Last reported account balance.",
		}),
		DailyPnLPct: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_pnl_pct",
			Help: "Profit or loss percent against the daily start balance.",
		}),
	}
}
