// Package monitoring exposes Prometheus metrics and health endpoints for the
// vault. It consumes ledger events; it never touches ledger state directly.
package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multi-strategy-vault/ledger"
)

var (
	strategiesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_strategies_created_total",
			Help: "Total number of strategies created",
		},
	)

	capitalFlow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_capital_flow_total",
			Help: "Capital invested and withdrawn, by direction",
		},
		[]string{"strategy", "direction"},
	)

	rebalancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_rebalances_total",
			Help: "Total number of completed rebalance passes",
		},
		[]string{"strategy"},
	)

	gridFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_grid_fills_total",
			Help: "Total number of grid ladder fills",
		},
		[]string{"strategy"},
	)

	dcaLegsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_dca_legs_total",
			Help: "Total number of executed DCA legs",
		},
		[]string{"strategy"},
	)

	arbitrageTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_arbitrage_executed_total",
			Help: "Total number of executed arbitrage opportunities",
		},
	)

	emergencyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_emergency_stops_total",
			Help: "Total number of emergency stops",
		},
	)

	rebalanceSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_rebalance_skips_total",
			Help: "Rebalance passes skipped because the strategy was busy",
		},
		[]string{"strategy"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(strategiesCreated)
	prometheus.MustRegister(capitalFlow)
	prometheus.MustRegister(rebalancesTotal)
	prometheus.MustRegister(gridFillsTotal)
	prometheus.MustRegister(dcaLegsTotal)
	prometheus.MustRegister(arbitrageTotal)
	prometheus.MustRegister(emergencyStopsTotal)
	prometheus.MustRegister(rebalanceSkipsTotal)
	prometheus.MustRegister(errorsTotal)
}

// EventSink translates ledger events into metric updates. Register it on the
// ledger's event bus.
func EventSink(ev ledger.Event) {
	switch ev.Type {
	case ledger.EventStrategyCreated:
		strategiesCreated.Inc()
	case ledger.EventInvested:
		amount, _ := ev.Amount.Float64()
		capitalFlow.WithLabelValues(ev.StrategyID, "in").Add(amount)
	case ledger.EventWithdrawn:
		amount, _ := ev.Amount.Float64()
		capitalFlow.WithLabelValues(ev.StrategyID, "out").Add(amount)
	case ledger.EventRebalanced:
		rebalancesTotal.WithLabelValues(ev.StrategyID).Inc()
	case ledger.EventGridOrderFilled:
		gridFillsTotal.WithLabelValues(ev.StrategyID).Inc()
	case ledger.EventDCAExecuted:
		dcaLegsTotal.WithLabelValues(ev.StrategyID).Inc()
	case ledger.EventArbitrageExecuted:
		arbitrageTotal.Inc()
	case ledger.EventEmergencyStopped:
		emergencyStopsTotal.Inc()
	}
}

// RecordRebalanceSkip counts a rebalance pass skipped on a held section.
func RecordRebalanceSkip(strategyID string) {
	rebalanceSkipsTotal.WithLabelValues(strategyID).Inc()
}

// RecordError records an error metric by type.
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HealthHandler serves a minimal liveness endpoint.
func HealthHandler(startedAt time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"uptime": time.Since(startedAt).String(),
		})
	})
}
