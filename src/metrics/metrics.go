// Package metrics holds the Prometheus collectors updated by the order lifecycle:
//
//	dca_orders_submitted_total{side,kind}    orders accepted by the exchange (kind: dca|take_profit|manual)
//	dca_reconcile_outcomes_total{outcome}    per-id outcome of a pass (open|expired|settled|retained|failed)
//	dca_settlements_recorded_total{side}     legs newly written to the ledger
//	dca_exchange_failures_total{kind}        transport|rejection
//	dca_pending_orders{symbol}               ids left in the store after a pass
//
// They are registered in init() and served at /metrics by the daemon.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_orders_submitted_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"side", "kind"},
	)

	ReconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_reconcile_outcomes_total",
			Help: "Per order id outcome of a reconciliation pass",
		},
		[]string{"outcome"},
	)

	SettlementsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_settlements_recorded_total",
			Help: "Settled legs newly written to the ledger",
		},
		[]string{"side"},
	)

	ExchangeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_exchange_failures_total",
			Help: "Failed exchange calls by kind",
		},
		[]string{"kind"},
	)

	PendingOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dca_pending_orders",
			Help: "Order ids still outstanding after the last pass",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		ReconcileOutcomes,
		SettlementsRecorded,
		ExchangeFailures,
		PendingOrders,
	)
}
