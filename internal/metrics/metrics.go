package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tienda"

var (
	// Checkouts counts checkout attempts by result (created, replayed, insufficient_stock, ...).
	Checkouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkouts_total",
		Help:      "Total number of checkout attempts by result.",
	}, []string{"result"})

	// Reconciliations counts payment confirmations by outcome.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_reconciliations_total",
		Help:      "Total number of payment reconciliations by outcome.",
	}, []string{"outcome"})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_expired_total",
		Help:      "Pending orders canceled by the expiry sweep.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
