package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsd_deliveries_total",
			Help: "Send request lifecycle counter by stage and event type",
		},
		[]string{"stage", "event_type"}, // queued|sent|failed|retried|invalid_phone|skipped , manual|campaign|webhook
	)
)

// MustRegister registers all collectors; already-registered collectors are
// fine, so serve and worker wiring can share a process in tests.
func MustRegister(r prometheus.Registerer) {
	for _, col := range []prometheus.Collector{
		DeliveriesTotal,
	} {
		if err := r.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
