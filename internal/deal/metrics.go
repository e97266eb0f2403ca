package deal

import "github.com/prometheus/client_golang/prometheus"

var (
	dealsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "deals",
		Name:      "created_total",
		Help:      "Total deals opened.",
	})

	dealsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "deals",
		Name:      "expired_total",
		Help:      "Total deals expired by the sweep timer.",
	})
)

func init() {
	prometheus.MustRegister(dealsCreated, dealsExpired)
}
