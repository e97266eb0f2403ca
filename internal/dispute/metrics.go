package dispute

import "github.com/prometheus/client_golang/prometheus"

var (
	disputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "disputes",
		Name:      "opened_total",
		Help:      "Total disputes opened.",
	})

	disputesDecided = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "disputes",
		Name:      "decided_total",
		Help:      "Total arbitrator decisions submitted on chain.",
	})

	disputesResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "disputes",
		Name:      "resolved_total",
		Help:      "Total disputes closed by a finalized payout.",
	})

	signerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "disputes",
		Name:      "signer_failures_total",
		Help:      "Total permanently rejected resolution transactions. Any increase needs operator attention.",
	})
)

func init() {
	prometheus.MustRegister(disputesOpened, disputesDecided, disputesResolved, signerFailures)
}
