package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ApprovalsIssued      prometheus.Counter
	ExecutionsDispatched *prometheus.CounterVec
	ExecutionsRejected   *prometheus.CounterVec
	JobsFinished         *prometheus.CounterVec
	RollbacksRequested   prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ApprovalsIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "approvals_issued_total",
				Help:      "Total approvals issued for allowlisted actions",
			}),
			ExecutionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "executions_dispatched_total",
				Help:      "Total execution jobs dispatched, by executor",
			}, []string{"executor"}),
			ExecutionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "executions_rejected_total",
				Help:      "Total execution requests rejected, by reason",
			}, []string{"reason"}),
			JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "jobs_finished_total",
				Help:      "Total jobs reaching a terminal status, by status",
			}, []string{"status"}),
			RollbacksRequested: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "rollbacks_requested_total",
				Help:      "Total rollback requests accepted",
			}),
		}
		prometheus.MustRegister(
			global.ApprovalsIssued,
			global.ExecutionsDispatched,
			global.ExecutionsRejected,
			global.JobsFinished,
			global.RollbacksRequested,
		)
	})
	return global
}
