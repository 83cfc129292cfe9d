package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsTotal counts finished deployments by type and outcome.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vmforge_deployments_total",
		Help: "Total number of deployments reaching a terminal state",
	}, []string{"type", "outcome"})

	// DeploymentDuration tracks wall time from start to terminal state.
	DeploymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vmforge_deployment_duration_seconds",
		Help:    "Deployment execution time distribution",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
	}, []string{"type"})

	// LogLinesTotal counts log lines emitted during deployments.
	LogLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vmforge_deployment_log_lines_total",
		Help: "Total deployment log lines emitted",
	}, []string{"level"})

	// ReconcileSweepsTotal counts reconciliation sweeps.
	ReconcileSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmforge_reconcile_sweeps_total",
		Help: "Total number of provider reconciliation sweeps",
	})

	// ReconcileActionsTotal counts per-machine reconciliation outcomes.
	ReconcileActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vmforge_reconcile_actions_total",
		Help: "Per-machine reconciliation actions by kind",
	}, []string{"action"})

	// ReconcileMachinesChanged reports how many machines the last sweep changed.
	ReconcileMachinesChanged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vmforge_reconcile_machines_changed",
		Help: "Machines changed by the most recent reconciliation sweep",
	})
)
