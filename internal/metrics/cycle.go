// Package metrics exposes the prometheus collectors used to observe the
// cycle lifecycle: commit attempts, retirement sweeps, and the
// reopen-log-files operation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommitTotal counts Coordinator.Commit outcomes by status.
	//
	// Labels:
	//   - status: committed, rolled_back
	CommitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confcycle_commit_total",
			Help: "Total number of cycle commit attempts by outcome",
		},
		[]string{"status"},
	)

	// CommitDuration observes how long a full Commit call takes, from lock
	// acquisition through either commit or rollback.
	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "confcycle_commit_duration_seconds",
			Help:    "Duration of cycle commit attempts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	// RetiringCycles is the number of cycles currently held by the
	// retirement sweeper, waiting for their last connection to drain.
	RetiringCycles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "confcycle_retiring_cycles",
			Help: "Number of retired cycles still waiting to drain",
		},
	)

	// CyclesDestroyed counts cycles torn down by the retirement sweeper.
	CyclesDestroyed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confcycle_cycles_destroyed_total",
			Help: "Total number of cycles destroyed after draining",
		},
	)

	// ReopenLogTotal counts reopen-log-files operations by outcome.
	//
	// Labels:
	//   - status: ok, error
	ReopenLogTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confcycle_reopen_log_total",
			Help: "Total number of reopen-log-files operations by outcome",
		},
		[]string{"status"},
	)

	// CurrentCycleGeneration tracks the ordinal of the currently committed
	// cycle, incremented on every successful commit.
	CurrentCycleGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "confcycle_current_generation",
			Help: "Generation number of the currently committed cycle",
		},
	)
)
