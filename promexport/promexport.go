// Package promexport adapts corerun's per-CPU Metrics to Prometheus, for
// deployments that already scrape a /metrics endpoint rather than reading
// Metrics.Snapshot programmatically.
package promexport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/corelace/corerun/internal/rterrors"
)

var (
	readOps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_read_ops_total",
			Help: "Total completed read operations, by CPU shard.",
		},
		[]string{"cpu"},
	)
	writeOps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_write_ops_total",
			Help: "Total completed write operations, by CPU shard.",
		},
		[]string{"cpu"},
	)
	readBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_read_bytes_total",
			Help: "Total bytes read, by CPU shard.",
		},
		[]string{"cpu"},
	)
	writeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_write_bytes_total",
			Help: "Total bytes written, by CPU shard.",
		},
		[]string{"cpu"},
	)
	tasksRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_tasks_run_total",
			Help: "Total tasks drained from the per-CPU queue.",
		},
		[]string{"cpu"},
	)
	timersFired = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corerun_timers_fired_total",
			Help: "Total timer wheel callbacks fired.",
		},
		[]string{"cpu"},
	)
	latency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "corerun_op_latency_seconds",
			Help: "Observed read/write latency in seconds, by CPU shard.",
			// Mirrors Metrics.LatencyBuckets (1us..10s) converted to seconds.
			Buckets: []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, 10},
		},
		[]string{"cpu"},
	)
)

// Snapshotter is the subset of *corerun.CPU this package needs: an id and
// a metrics snapshot. Depending on the interface rather than the concrete
// type avoids an import cycle between corerun and promexport.
type Snapshotter interface {
	ID() int
	MetricsSnapshot() MetricsSnapshot
}

// MetricsSnapshot mirrors the fields of corerun.MetricsSnapshot that this
// package exports; corerun satisfies this by construction (see
// corerun.CPU.MetricsSnapshot).
type MetricsSnapshot struct {
	ReadOps      uint64
	WriteOps     uint64
	ReadBytes    uint64
	WriteBytes   uint64
	TasksRun     uint64
	TimersFired  uint64
	AvgLatencyNs uint64
}

// Observe publishes one CPU's current metrics snapshot to the registered
// Prometheus collectors. Call this periodically (e.g. from a ticker) for
// each CPU in a CPUSet.
func Observe(cpu Snapshotter) error {
	if cpu == nil {
		return rterrors.New("promexport.Observe", rterrors.CodeInvalidArgument, "nil snapshotter")
	}
	label := strconv.Itoa(cpu.ID())
	snap := cpu.MetricsSnapshot()

	readOps.WithLabelValues(label).Set(float64(snap.ReadOps))
	writeOps.WithLabelValues(label).Set(float64(snap.WriteOps))
	readBytes.WithLabelValues(label).Set(float64(snap.ReadBytes))
	writeBytes.WithLabelValues(label).Set(float64(snap.WriteBytes))
	tasksRun.WithLabelValues(label).Set(float64(snap.TasksRun))
	timersFired.WithLabelValues(label).Set(float64(snap.TimersFired))
	latency.WithLabelValues(label).Observe(float64(snap.AvgLatencyNs) / 1e9)
	return nil
}
