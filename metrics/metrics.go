// Package metrics exports database events as Prometheus metrics.
//
// The Collector implements the monitor interfaces of the txlog, checkpoint
// and recovery packages, so one instance can be passed to all three monitor
// slots in neurite.Options.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/recovery"
	"github.com/neuritedb/neurite/txlog"
)

var (
	_ txlog.Monitor      = (*Collector)(nil)
	_ checkpoint.Monitor = (*Collector)(nil)
	_ recovery.Monitor   = (*Collector)(nil)
)

// Collector translates database events into Prometheus metrics.
type Collector struct {
	rotations         prometheus.Counter
	rotationSeconds   prometheus.Histogram
	forcedFlushes     prometheus.Counter
	checkpoints       *prometheus.CounterVec
	checkpointSeconds prometheus.Histogram
	recoveries        prometheus.Counter
	recoveredTx       prometheus.Counter
	recoverySeconds   prometheus.Histogram
	replayLowestTx    prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics with reg.
// A nil registerer falls back to the Prometheus default registry.
// Registration panics on duplicate metric names, so create at most one
// collector per registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurite_log_rotations_total",
			Help: "Total number of completed transaction log rotations",
		}),
		rotationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurite_log_rotation_seconds",
			Help:    "Histogram of transaction log rotation duration",
			Buckets: prometheus.DefBuckets,
		}),
		forcedFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurite_log_forced_flushes_total",
			Help: "Total number of flushes forced by group-commit coalescing",
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neurite_checkpoints_total",
			Help: "Total number of checkpoint records written, by reason",
		}, []string{"reason"}),
		checkpointSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurite_checkpoint_seconds",
			Help:    "Histogram of checkpoint write duration",
			Buckets: prometheus.DefBuckets,
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurite_recoveries_total",
			Help: "Total number of recovery runs started",
		}),
		recoveredTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurite_recovered_transactions_total",
			Help: "Total number of transactions replayed by recovery",
		}),
		recoverySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurite_recovery_seconds",
			Help:    "Histogram of recovery run duration",
			Buckets: prometheus.DefBuckets,
		}),
		replayLowestTx: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neurite_recovery_replay_lowest_tx",
			Help: "Lowest transaction id the last recovery run had to replay",
		}),
	}

	reg.MustRegister(
		c.rotations,
		c.rotationSeconds,
		c.forcedFlushes,
		c.checkpoints,
		c.checkpointSeconds,
		c.recoveries,
		c.recoveredTx,
		c.recoverySeconds,
		c.replayLowestTx,
	)

	return c
}

// LogRotated implements txlog.Monitor.
func (c *Collector) LogRotated(oldVersion, newVersion uint64, elapsed time.Duration) {
	c.rotations.Inc()
	c.rotationSeconds.Observe(elapsed.Seconds())
}

// LogForced implements txlog.Monitor.
func (c *Collector) LogForced() {
	c.forcedFlushes.Inc()
}

// CheckpointWritten implements checkpoint.Monitor.
func (c *Collector) CheckpointWritten(info checkpoint.Info, elapsed time.Duration) {
	c.checkpoints.WithLabelValues(info.Reason).Inc()
	c.checkpointSeconds.Observe(elapsed.Seconds())
}

// RecoveryRequired implements recovery.Monitor.
func (c *Collector) RecoveryRequired() {
	c.recoveries.Inc()
}

// ReverseRecoveryCompleted implements recovery.Monitor.
func (c *Collector) ReverseRecoveryCompleted(lowestTx uint64) {
	c.replayLowestTx.Set(float64(lowestTx))
}

// RecoveryCompleted implements recovery.Monitor.
func (c *Collector) RecoveryCompleted(recovered int, elapsed time.Duration) {
	c.recoveredTx.Add(float64(recovered))
	c.recoverySeconds.Observe(elapsed.Seconds())
}
