// Package metrics provides Prometheus metrics for the reconciliation engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registry *Registry
	once     sync.Once
)

// Apply results.
const (
	ResultSuccess    = "success"
	ResultNoop       = "noop"
	ResultFailed     = "failed"
	ResultRolledBack = "rolled_back"
	ResultPending    = "pending"
)

// Checkpoint actions.
const (
	CheckpointCreate   = "create"
	CheckpointCommit   = "commit"
	CheckpointRollback = "rollback"
	CheckpointExpire   = "expire"
	CheckpointRecover  = "recover"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	// Apply sessions
	ApplyTotal           *prometheus.CounterVec
	ApplyDuration        prometheus.Histogram
	VerificationFailures prometheus.Counter
	DNSGlobalFallback    prometheus.Counter

	// Checkpoints
	CheckpointTotal  *prometheus.CounterVec
	CheckpointActive *prometheus.GaugeVec

	// Backend operation queue
	QueueOps        *prometheus.CounterVec
	QueueOpDuration *prometheus.HistogramVec

	// Link statistics
	LinkUp        *prometheus.GaugeVec
	LinkRxBytes   *prometheus.GaugeVec
	LinkTxBytes   *prometheus.GaugeVec
	LinkRxPackets *prometheus.GaugeVec
	LinkTxPackets *prometheus.GaugeVec
	LinkErrors    *prometheus.GaugeVec
}

// Get returns the global metrics registry.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ApplyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostnet_apply_total",
		Help: "Apply sessions by result",
	}, []string{"result"})

	r.ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hostnet_apply_duration_seconds",
		Help:    "Duration of apply sessions",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	r.VerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostnet_verification_failures_total",
		Help: "Verification attempts that found a mismatch",
	})

	r.DNSGlobalFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostnet_dns_global_fallback_total",
		Help: "Apply sessions that wrote DNS system-wide instead of per interface",
	})

	r.CheckpointTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostnet_checkpoint_total",
		Help: "Checkpoint lifecycle events",
	}, []string{"action"})

	r.CheckpointActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_checkpoint_active",
		Help: "1 while a plugin holds an open checkpoint",
	}, []string{"plugin"})

	r.QueueOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostnet_queue_ops_total",
		Help: "Backend operations by kind and result",
	}, []string{"op", "result"})

	r.QueueOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hostnet_queue_op_duration_seconds",
		Help:    "Duration of backend operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	r.LinkUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_up",
		Help: "Operational state of each link (1 = up)",
	}, []string{"interface"})

	r.LinkRxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_rx_bytes",
		Help: "Bytes received per link",
	}, []string{"interface"})

	r.LinkTxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_tx_bytes",
		Help: "Bytes transmitted per link",
	}, []string{"interface"})

	r.LinkRxPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_rx_packets",
		Help: "Packets received per link",
	}, []string{"interface"})

	r.LinkTxPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_tx_packets",
		Help: "Packets transmitted per link",
	}, []string{"interface"})

	r.LinkErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostnet_link_errors",
		Help: "Link errors per direction",
	}, []string{"interface", "direction"})

	return r
}

// RecordApply records the outcome of an apply session.
func (r *Registry) RecordApply(result string, d time.Duration) {
	r.ApplyTotal.WithLabelValues(result).Inc()
	r.ApplyDuration.Observe(d.Seconds())
}

// RecordCheckpoint records a checkpoint lifecycle event and the
// resulting open state of the plugin's checkpoint.
func (r *Registry) RecordCheckpoint(plugin, action string) {
	r.CheckpointTotal.WithLabelValues(action).Inc()
	if action == CheckpointCreate || action == CheckpointRecover {
		r.CheckpointActive.WithLabelValues(plugin).Set(1)
	} else {
		r.CheckpointActive.WithLabelValues(plugin).Set(0)
	}
}

// RecordQueueOp records a finished backend operation.
func (r *Registry) RecordQueueOp(op, result string, d time.Duration) {
	r.QueueOps.WithLabelValues(op, result).Inc()
	r.QueueOpDuration.WithLabelValues(op).Observe(d.Seconds())
}
