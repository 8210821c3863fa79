package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	received       prometheus.Counter
	receivedBytes  prometheus.Counter
	rejected       *prometheus.CounterVec
	bufferSize     prometheus.Gauge
	applied        prometheus.Counter
	resyncs        *prometheus.CounterVec
	reset          prometheus.Counter
	predicted      prometheus.Counter
	pendingInputs  prometheus.Gauge
	tickAdjustment prometheus.Gauge
}

// NewPrometheus registers the collectors with reg under namespace. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Prometheus{
		received: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_received_total",
			Help:      "Snapshots handed to the state buffer",
		}),
		receivedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_received_total",
			Help:      "Encoded size of received snapshots",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_rejected_total",
			Help:      "Snapshots dropped by the state buffer",
		}, []string{"reason"}),
		bufferSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_buffer_size",
			Help:      "Snapshots waiting in the state buffer",
		}),
		applied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_applied_total",
			Help:      "Server snapshots applied to the simulation",
		}),
		resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_state_requests_total",
			Help:      "Full state requests sent to the server",
		}, []string{"reason"}),
		reset: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_entities_reset_total",
			Help:      "Entities rolled back to their last server state",
		}),
		predicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_predicted_total",
			Help:      "Ticks simulated ahead of the server",
		}),
		pendingInputs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_inputs",
			Help:      "Inputs not yet confirmed by the server",
		}),
		tickAdjustment: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_timing_adjustment",
			Help:      "Relative tick rate correction applied by the host loop",
		}),
	}
}

func (p *Prometheus) SnapshotReceived(bytes int) {
	p.received.Inc()
	p.receivedBytes.Add(float64(bytes))
}

func (p *Prometheus) SnapshotRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) BufferSize(n int) {
	p.bufferSize.Set(float64(n))
}

func (p *Prometheus) StatesApplied(n int) {
	p.applied.Add(float64(n))
}

func (p *Prometheus) Resync(reason string) {
	p.resyncs.WithLabelValues(reason).Inc()
}

func (p *Prometheus) EntitiesReset(n int) {
	p.reset.Add(float64(n))
}

func (p *Prometheus) TicksPredicted(n int) {
	p.predicted.Add(float64(n))
}

func (p *Prometheus) PendingInputs(n int) {
	p.pendingInputs.Set(float64(n))
}

func (p *Prometheus) TickAdjustment(v float32) {
	p.tickAdjustment.Set(float64(v))
}
