package blade

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus surface exposed by a Handle. Register wires
// these into any prometheus.Registerer; callers typically pass
// prometheus.DefaultRegisterer from cmd/bladenode.
type Metrics struct {
	RouteTableSize     prometheus.Gauge
	ActiveSessions     prometheus.Gauge
	UpstreamState      prometheus.Gauge
	RPCDispatched      *prometheus.CounterVec
	BroadcastFanout    prometheus.Histogram
	SubscribePropagate *prometheus.CounterVec
}

// NewMetrics constructs a Metrics with unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		RouteTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blade",
			Name:      "route_table_size",
			Help:      "Number of entries currently held in the route table.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blade",
			Name:      "active_sessions",
			Help:      "Number of currently established sessions, upstream and downstream.",
		}),
		UpstreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blade",
			Name:      "upstream_state",
			Help:      "Current UpstreamState as an integer (NONE=0, CONNECTING=1, UP=2, DISCONNECTED=3).",
		}),
		RPCDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blade",
			Name:      "rpc_dispatched_total",
			Help:      "Count of dispatched RPCs by method and outcome.",
		}, []string{"method", "outcome"}),
		BroadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blade",
			Name:      "broadcast_fanout_size",
			Help:      "Number of sessions/local callbacks a single broadcast was delivered to.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		SubscribePropagate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blade",
			Name:      "subscribe_propagate_total",
			Help:      "Count of subscribe/unsubscribe propagation events sent upstream.",
		}, []string{"direction"}),
	}
}

// Register installs every collector on reg. Safe to call once per Metrics
// instance; registering the same Metrics twice will return an
// AlreadyRegisteredError from the underlying registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RouteTableSize, m.ActiveSessions, m.UpstreamState, m.RPCDispatched,
		m.BroadcastFanout, m.SubscribePropagate,
	} {
		if err := reg.Register(c); err != nil {
			return WrapError(CodeInternal, err, "register metrics collector")
		}
	}
	return nil
}
