// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Node bundles every domain-specific collector a running node exposes.
// Each field maps to one of the components named in spec.md §4: dispatch
// queue depth, the dysfunction tracker's per-peer scores, query pipeline
// latency, Anti-Entropy retry volume, DKG round duration and chunk store
// occupancy.
type Node struct {
	QueryLatencySeconds  prometheus.Histogram
	QueryRetries         prometheus.Counter
	NoHoldersTotal        prometheus.Counter
	DysfunctionScore      *prometheus.GaugeVec
	AERetryTotal          prometheus.Counter
	AEProbeTotal          prometheus.Counter
	DKGRoundSeconds       prometheus.Histogram
	StoreUsedBytes        prometheus.Gauge
	StoreJoinsAllowed     prometheus.Gauge
	DispatchQueueDepth    *prometheus.GaugeVec
}

// NewNode constructs and registers every Node collector against reg.
func NewNode(reg prometheus.Registerer) (*Node, error) {
	n := &Node{
		QueryLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "safenode",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "Time from a read dispatch to client delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safenode",
			Subsystem: "query",
			Name:      "retries_total",
			Help:      "Read-path re-selections after DataNotFound.",
		}),
		NoHoldersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safenode",
			Subsystem: "query",
			Name:      "no_holders_total",
			Help:      "Reads that exhausted every candidate holder.",
		}),
		DysfunctionScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safenode",
			Subsystem: "dysfunction",
			Name:      "score",
			Help:      "Latest weighted fault level per reported peer.",
		}, []string{"peer", "group"}),
		AERetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safenode",
			Subsystem: "ae",
			Name:      "retry_total",
			Help:      "AE-Retry responses issued for a stale section key.",
		}),
		AEProbeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safenode",
			Subsystem: "ae",
			Name:      "probe_total",
			Help:      "AE-Probe liveness pings sent.",
		}),
		DKGRoundSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "safenode",
			Subsystem: "dkg",
			Name:      "round_seconds",
			Help:      "Wall-clock duration of a completed DKG session.",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safenode",
			Subsystem: "store",
			Name:      "used_bytes",
			Help:      "Bytes currently occupied in the Adult chunk store.",
		}),
		StoreJoinsAllowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safenode",
			Subsystem: "store",
			Name:      "joins_allowed",
			Help:      "1 if this Adult's capacity still permits new section members, else 0.",
		}),
		DispatchQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safenode",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Inbound items currently queued, by priority class.",
		}, []string{"priority"}),
	}

	collectors := []prometheus.Collector{
		n.QueryLatencySeconds,
		n.QueryRetries,
		n.NoHoldersTotal,
		n.DysfunctionScore,
		n.AERetryTotal,
		n.AEProbeTotal,
		n.DKGRoundSeconds,
		n.StoreUsedBytes,
		n.StoreJoinsAllowed,
		n.DispatchQueueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// SetJoinsAllowed records the current capacity signal as 0 or 1 for
// Prometheus, since gauges have no native boolean type.
func (n *Node) SetJoinsAllowed(allowed bool) {
	if allowed {
		n.StoreJoinsAllowed.Set(1)
	} else {
		n.StoreJoinsAllowed.Set(0)
	}
}
