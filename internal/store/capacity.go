// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

// CapacityMonitor derives the node's joins_allowed signal from its used
// space against the configured quota, per spec.md §3's capacity/
// min_capacity_threshold fields. It holds no lock of its own: callers
// sample UsedSpace() from a Backend and feed the result in, keeping the
// monitor itself a pure function of its inputs.
type CapacityMonitor struct {
	maxCapacity uint64
	threshold   float64
}

// NewCapacityMonitor creates a monitor for the given quota and
// min_capacity_threshold (a fraction of maxCapacity above which the node
// stops accepting new members).
func NewCapacityMonitor(maxCapacity uint64, threshold float64) CapacityMonitor {
	return CapacityMonitor{maxCapacity: maxCapacity, threshold: threshold}
}

// JoinsAllowed reports whether a node at usedBytes may still accept new
// section members.
func (m CapacityMonitor) JoinsAllowed(usedBytes uint64) bool {
	if m.maxCapacity == 0 {
		return false
	}
	return float64(usedBytes) < float64(m.maxCapacity)*m.threshold
}

// Fraction returns usedBytes / maxCapacity, for metrics.
func (m CapacityMonitor) Fraction(usedBytes uint64) float64 {
	if m.maxCapacity == 0 {
		return 1
	}
	return float64(usedBytes) / float64(m.maxCapacity)
}
