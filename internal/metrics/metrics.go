// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the node's domain counters, gauges and histograms
// into a single prometheus.Gatherer exposed over HTTP. MultiGatherer holds
// one sub-gatherer per namespace; cmd/safenode registers a single registry,
// holding every Node collector, under the "safenode" namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MultiGatherer is a collection of prometheus.Gatherers, one per
// subsystem namespace.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds gatherer under namespace. Registering the same
	// namespace twice replaces the prior gatherer.
	Register(namespace string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer returns an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{
		gatherers: make(map[string]prometheus.Gatherer),
	}
}

func (m *multiGatherer) Register(namespace string, gatherer prometheus.Gatherer) error {
	m.gatherers[namespace] = gatherer
	return nil
}

// Gather implements prometheus.Gatherer by concatenating every registered
// sub-gatherer's families.
func (m *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var result []*dto.MetricFamily

	for _, gatherer := range m.gatherers {
		families, err := gatherer.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, families...)
	}

	return result, nil
}
