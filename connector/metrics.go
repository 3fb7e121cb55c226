// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package connector

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/ballot/utils"
)

type connectorMetrics struct {
	numPending        metric.Gauge
	numConfirmed      metric.Counter
	numRetried        metric.Counter
	numAbandoned      metric.Counter
	numDuplicates     metric.Counter
	numInvalidSigs    metric.Counter
	numMalformed      metric.Counter
	numConsumerErrors metric.Counter
}

func newMetrics(registerer metric.Registerer) (*connectorMetrics, error) {
	m := &connectorMetrics{
		numPending: metric.NewGauge(metric.GaugeOpts{
			Name: "connector_pending_submissions",
			Help: "Number of envelopes awaiting ledger confirmation",
		}),
		numConfirmed: metric.NewCounter(metric.CounterOpts{
			Name: "connector_confirmed_total",
			Help: "Number of envelopes confirmed by the ledger",
		}),
		numRetried: metric.NewCounter(metric.CounterOpts{
			Name: "connector_retried_total",
			Help: "Number of envelope resubmissions",
		}),
		numAbandoned: metric.NewCounter(metric.CounterOpts{
			Name: "connector_abandoned_total",
			Help: "Number of envelopes abandoned past the retry ceiling",
		}),
		numDuplicates: metric.NewCounter(metric.CounterOpts{
			Name: "connector_duplicates_total",
			Help: "Number of redelivered envelopes dropped by deduplication",
		}),
		numInvalidSigs: metric.NewCounter(metric.CounterOpts{
			Name: "connector_invalid_signatures_total",
			Help: "Number of inbound envelopes dropped for failed verification",
		}),
		numMalformed: metric.NewCounter(metric.CounterOpts{
			Name: "connector_malformed_total",
			Help: "Number of inbound payloads dropped as undecodable",
		}),
		numConsumerErrors: metric.NewCounter(metric.CounterOpts{
			Name: "connector_consumer_errors_total",
			Help: "Number of consumer dispatch failures",
		}),
	}

	err := utils.Err(
		registerer.Register(metric.AsCollector(m.numPending)),
		registerer.Register(metric.AsCollector(m.numConfirmed)),
		registerer.Register(metric.AsCollector(m.numRetried)),
		registerer.Register(metric.AsCollector(m.numAbandoned)),
		registerer.Register(metric.AsCollector(m.numDuplicates)),
		registerer.Register(metric.AsCollector(m.numInvalidSigs)),
		registerer.Register(metric.AsCollector(m.numMalformed)),
		registerer.Register(metric.AsCollector(m.numConsumerErrors)),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
