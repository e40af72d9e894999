// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremigration "github.com/juju/healthmigration/core/migration"
)

const metricsNamespace = "healthmigration"

// Collector is a prometheus.Collector that collects metrics about the
// health data migration.
type Collector struct {
	transitions    *prometheus.CounterVec
	startAttempts  prometheus.Counter
	appliedBatches *prometheus.CounterVec
	batchSize      prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "state_transitions_total",
				Help:      "The number of migration state transitions.",
			}, []string{"from", "to", "timeout"},
		),
		startAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "start_attempts_total",
				Help:      "The number of calls starting the migration.",
			},
		),
		appliedBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "applied_batches_total",
				Help:      "The number of migrated entity batches applied.",
			}, []string{"result"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "batch_size",
				Help:      "The number of entities in a migrated batch.",
				Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.transitions.Describe(ch)
	c.startAttempts.Describe(ch)
	c.appliedBatches.Describe(ch)
	c.batchSize.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.transitions.Collect(ch)
	c.startAttempts.Collect(ch)
	c.appliedBatches.Collect(ch)
	c.batchSize.Collect(ch)
}

func (c *Collector) transitioned(t coremigration.Transition) {
	c.transitions.WithLabelValues(t.From.String(), t.To.String(), strconv.FormatBool(t.IsTimeout)).Inc()
}

func (c *Collector) started() {
	c.startAttempts.Inc()
}

func (c *Collector) applied(entities int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.appliedBatches.WithLabelValues(result).Inc()
	c.batchSize.Observe(float64(entities))
}
