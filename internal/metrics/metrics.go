// Package metrics exports verification run statistics in the Prometheus
// text format.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/vouch"
)

const namespace = "vouch"

// Run collects the statistics of one verification run.
type Run struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	verdicts *prometheus.CounterVec
}

// NewRun returns a Run whose stage timings are read from ds at collection time.
func NewRun(ds *vouch.Durations) (*Run, error) {
	if ds == nil {
		return nil, errors.New("durations is nil")
	}
	r := &Run{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependencies_total",
			Help:      "Dependencies processed by final state",
		}, []string{"state"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Completed verifications by result",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{r.outcomes, r.verdicts, &stageCollector{ds: ds}} {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records the status of every dependency in deps.
func (r *Run) Observe(deps []*vouch.Dependency) {
	for _, dep := range deps {
		st := dep.Status
		r.outcomes.WithLabelValues(st.State.String()).Inc()
		if st.State == vouch.StateOK && st.Record != nil {
			r.verdicts.WithLabelValues(st.Record.Verification.String()).Inc()
		}
	}
}

// Gatherer exposes the underlying registry.
func (r *Run) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteFile writes the collected metrics to path for the node exporter
// textfile collector.
func (r *Run) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

var stageDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "stage_seconds_total"),
	"Time spent per verification stage",
	[]string{"stage"}, nil,
)

// stageCollector reports a Durations snapshot as counters.
type stageCollector struct {
	ds *vouch.Durations
}

func (c *stageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- stageDesc
}

func (c *stageCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.ds.Snapshot()
	for _, s := range vouch.Stages {
		ch <- prometheus.MustNewConstMetric(stageDesc, prometheus.CounterValue, snap.Get(s).Seconds(), s.String())
	}
}
