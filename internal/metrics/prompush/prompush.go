// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Batch jobs are not scraped, so metrics live in a private registry and are
// pushed on Flush. Each push replaces the job's previous group.
package prompush

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"tripetl/internal/metrics"
)

type counterSpec struct {
	help   string
	labels []string
}

var counterSpecs = map[string]counterSpec{
	"etl_records_total":               {"Input records by outcome.", []string{"kind"}},
	"etl_batches_total":               {"Committed batches.", nil},
	"etl_step_total":                  {"Step executions by status.", []string{"step", "status"}},
	"etl_dimension_resolutions_total": {"Dimension key resolutions by outcome.", []string{"dimension", "outcome"}},
}

var histogramSpecs = map[string]counterSpec{
	"etl_step_duration_seconds": {"Step duration in seconds.", []string{"step", "status"}},
}

// Backend implements metrics.Backend for the Pushgateway. Unknown metric
// names are ignored.
type Backend struct {
	pusher *push.Pusher
	reg    *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
}

// NewBackend pushes to gatewayURL under job. grouping adds extra grouping
// labels (e.g. run_id).
func NewBackend(job, gatewayURL string, grouping map[string]string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}
	if job == "" {
		job = "trips_etl"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec, len(counterSpecs)),
		hists:    make(map[string]*prometheus.HistogramVec, len(histogramSpecs)),
	}

	for name, s := range counterSpecs {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: s.help}, s.labels)
		if err := reg.Register(cv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
		b.counters[name] = cv
	}
	for name, s := range histogramSpecs {
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    s.help,
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, s.labels)
		if err := reg.Register(hv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
		b.hists[name] = hv
	}

	p := push.New(gatewayURL, job).Gatherer(reg)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	b.pusher = p
	return b, nil
}

func values(names []string, l metrics.Labels) []string {
	out := make([]string, len(names))
	for i, n := range names {
		v := l[n]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	cv, ok := b.counters[name]
	if !ok {
		return
	}
	cv.WithLabelValues(values(counterSpecs[name].labels, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	hv, ok := b.hists[name]
	if !ok {
		return
	}
	hv.WithLabelValues(values(histogramSpecs[name].labels, labels)...).Observe(value)
}

// Flush pushes the current values, replacing the group on the gateway.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
