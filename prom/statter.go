// Package prom implements wikicounts.Statter on a Prometheus registry which
// is pushed to a Pushgateway when a run ends. Runs are batch jobs, so there
// is nothing long lived for Prometheus to scrape.
package prom

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "wikicounts"

// Statter collects stats as Prometheus metrics. Stat names like
// "fetch.bytes" become metric names like wikicounts_fetch_bytes_total.
type Statter struct {
	mu       sync.Mutex
	reg      *prometheus.Registry
	labels   prometheus.Labels
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Histogram
}

// NewStatter gets a Statter whose metrics all carry labels.
func NewStatter(labels map[string]string) *Statter {
	return &Statter{
		reg:      prometheus.NewRegistry(),
		labels:   prometheus.Labels(labels),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Histogram),
	}
}

// Registry returns the registry metrics are registered with.
func (s *Statter) Registry() *prometheus.Registry { return s.reg }

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Count adds value to the named counter. rate is ignored.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        metricName(name) + "_total",
			Help:        "Count of " + name + ".",
			ConstLabels: s.labels,
		})
		s.reg.MustRegister(c)
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.Add(float64(value))
}

// Gauge sets the named gauge.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.mu.Lock()
	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        metricName(name),
			Help:        "Last value of " + name + ".",
			ConstLabels: s.labels,
		})
		s.reg.MustRegister(g)
		s.gauges[name] = g
	}
	s.mu.Unlock()
	g.Set(value)
}

func (s *Statter) histogram(name string, buckets []float64) prometheus.Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histos[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        "Distribution of " + name + ".",
			ConstLabels: s.labels,
			Buckets:     buckets,
		})
		s.reg.MustRegister(h)
		s.histos[name] = h
	}
	return h
}

// Histogram observes value in the named histogram.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	s.histogram(metricName(name), prometheus.ExponentialBuckets(10, 2, 12)).Observe(value)
}

// Set does nothing.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {}

// Timing observes value, in seconds, in the named histogram.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.histogram(metricName(name)+"_seconds", prometheus.ExponentialBuckets(0.01, 2, 16)).Observe(value.Seconds())
}

// Push replaces the metrics of job on the Pushgateway at url with everything
// collected so far. grouping adds further grouping labels.
func (s *Statter) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(s.reg)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	return errors.Wrapf(p.PushContext(ctx), "pushing metrics to %s", url)
}
