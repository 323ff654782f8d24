package filepool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	opens     prometheus.Counter
	hits      prometheus.Counter
	waits     prometheus.Counter
	evictions prometheus.Counter
	openFiles prometheus.Gauge
}

func newMetrics() *metrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "torrentdisk",
			Subsystem: "filepool",
			Name:      name,
			Help:      help,
		}
	}
	return &metrics{
		opens:     prometheus.NewCounter(opts("opens_total", "Physical file opens.")),
		hits:      prometheus.NewCounter(opts("hits_total", "Opens served by a cached handle.")),
		waits:     prometheus.NewCounter(opts("waits_total", "Opens that waited on another caller's open.")),
		evictions: prometheus.NewCounter(opts("evictions_total", "Handles evicted to stay within the limit.")),
		openFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "torrentdisk",
			Subsystem: "filepool",
			Name:      "open_files",
			Help:      "Handles currently in the pool.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.opens, m.hits, m.waits, m.evictions, m.openFiles}
}

// Registers the pool's metrics.
func (p *Pool) Register(r prometheus.Registerer) error {
	var errs []error
	for _, c := range p.metrics.collectors() {
		errs = append(errs, r.Register(c))
	}
	return errors.Join(errs...)
}
