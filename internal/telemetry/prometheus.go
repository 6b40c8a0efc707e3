package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rewind"

// Prometheus exports Metrics keys as collectors on a private registry. Keys
// passed to Add become counters, keys passed to Store become gauges; a key
// must only ever be used with one of the two.
type Prometheus struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewPrometheus constructs a registry that also carries the Go runtime and
// process collectors.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Prometheus{
		registry: registry,
		factory:  promauto.With(registry),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

func (p *Prometheus) Add(key string, delta uint64) {
	if p == nil {
		return
	}
	p.counter(key).Add(float64(delta))
}

func (p *Prometheus) Store(key string, value uint64) {
	if p == nil {
		return
	}
	p.gauge(key).Set(float64(value))
}

// Registry exposes the underlying registry for tests and custom collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) counter(key string) prometheus.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[key]; ok {
		return c
	}
	c := p.factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      key,
		Help:      "Engine counter " + key,
	})
	p.counters[key] = c
	return c
}

func (p *Prometheus) gauge(key string) prometheus.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[key]; ok {
		return g
	}
	g := p.factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      key,
		Help:      "Engine gauge " + key,
	})
	p.gauges[key] = g
	return g
}
