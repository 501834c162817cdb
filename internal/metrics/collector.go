// Package metrics exposes cache activity as Prometheus metrics and serves
// them over an optional HTTP endpoint.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiercache/tiercache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and updates the cache metrics. It implements the
// cache service's Recorder interface. A disabled collector is a no-op.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	promotions    prometheus.Counter
	invalidations prometheus.Counter
	queueDepth    prometheus.Gauge
	entries       prometheus.Gauge

	server *http.Server
}

// NewCollector creates a collector. Pass nil config for defaults.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "tiercache",
		}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}
	if config.Namespace == "" {
		config.Namespace = "tiercache"
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	c.hits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "hits_total",
		Help:      "Cache hits by storage tier",
	}, []string{"tier"})

	c.misses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "misses_total",
		Help:      "Lookups that missed every tier",
	})

	c.promotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "promotions_total",
		Help:      "Entries promoted from a slower tier into memory",
	})

	c.invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "invalidations_total",
		Help:      "Keys removed by invalidation calls",
	})

	c.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "offline_queue_depth",
		Help:      "Operations waiting in the offline queue",
	})

	c.entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "entries",
		Help:      "Total entries across all tiers",
	})

	for _, collector := range []prometheus.Collector{
		c.hits, c.misses, c.promotions, c.invalidations, c.queueDepth, c.entries,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Hit records a cache hit at the given tier.
func (c *Collector) Hit(tier types.Tier) {
	if c.hits != nil {
		c.hits.WithLabelValues(string(tier)).Inc()
	}
}

// Miss records a lookup that missed every tier.
func (c *Collector) Miss() {
	if c.misses != nil {
		c.misses.Inc()
	}
}

// Promotion records a tier promotion.
func (c *Collector) Promotion() {
	if c.promotions != nil {
		c.promotions.Inc()
	}
}

// Invalidation records removed keys.
func (c *Collector) Invalidation(removed int) {
	if c.invalidations != nil {
		c.invalidations.Add(float64(removed))
	}
}

// QueueDepth records the offline queue depth.
func (c *Collector) QueueDepth(depth int) {
	if c.queueDepth != nil {
		c.queueDepth.Set(float64(depth))
	}
}

// SetEntryCount records the total entry count across tiers.
func (c *Collector) SetEntryCount(n int) {
	if c.entries != nil {
		c.entries.Set(float64(n))
	}
}

// Handler returns the HTTP handler serving the registry, or nil when the
// collector is disabled.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(_ context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
