package tenant

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics are the prometheus collectors updated by Cache.
type CacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// NewCacheMetrics builds the collectors and registers them with reg when it
// is not nil.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventapp",
			Subsystem: "tenant_cache",
			Name:      "hits_total",
			Help:      "Tenant connection cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventapp",
			Subsystem: "tenant_cache",
			Name:      "misses_total",
			Help:      "Tenant connection cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventapp",
			Subsystem: "tenant_cache",
			Name:      "evictions_total",
			Help:      "Tenant pools evicted because the cache was full.",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventapp",
			Subsystem: "tenant_cache",
			Name:      "entries",
			Help:      "Tenant pools currently cached.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.size)
	}
	return m
}
