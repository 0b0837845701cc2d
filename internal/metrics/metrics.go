// Package metrics holds Prometheus instruments that are used across the
// panel.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_engines_active",
			Help: "Number of tenant database engines currently open.",
		})

	EngineBuildTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_engine_build_total",
			Help: "Cumulative number of tenant engines built.",
		})

	EngineFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_engine_fallback_total",
			Help: "Cumulative number of compatibility-DSN retries that built an engine.",
		})

	EngineInvalidateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_engine_invalidate_total",
			Help: "Cumulative number of tenant engine records discarded.",
		})

	CacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_cache_hit_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"})

	CacheMissTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_cache_miss_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"})

	LogWriteTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_log_write_total",
			Help: "Cumulative number of log records written through the ingestion endpoint.",
		})

	LogWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_log_write_errors_total",
			Help: "Cumulative number of failed log writes.",
		})

	RoleLookupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_role_lookup_total",
			Help: "Cumulative number of live role-membership lookups against the identity provider.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveEngines,
		EngineBuildTotal,
		EngineFallbackTotal,
		EngineInvalidateTotal,
		CacheHitTotal,
		CacheMissTotal,
		LogWriteTotal,
		LogWriteErrorsTotal,
		RoleLookupTotal,
	)
}
