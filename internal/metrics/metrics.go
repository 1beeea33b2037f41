// Package metrics holds Prometheus instruments used across BlueOlive.  All
// collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegisteredConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blueolive_registered_connections",
			Help: "Number of tenant connection pools currently registered.",
		})

	ConnectionRegisterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueolive_connection_register_total",
			Help: "Connection registrations by result (created, reused, replaced, error).",
		}, []string{"result"})

	ConnectionEvictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueolive_connection_evict_total",
			Help: "Connection pools evicted, by reason (idle, lru, manual).",
		}, []string{"reason"})

	TenantResolutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueolive_tenant_resolution_total",
			Help: "Request scoping outcomes (public, resolved, unspecified, unknown, error).",
		}, []string{"outcome"})

	ShopSchemaSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueolive_shop_schema_source_total",
			Help: "Which rule picked the request's shop schema.",
		}, []string{"source"})

	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueolive_provision_total",
			Help: "Provisioning runs by kind (tenant, shop) and result (ok, error).",
		}, []string{"kind", "result"})

	ProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blueolive_provision_duration_seconds",
			Help:    "Wall time of provisioning runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"})

	MigrationsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blueolive_migrations_applied_total",
			Help: "Migrations applied by the runner.",
		})
)

func init() {
	prometheus.MustRegister(
		RegisteredConnections,
		ConnectionRegisterTotal,
		ConnectionEvictTotal,
		TenantResolutionTotal,
		ShopSchemaSourceTotal,
		ProvisionTotal,
		ProvisionDuration,
		MigrationsAppliedTotal,
	)
}
