package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_ticks_total",
		Help: "Total number of scheduler ticks by job and result",
	}, []string{"job", "result"})

	ReconcileTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_tick_duration_seconds",
		Help:    "Wall time of one scheduler tick",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	PaymentsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_resolved_total",
		Help: "Total number of payment records resolved by outcome",
	}, []string{"outcome"})

	PaymentsClaimLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_claim_lost_total",
		Help: "Payments already resolved or locked by a concurrent pass",
	})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Total number of payment provider call failures",
	}, []string{"call"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	CartLinesSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_lines_settled_total",
		Help: "Total number of cart lines settled by item type",
	}, []string{"item_type"})

	SettlementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_failures_total",
		Help: "Total number of settlement failures",
	}, []string{"reason"})

	OrphanLinesRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_lines_recovered_total",
		Help: "Cart lines settled by the orphan sweep",
	})

	InventoryDecrementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_decrements_total",
		Help: "Total number of inventory decrements",
	}, []string{"kind"})

	InventoryInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_invariant_violations_total",
		Help: "Decrements refused because stock would go negative",
	})

	InventoryMirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_mirror_errors_total",
		Help: "Failures updating the Redis stock mirror",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notifications dispatched by kind and result",
	}, []string{"kind", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
