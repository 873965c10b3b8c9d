// Package metrics exposes the Prometheus counters the limiter service and
// sync worker increment, in the style of the gauges/counters wired by
// flyingrobots-go-redis-work-queue and model-ecosystem-gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters incremented on the request path and by the
// sync worker.
type Metrics struct {
	RequestsTotal      prometheus.Counter
	RequestsRejected   prometheus.Counter
	RequestsNotLimited prometheus.Counter
	BackendErrors      prometheus.Counter
	BackendTimeouts    prometheus.Counter
	SyncTicks          prometheus.Counter
	SyncErrors         prometheus.Counter
	SyncReloads        prometheus.Counter
	BackendRecoveries prometheus.Counter
}

// New registers and returns a Metrics set on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_requests_total",
			Help: "Total limiting decisions evaluated.",
		}),
		RequestsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_requests_rejected_total",
			Help: "Requests rejected by the atomic limiter script.",
		}),
		RequestsNotLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_requests_not_limited_total",
			Help: "Requests with an empty id or an unconfigured/invalid rule, bypassing the script.",
		}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_backend_errors_total",
			Help: "Backend calls that failed and were recovered fail-open.",
		}),
		BackendTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_backend_timeouts_total",
			Help: "Backend calls that exceeded the request deadline.",
		}),
		SyncTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_sync_ticks_total",
			Help: "Sync worker ticks completed.",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_sync_errors_total",
			Help: "Failed backend calls made by the sync worker.",
		}),
		SyncReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_sync_script_reloads_total",
			Help: "Times the sync worker reloaded the script module after a missing-function error.",
		}),
		BackendRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlimit_backend_recoveries_total",
			Help: "Times the background health checker observed the backend recover after a failed ping.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestsRejected, m.RequestsNotLimited,
		m.BackendErrors, m.BackendTimeouts,
		m.SyncTicks, m.SyncErrors, m.SyncReloads,
		m.BackendRecoveries,
	)
	return m
}
