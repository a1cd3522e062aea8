// Package metrics exposes Prometheus collectors for command throughput,
// safety violations, and fleet/telemetry health over a /metrics route.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry (not the global default
// registerer) so repeated construction in tests never collides on
// "duplicate metrics collector registration", the same problem
// 99souls-ariadne's PrometheusProvider guards against by retrying
// registration and reusing the existing collector on
// AlreadyRegisteredError.
type Registry struct {
	reg *prometheus.Registry

	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	SafetyViolations   *prometheus.CounterVec
	ActiveDrones       prometheus.Gauge
	DroneBattery       *prometheus.GaugeVec
	TelemetrySubscribers prometheus.Gauge
	DiscoveryScanDuration prometheus.Histogram
	OverloadRejections prometheus.Counter
}

// New builds and registers every collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetctl", Subsystem: "router", Name: "commands_total",
			Help: "Commands executed by action and outcome.",
		}, []string{"action", "outcome"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetctl", Subsystem: "router", Name: "command_duration_seconds",
			Help: "Command execution latency.", Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		SafetyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetctl", Subsystem: "supervisor", Name: "safety_violations_total",
			Help: "Safety violations recorded by kind and severity.",
		}, []string{"kind", "severity"}),
		ActiveDrones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetctl", Subsystem: "fleet", Name: "active_drones",
			Help: "Drones currently connected.",
		}),
		DroneBattery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetctl", Subsystem: "fleet", Name: "drone_battery_percent",
			Help: "Last-seen battery percentage per drone.",
		}, []string{"drone_id"}),
		TelemetrySubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetctl", Subsystem: "telemetry", Name: "subscribers",
			Help: "Active telemetry subscribers.",
		}),
		DiscoveryScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fleetctl", Subsystem: "discovery", Name: "scan_duration_seconds",
			Help: "NetworkDiscovery scan wall-clock duration.", Buckets: prometheus.DefBuckets,
		}),
		OverloadRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetctl", Subsystem: "router", Name: "overload_rejections_total",
			Help: "Requests shed by the router's overload cooldown.",
		}),
	}

	reg.MustRegister(
		r.CommandsTotal, r.CommandDuration, r.SafetyViolations, r.ActiveDrones,
		r.DroneBattery, r.TelemetrySubscribers, r.DiscoveryScanDuration, r.OverloadRejections,
	)
	return r
}

// Handler returns the http.Handler gin mounts at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
