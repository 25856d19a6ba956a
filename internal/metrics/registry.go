package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the Prometheus collectors exercised by the core engine.
// It is created once per GlobalState and handed a prometheus.Registerer
// by whichever external collaborator actually serves /metrics (the admin
// API, out of scope for this module).
type Registry struct {
	AcceptedConnections  prometheus.Counter
	ActiveConnections    prometheus.Gauge
	DispositionTotal     *prometheus.CounterVec
	BackendErrorsTotal   *prometheus.CounterVec
	SupervisorStateTotal *prometheus.CounterVec
	ReloadTotal          prometheus.Counter
	ReloadFailedTotal    prometheus.Counter
	ObserverDroppedTotal prometheus.Counter
}

// NewRegistry constructs and registers all collectors against reg. If reg
// is nil, the metrics are still usable (writes are just not exported).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		AcceptedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "accepted_connections_total",
			Help:      "Total number of TCP connections accepted by the listeners.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddbox",
			Name:      "active_connections",
			Help:      "Number of connections currently tracked by the observer.",
		}),
		DispositionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "dispatch_disposition_total",
			Help:      "Dispatch decisions by disposition (tunnel_tls, tunnel_plain, terminate).",
		}, []string{"disposition"}),
		BackendErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "backend_errors_total",
			Help:      "Backend dispatch failures by error class.",
		}, []string{"class"}),
		SupervisorStateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "supervisor_state_transitions_total",
			Help:      "Process supervisor state transitions by target state.",
		}, []string{"state"}),
		ReloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "config_reload_total",
			Help:      "Successful hot-reloads applied.",
		}),
		ReloadFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "config_reload_failed_total",
			Help:      "Hot-reloads rejected due to validation errors.",
		}),
		ObserverDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oddbox",
			Name:      "observer_events_dropped_total",
			Help:      "Observer broadcast events dropped due to a lagging subscriber.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.AcceptedConnections,
			r.ActiveConnections,
			r.DispositionTotal,
			r.BackendErrorsTotal,
			r.SupervisorStateTotal,
			r.ReloadTotal,
			r.ReloadFailedTotal,
			r.ObserverDroppedTotal,
		)
	}
	return r
}
