package supervisor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the supervisor-owned prometheus gauges/counters, registered
// against the Registerer given to NewMetrics (SPEC_FULL.md NEW §4.6
// addition — the original has no metrics export surface, only the
// textual `module` status line spec.md §6 names). QUERY's /status
// endpoint does not serve them.
type Metrics struct {
	ModuleDisabled *prometheus.GaugeVec
	SchedulerTicks prometheus.Counter
	SharedMemUsage prometheus.Gauge
}

// NewMetrics constructs and registers the supervisor's metric set
// against reg (typically prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModuleDisabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "como",
			Subsystem: "scheduler",
			Name:      "module_disabled",
			Help:      "1 if the named module is currently disabled by the resource scheduler, else 0.",
		}, []string{"module"}),
		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "como",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Number of resource scheduler ticks run.",
		}),
		SharedMemUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "como",
			Subsystem: "memsys",
			Name:      "shared_pool_usage_fraction",
			Help:      "Current shared pool usage as a fraction of the upper threshold.",
		}),
	}
	reg.MustRegister(m.ModuleDisabled, m.SchedulerTicks, m.SharedMemUsage)
	return m
}

// Observe wires a Metrics instance into a Scheduler's observability
// hooks so every disable/enable decision is reflected in ModuleDisabled.
// SchedulerTicks and SharedMemUsage are not updated by it.
func (m *Metrics) Observe(s *Scheduler) {
	s.OnDisable(func(name string) { m.ModuleDisabled.WithLabelValues(name).Set(1) })
	s.OnEnable(func(name string) { m.ModuleDisabled.WithLabelValues(name).Set(0) })
}
