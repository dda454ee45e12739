package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "matchdispatch"

// Options control monitoring module configuration.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "matchdispatch".
	Namespace string
	// Instance, when set, is attached as an "instance" label to the dispatch
	// metrics so several workers can share one scrape target.
	Instance                string
	DisableGoCollector      bool
	DisableProcessCollector bool
}

// Module owns the Prometheus registry, the in-process job and delivery
// statistics behind the ops summary, and the health probes.
type Module struct {
	namespace  string
	registry   *prometheus.Registry
	registerer prometheus.Registerer
	metrics    *collectors
	stats      *statStore
	health     *HealthManager
}

// NewModule constructs a monitoring module with its own Prometheus registry.
func NewModule(opts Options) (*Module, error) {
	module := &Module{
		namespace: opts.Namespace,
		registry:  prometheus.NewRegistry(),
		stats:     newStatStore(),
		health:    NewHealthManager(),
	}
	if module.namespace == "" {
		module.namespace = defaultNamespace
	}
	module.registerer = module.registry
	if opts.Instance != "" {
		module.registerer = prometheus.WrapRegistererWith(prometheus.Labels{"instance": opts.Instance}, module.registry)
	}

	if !opts.DisableGoCollector {
		if err := module.registry.Register(promcollectors.NewGoCollector()); err != nil {
			return nil, err
		}
	}
	if !opts.DisableProcessCollector {
		if err := module.registry.Register(promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{})); err != nil {
			return nil, err
		}
	}

	module.metrics = newCollectors(module.namespace)
	for _, collector := range module.metrics.all() {
		if err := module.registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return module, nil
}

// Namespace is the metric name prefix used by this module.
func (m *Module) Namespace() string {
	if m == nil {
		return defaultNamespace
	}
	return m.namespace
}

// Register adds a collector alongside the dispatch metrics, carrying the
// same instance label.
func (m *Module) Register(collector prometheus.Collector) error {
	return m.registerer.Register(collector)
}

// Registry exposes the underlying Prometheus registry.
func (m *Module) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format; without a
// module it answers 503.
func (m *Module) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

var globalModule atomic.Pointer[Module]

// SetModule installs the module the Record* helpers report to.
func SetModule(module *Module) {
	if module == nil {
		return
	}
	globalModule.Store(module)
}

func ensureModule() *Module {
	return globalModule.Load()
}
