package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace          = "dynamic_proxy"
	promInterceptSubsystem = "intercept"
	promRouteSubsystem     = "route"
)

// Prometheus records interceptor and route table activity on a private registry.
type Prometheus struct {
	interceptM *prometheus.CounterVec
	retargetM  prometheus.Counter
	targetM    *prometheus.GaugeVec
	reloadM    *prometheus.CounterVec
	upM        *prometheus.GaugeVec

	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus creates the collectors and registers them, together with the
// Go runtime and process collectors, on a new registry.
func NewPrometheus() *Prometheus {
	intercept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promInterceptSubsystem,
		Name:      "requests_total",
		Help:      "Requests seen by the retargeting interceptor, by outcome.",
	}, []string{"result"})

	retarget := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promRouteSubsystem,
		Name:      "retargets_total",
		Help:      "Number of times a new debug target was applied to the route table.",
	})

	target := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promRouteSubsystem,
		Name:      "target_info",
		Help:      "Currently active forwarding target (value 1).",
	}, []string{"target"})

	reload := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Configuration reloads, by outcome.",
	}, []string{"result"})

	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: "target",
		Name:      "up",
		Help:      "Whether the last probe of a route target got an answer below 500.",
	}, []string{"target"})

	p := &Prometheus{
		interceptM: intercept,
		retargetM:  retarget,
		targetM:    target,
		reloadM:    reload,
		upM:        up,
		registry:   prometheus.NewRegistry(),
	}
	p.registry.MustRegister(p.interceptM, p.retargetM, p.targetM, p.reloadM, p.upM)
	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p.handler = promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return p
}

// IncIntercept counts one interceptor outcome.
func (p *Prometheus) IncIntercept(result string) {
	p.interceptM.WithLabelValues(result).Inc()
}

// SetTarget records a newly applied target, replacing the previous one.
func (p *Prometheus) SetTarget(target string) {
	p.retargetM.Inc()
	p.targetM.Reset()
	p.targetM.WithLabelValues(target).Set(1)
}

// ResetTarget records the configured default target after an install.
func (p *Prometheus) ResetTarget(target string) {
	p.targetM.Reset()
	p.targetM.WithLabelValues(target).Set(1)
}

// IncReload counts one configuration reload outcome ("ok" or "error").
func (p *Prometheus) IncReload(result string) {
	p.reloadM.WithLabelValues(result).Inc()
}

// SetTargetUp records a probe outcome for target.
func (p *Prometheus) SetTargetUp(target string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	p.upM.WithLabelValues(target).Set(v)
}

// DeleteTargetUp drops the series of a target no route points at anymore.
func (p *Prometheus) DeleteTargetUp(target string) {
	p.upM.DeleteLabelValues(target)
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return p.handler
}
