package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var registry *prometheus.Registry

// Counter is the minimal counter surface used by the daemon. The default
// implementation is a no-op; Init swaps in prometheus-backed counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Gauge is the minimal gauge surface used by the daemon.
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

// CounterVec is a labeled counter family.
type CounterVec interface {
	With(labelValues ...string) Counter
}

type noopStat struct{}

func (noopStat) Inc()        {}
func (noopStat) Add(float64) {}
func (noopStat) Set(float64) {}
func (noopStat) Dec()        {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return noopStat{} }

type promCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *promCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// NewCounter returns a registered counter, or a no-op when telemetry is
// disabled (Init not called).
func NewCounter(name, help string) Counter {
	if registry == nil {
		return noopStat{}
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notifyd",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(c)
	return c
}

// NewGauge returns a registered gauge, or a no-op when telemetry is disabled.
func NewGauge(name, help string) Gauge {
	if registry == nil {
		return noopStat{}
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "notifyd",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(g)
	return g
}

// NewCounterVec returns a registered labeled counter family, or a no-op.
func NewCounterVec(name, help string, labels ...string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notifyd",
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(v)
	return &promCounterVec{vec: v}
}

// Init enables prometheus-backed metrics and rebinds the package-level stats.
// Call before the daemon starts publishing; safe to skip entirely for tests.
func Init() *prometheus.Registry {
	registry = prometheus.NewRegistry()
	bindMetrics()
	return registry
}
