package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// metrics observes ops, module loads, transport growth and resources.
type metrics struct {
	ops        *prometheus.CounterVec
	turns      prometheus.Histogram
	loads      *prometheus.CounterVec
	grows      prometheus.Counter
	resources  prometheus.Gauge
	rejections prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	labels := prometheus.Labels{"runtime": name}
	m := &metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "jsruntime_op_calls_total",
				Help:        "Op dispatches by op name and outcome",
				ConstLabels: labels,
			},
			[]string{"op", "outcome"},
		),
		turns: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "jsruntime_dispatch_duration_seconds",
				Help:        "Duration of host-to-script dispatch turns",
				Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
				ConstLabels: labels,
			},
		),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "jsruntime_module_loads_total",
				Help:        "Top-level module loads by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		grows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "jsruntime_bridge_grows_total",
				Help:        "Transport buffer reallocations",
				ConstLabels: labels,
			},
		),
		resources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "jsruntime_resources_open",
				Help:        "Resources currently held in the resource table",
				ConstLabels: labels,
			},
		),
		rejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "jsruntime_unhandled_rejections_total",
				Help:        "Unhandled promise rejections surfaced to the host",
				ConstLabels: labels,
			},
		),
	}
	if reg == nil {
		return m
	}

	m.ops = register(reg, m.ops)
	m.turns = register(reg, m.turns)
	m.loads = register(reg, m.loads)
	m.grows = register(reg, m.grows)
	m.resources = register(reg, m.resources)
	m.rejections = register(reg, m.rejections)
	return m
}

// register adds c to reg, sharing the already registered collector when
// another runtime with the same name got there first.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		Logger().Warn("metric not registered", zap.Error(err))
	}
	return c
}

// ObserveOp implements ops.Observer.
func (m *metrics) ObserveOp(name string, _ time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.ops.WithLabelValues(name, outcome).Inc()
}

// OnResourceEvent implements resource.Observer.
func (m *metrics) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		m.resources.Inc()
	case resource.EventClosed, resource.EventRemoved:
		m.resources.Dec()
	}
}

func (m *metrics) observeLoad(_ string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.loads.WithLabelValues(outcome).Inc()
}
