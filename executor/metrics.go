package executor

import (
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/trap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the executor's collectors. With a nil registerer they are
// created but not registered anywhere.
type Metrics struct {
	invocations *prometheus.CounterVec
	traps       *prometheus.CounterVec
	hostCalls   *prometheus.CounterVec
	duration    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmgate_invocations_total",
			Help: "Guest invocations by export and final status.",
		}, []string{"export", "status"}),
		traps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmgate_traps_total",
			Help: "Guest traps by kind.",
		}, []string{"kind"}),
		hostCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmgate_host_calls_total",
			Help: "Host function calls by function and outcome.",
		}, []string{"function", "outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wasmgate_invocation_duration_seconds",
			Help:    "Wall time of guest invocations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *Metrics) observeInvocation(export string, r Result) {
	m.invocations.WithLabelValues(export, r.Status.String()).Inc()
	m.duration.Observe(r.Duration.Seconds())
	if r.Status == Trapped {
		m.traps.WithLabelValues(r.Trap.Kind.String()).Inc()
	}
}

func (m *Metrics) observeHostCall(b hostfunc.Binding, err error) {
	outcome := "ok"
	if k, ok := trap.KindOf(err); ok {
		outcome = k.String()
	} else if err != nil {
		outcome = "error"
	}
	m.hostCalls.WithLabelValues(b.Field, outcome).Inc()
}
