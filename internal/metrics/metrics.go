// Package metrics exposes Prometheus instrumentation for the loan flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the loan flow metrics. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg *prometheus.Registry

	Turns          *prometheus.CounterVec
	WorkerDuration *prometheus.HistogramVec
	Decisions      *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
}

// NewRegistry creates the metrics and registers them on a private registry
// together with the Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendflow_turns_total",
				Help: "Customer turns handled, by stage at entry and outcome",
			},
			[]string{"stage", "outcome"},
		),

		WorkerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lendflow_worker_duration_seconds",
				Help:    "Duration of worker invocations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"component", "success"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendflow_underwriting_decisions_total",
				Help: "Underwriting decisions by outcome",
			},
			[]string{"decision"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendflow_stage_transitions_total",
				Help: "Stage transitions by source and target stage",
			},
			[]string{"from", "to"},
		),
	}

	r.reg.MustRegister(
		r.Turns,
		r.WorkerDuration,
		r.Decisions,
		r.Transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveTurn counts a handled turn.
func (r *Registry) ObserveTurn(stage, outcome string) {
	if r == nil {
		return
	}
	r.Turns.WithLabelValues(stage, outcome).Inc()
}

// ObserveWorker records a worker invocation.
func (r *Registry) ObserveWorker(component string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	r.WorkerDuration.WithLabelValues(component, strconv.FormatBool(success)).Observe(d.Seconds())
}

// ObserveDecision counts an underwriting decision.
func (r *Registry) ObserveDecision(decision string) {
	if r == nil {
		return
	}
	r.Decisions.WithLabelValues(decision).Inc()
}

// ObserveTransition counts a stage transition.
func (r *Registry) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from, to).Inc()
}
