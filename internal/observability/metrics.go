package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planloop_runs_total",
		Help: "Finished runs by variant and terminal decision.",
	}, []string{"variant", "decision"})

	RunIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planloop_run_iterations",
		Help:    "Iterations used per finished run.",
		Buckets: prometheus.LinearBuckets(1, 1, 12),
	}, []string{"variant"})

	StepExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planloop_step_executions_total",
		Help: "Executed steps by kind and outcome.",
	}, []string{"kind", "outcome"})

	DriverFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planloop_driver_faults_total",
		Help: "Browser command faults by category.",
	}, []string{"kind"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planloop_gateway_calls_total",
		Help: "Completion gateway calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planloop_gateway_latency_seconds",
		Help:    "Completion gateway latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider"})

	GateRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "planloop_gate_retries_total",
		Help: "Evaluation attempts repeated after malformed or failed responses.",
	})
)
