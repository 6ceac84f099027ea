// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// the simulation engine and the HTTP service.
package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics bundles the engine and HTTP collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	Simulations        *prometheus.CounterVec
	SimulationDuration prometheus.Histogram
	SolverFailures     prometheus.Counter
	OverallRisk        prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.Simulations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulations_total",
		Help: "Simulation runs, labeled by outcome.",
	}, []string{"outcome"}), "simulations_total"); err != nil {
		return nil, err
	}
	if m.SimulationDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulation_duration_seconds",
		Help:    "Wall time of one simulation run.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}), "simulation_duration_seconds"); err != nil {
		return nil, err
	}
	if m.SolverFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "solver_step_failures_total",
		Help: "Integration steps that failed and carried state forward.",
	}), "solver_step_failures_total"); err != nil {
		return nil, err
	}
	if m.OverallRisk, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulated_overall_risk",
		Help:    "Overall risk score of successful runs.",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	}), "simulated_overall_risk"); err != nil {
		return nil, err
	}
	if m.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"}), "http_requests_total"); err != nil {
		return nil, err
	}
	if m.HTTPDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"}), "http_request_duration_seconds"); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveRun records one engine run. Safe on a nil receiver.
func (m *Metrics) ObserveRun(outcome string, d time.Duration, stepFailures int, overallRisk float64) {
	if m == nil {
		return
	}
	m.Simulations.WithLabelValues(outcome).Inc()
	m.SimulationDuration.Observe(d.Seconds())
	if stepFailures > 0 {
		m.SolverFailures.Add(float64(stepFailures))
	}
	if outcome == OutcomeSuccess {
		m.OverallRisk.Observe(overallRisk)
	}
}

// ObserveHTTP records one handled request
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler exposes the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return c, fmt.Errorf("registering %s: %w", name, err)
	}
	return c, nil
}
