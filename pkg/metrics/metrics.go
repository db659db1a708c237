// Package metrics collects counters for remote API traffic and sync runs.
// The registry is private per process so repeated runs in watch mode
// accumulate rather than re-register.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a Prometheus registry with the counters the sync
// pipeline reports into.
type Registry struct {
	registry    *prometheus.Registry
	apiRequests *prometheus.CounterVec
	syncRuns    *prometheus.CounterVec
}

// NewRegistry creates a registry with the sync counters pre-registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postman_api_requests_total",
		Help: "Remote API requests issued, by endpoint and response code.",
	}, []string{"endpoint", "code"})
	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postman_sync_runs_total",
		Help: "Sync pipeline runs, by outcome.",
	}, []string{"outcome"})

	reg.MustRegister(apiRequests)
	reg.MustRegister(syncRuns)

	return &Registry{
		registry:    reg,
		apiRequests: apiRequests,
		syncRuns:    syncRuns,
	}
}

// ObserveAPIRequest records one remote call against an endpoint label.
func (r *Registry) ObserveAPIRequest(endpoint string, statusCode int) {
	if r == nil {
		return
	}
	r.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// ObserveRun records the outcome ("success" or "failure") of one pipeline run.
func (r *Registry) ObserveRun(outcome string) {
	if r == nil {
		return
	}
	r.syncRuns.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler that exposes the collected metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Snapshot returns per-metric totals, summed across label sets, keyed by
// metric name. Used to log a one-line summary at the end of a run.
func (r *Registry) Snapshot() map[string]float64 {
	if r == nil || r.registry == nil {
		return nil
	}

	families, err := r.registry.Gather()
	if err != nil {
		return nil
	}

	totals := make(map[string]float64, len(families))
	for _, family := range families {
		var sum float64
		for _, m := range family.GetMetric() {
			if counter := m.GetCounter(); counter != nil {
				sum += counter.GetValue()
			}
		}
		totals[family.GetName()] = sum
	}
	return totals
}
