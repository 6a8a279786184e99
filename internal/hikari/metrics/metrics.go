// Package metrics exposes Prometheus collectors for the gate, the provider,
// the governor and the memory tiers.
//
// A nil *Collector is valid and records nothing, so components can take one
// as an optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hikari"

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	gateDecisions    *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	budgetRemaining  prometheus.Gauge
	itemsPruned      *prometheus.CounterVec
	sessionsArchived *prometheus.CounterVec
	commands         *prometheus.CounterVec
}

// New registers every collector plus the Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by level and result.",
		}, []string{"level", "result"}),
		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Language model requests by model and outcome.",
		}, []string{"model", "status"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Language model request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		providerTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens charged against the budget.",
		}, []string{"model"}),
		budgetRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining_tokens",
			Help:      "Tokens left in the current budget period.",
		}),
		itemsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_items_pruned_total",
			Help:      "Long-term memory items removed, by category and cause.",
		}, []string{"category", "cause"}),
		sessionsArchived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_archived_total",
			Help:      "Sessions archived, by trigger.",
		}, []string{"trigger"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Companion commands handled, by name and outcome.",
		}, []string{"command", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) GateDecision(level, result string) {
	if c == nil {
		return
	}
	c.gateDecisions.WithLabelValues(level, result).Inc()
}

// ProviderRequest records one model call. status is "ok", "quota" or "error".
func (c *Collector) ProviderRequest(model, status string, d time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.providerRequests.WithLabelValues(model, status).Inc()
	c.providerDuration.WithLabelValues(model).Observe(d.Seconds())
	if tokens > 0 {
		c.providerTokens.WithLabelValues(model).Add(float64(tokens))
	}
}

func (c *Collector) BudgetRemaining(tokens int) {
	if c == nil {
		return
	}
	c.budgetRemaining.Set(float64(tokens))
}

// ItemsPruned records n removed items. cause is "cap" or "sweep".
func (c *Collector) ItemsPruned(category, cause string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.itemsPruned.WithLabelValues(category, cause).Add(float64(n))
}

// SessionArchived records one archival. trigger is "expired", "ended" or "sweep".
func (c *Collector) SessionArchived(trigger string) {
	if c == nil {
		return
	}
	c.sessionsArchived.WithLabelValues(trigger).Inc()
}

func (c *Collector) Command(name, status string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(name, status).Inc()
}
