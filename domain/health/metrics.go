package health

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpforge/server/domain/mcp"
)

// Collector exposes Prometheus gauges over the MCP session/task/elicitation subsystems,
// grounded on the pack's promhttp.HandlerFor-over-a-private-registry idiom.
type Collector struct {
	registry *prometheus.Registry
}

// NewCollector constructs and registers the MCP gauges against a private registry.
func NewCollector(tasks *mcp.TaskManager, elicitations *mcp.ElicitationManager) *Collector {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mcp",
			Subsystem: "tasks",
			Name:      "in_flight",
			Help:      "Number of async tool-call tasks currently tracked (any status).",
		},
		func() float64 { return float64(len(tasks.List())) },
	))

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mcp",
			Subsystem: "elicitations",
			Name:      "in_flight",
			Help:      "Number of elicitations currently tracked (any status).",
		},
		func() float64 { return float64(elicitations.Count()) },
	))

	return &Collector{registry: registry}
}

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
