package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// TurnCounter counts completed conversation turns by outcome.
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency.
	TurnDuration prometheus.Histogram

	// ModelTokens counts tokens exchanged with the model by direction
	// (input/output).
	ModelTokens *prometheus.CounterVec

	// ToolExecutions counts tool calls by tool name and outcome
	// (ok/error/invalid/unknown).
	ToolExecutions *prometheus.CounterVec

	// RepairAttempts counts repair-loop runs by outcome
	// (heuristic/regenerated/failed).
	RepairAttempts *prometheus.CounterVec

	// StoreSweeps counts expired conversation rows removed by the TTL
	// sweeper.
	StoreSweeps prometheus.Counter
}

// NewMetrics registers the collectors with reg (the default registerer when
// nil) and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_turns_total",
				Help: "Completed conversation turns by outcome.",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conduit_turn_duration_seconds",
				Help:    "End-to-end conversation turn latency.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_model_tokens_total",
				Help: "Tokens exchanged with the model by direction.",
			},
			[]string{"direction"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_executions_total",
				Help: "Tool calls by tool name and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		RepairAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_repair_attempts_total",
				Help: "Tool-call repair attempts by outcome.",
			},
			[]string{"outcome"},
		),
		StoreSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conduit_store_swept_rows_total",
				Help: "Expired conversation rows removed by the TTL sweeper.",
			},
		),
	}
}
