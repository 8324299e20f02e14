// Package metrics exposes the runtime's Prometheus collectors. Registration
// happens against the default registry so promhttp can serve them directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Iterations counts ReAct iterations across all sessions.
	Iterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "engine",
		Name:      "iterations_total",
		Help:      "Total number of ReAct iterations executed.",
	})

	// ToolDispatches counts tool executions by tool name and outcome.
	ToolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "engine",
		Name:      "tool_dispatches_total",
		Help:      "Total tool dispatches by tool and status.",
	}, []string{"tool", "status"})

	// Recoveries counts self-healing attempts by error class.
	Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "engine",
		Name:      "recoveries_total",
		Help:      "Self-healing recovery attempts by error class.",
	}, []string{"class"})

	// LLMLatency observes wall time of LLM completions.
	LLMLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "atlas",
		Subsystem: "llm",
		Name:      "completion_seconds",
		Help:      "Latency of LLM completion calls.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// TasksCompleted counts finished tasks by stop reason.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "engine",
		Name:      "tasks_total",
		Help:      "Completed tasks by stop reason.",
	}, []string{"stop_reason"})

	// ActiveSessions gauges currently bound websocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas",
		Subsystem: "server",
		Name:      "active_sessions",
		Help:      "Number of live session connections.",
	})
)
