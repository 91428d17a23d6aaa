// Package metrics holds the Prometheus collectors shared by the agent,
// tool dispatcher, proactive monitor and sync worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the aide collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	ToolCalls        *prometheus.CounterVec
	AgentTurns       *prometheus.CounterVec
	AgentTurnSeconds prometheus.Histogram
	MonitorEvents    *prometheus.CounterVec
	DocumentsIndexed *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_tool_calls_total",
			Help: "Tool invocations by tool name and outcome",
		}, []string{"tool", "outcome"}),

		AgentTurns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_agent_turns_total",
			Help: "Agent runs by entry point and outcome",
		}, []string{"entry", "outcome"}),

		AgentTurnSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aide_agent_turn_seconds",
			Help:    "Wall time of one agent run in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		MonitorEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_monitor_events_total",
			Help: "External events seen by the proactive monitor by source and outcome",
		}, []string{"source", "outcome"}),

		DocumentsIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_documents_indexed_total",
			Help: "Documents written to the knowledge store by kind",
		}, []string{"kind"}),
	}
}

// RecordToolCall counts one dispatched tool call.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordTurn counts one agent run and observes its duration.
func (m *Metrics) RecordTurn(entry, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AgentTurns.WithLabelValues(entry, outcome).Inc()
	m.AgentTurnSeconds.Observe(d.Seconds())
}

// RecordMonitorEvent counts one external event handled by the monitor.
func (m *Metrics) RecordMonitorEvent(source, outcome string) {
	if m == nil {
		return
	}
	m.MonitorEvents.WithLabelValues(source, outcome).Inc()
}

// RecordIndexed counts one stored knowledge document.
func (m *Metrics) RecordIndexed(kind string) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.WithLabelValues(kind).Inc()
}
