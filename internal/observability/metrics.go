package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Event queue throughput and depth in the consciousness loop
//   - LLM streaming request performance
//   - Tool execution patterns and latencies
//   - Transcript appends and heal-pass repairs
//   - Subagent registry population
//   - Layer-stack injections and dual-core compactions
//   - Conductor command throughput
//   - Error rates categorized by component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordEventProcessed("tool_result", "handled", 0.01)
//	metrics.RecordLLMRequest("anthropic", "claude-opus", "success", time.Since(start).Seconds(), 0, 0)
type Metrics struct {
	// EventQueueDepth is the current number of pending events in the
	// consciousness loop's priority queue.
	EventQueueDepth prometheus.Gauge

	// EventsProcessed counts events dequeued and handled, by kind
	// (llm_delta|tool_result|user_input|preemption|cancellation) and
	// outcome (handled|dropped).
	EventsProcessed *prometheus.CounterVec

	// EventQueueWait measures time an event spent queued before being
	// handled, in seconds.
	EventQueueWait prometheus.Histogram

	// LLMRequestDuration measures LLM streaming call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status
	// (success|error|cancelled).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption. Labels: provider, model,
	// type (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations. Labels: tool_name,
	// status (success|error|denied).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// TranscriptAppends counts append operations to a session's .ctx file.
	// Labels: layer.
	TranscriptAppends *prometheus.CounterVec

	// HealRepairs counts structural repairs made by the transcript heal
	// pass. Labels: kind (unterminated_block|truncated_separator|bad_utf8).
	HealRepairs *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per layer.
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000.
	ContextWindowUsed *prometheus.HistogramVec

	// SubagentsActive is a gauge of current registry population by status.
	SubagentsActive *prometheus.GaugeVec

	// SubagentSpawned counts subagent registrations.
	SubagentSpawned prometheus.Counter

	// SubagentTerminated counts subagents reaching a terminal status.
	// Labels: status (complete|failed|killed).
	SubagentTerminated *prometheus.CounterVec

	// LayerInjections counts injection records written from an inner layer
	// or core into the gateway layer's workspace. Labels: source_layer.
	LayerInjections *prometheus.CounterVec

	// InjectionCorrelation observes the Jaccard-like correlation score
	// computed for each candidate injection, whether or not it crossed
	// the threshold.
	InjectionCorrelation prometheus.Histogram

	// DualCoreCompactions counts compaction handshakes. Labels: core (a|b).
	DualCoreCompactions *prometheus.CounterVec

	// DualCorePhase is a gauge of 1 for the core's current phase, 0
	// otherwise. Labels: core, phase.
	DualCorePhase *prometheus.GaugeVec

	// ConductorCommands counts conductor command dispatches. Labels: type,
	// status (ok|error).
	ConductorCommands *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup. All metrics are
// registered with Prometheus's default registry and available at /metrics
// when using the prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		EventQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "noema_event_queue_depth",
				Help: "Current number of pending events in the consciousness loop queue",
			},
		),

		EventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_events_processed_total",
				Help: "Total number of queue events processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		EventQueueWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noema_event_queue_wait_seconds",
				Help:    "Time an event spent queued before being handled",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noema_llm_request_duration_seconds",
				Help:    "Duration of LLM streaming requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noema_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		TranscriptAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_transcript_appends_total",
				Help: "Total number of transcript append operations by layer",
			},
			[]string{"layer"},
		),

		HealRepairs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_heal_repairs_total",
				Help: "Total number of structural repairs made by the transcript heal pass",
			},
			[]string{"kind"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noema_context_window_tokens",
				Help:    "Context window tokens used per layer",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"layer"},
		),

		SubagentsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noema_subagents_active",
				Help: "Current subagent registry population by status",
			},
			[]string{"status"},
		),

		SubagentSpawned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noema_subagents_spawned_total",
				Help: "Total number of subagent registrations",
			},
		),

		SubagentTerminated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_subagents_terminated_total",
				Help: "Total number of subagents reaching a terminal status",
			},
			[]string{"status"},
		),

		LayerInjections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_layer_injections_total",
				Help: "Total number of injection records written into the gateway layer",
			},
			[]string{"source_layer"},
		),

		InjectionCorrelation: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noema_injection_correlation_score",
				Help:    "Correlation score computed for each candidate injection",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		DualCoreCompactions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_dualcore_compactions_total",
				Help: "Total number of dual-core compaction handshakes",
			},
			[]string{"core"},
		),

		DualCorePhase: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noema_dualcore_phase",
				Help: "1 for a core's current phase, 0 otherwise",
			},
			[]string{"core", "phase"},
		),

		ConductorCommands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_conductor_commands_total",
				Help: "Total number of conductor commands dispatched by type and status",
			},
			[]string{"type", "status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noema_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// SetEventQueueDepth sets the current queue-depth gauge; call on enqueue
// and dequeue, not as a counter increment.
func (m *Metrics) SetEventQueueDepth(depth int) {
	m.EventQueueDepth.Set(float64(depth))
}

// RecordEventProcessed records an event dequeued and handled (or dropped).
func (m *Metrics) RecordEventProcessed(kind, outcome string, queueWaitSeconds float64) {
	m.EventsProcessed.WithLabelValues(kind, outcome).Inc()
	m.EventQueueWait.Observe(queueWaitSeconds)
}

// RecordLLMRequest records metrics for an LLM streaming request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTranscriptAppend records one append to a layer's .ctx file.
func (m *Metrics) RecordTranscriptAppend(layer string) {
	m.TranscriptAppends.WithLabelValues(layer).Inc()
}

// RecordHealRepair records one structural repair made by the heal pass.
func (m *Metrics) RecordHealRepair(kind string) {
	m.HealRepairs.WithLabelValues(kind).Inc()
}

// RecordContextWindow records context window utilization for a layer.
func (m *Metrics) RecordContextWindow(layer string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(layer).Observe(float64(tokensUsed))
}

// SetSubagentsActive sets the current population gauge for a status.
func (m *Metrics) SetSubagentsActive(status string, count int) {
	m.SubagentsActive.WithLabelValues(status).Set(float64(count))
}

// RecordSubagentSpawned records a new subagent registration.
func (m *Metrics) RecordSubagentSpawned() {
	m.SubagentSpawned.Inc()
}

// RecordSubagentTerminated records a subagent reaching a terminal status.
func (m *Metrics) RecordSubagentTerminated(status string) {
	m.SubagentTerminated.WithLabelValues(status).Inc()
}

// RecordLayerInjection records an injection record written from sourceLayer
// into the gateway layer's workspace, along with the correlation score that
// triggered it.
func (m *Metrics) RecordLayerInjection(sourceLayer string, score float64) {
	m.LayerInjections.WithLabelValues(sourceLayer).Inc()
	m.InjectionCorrelation.Observe(score)
}

// ObserveInjectionScore records a correlation score that did not cross the
// injection threshold.
func (m *Metrics) ObserveInjectionScore(score float64) {
	m.InjectionCorrelation.Observe(score)
}

// RecordDualCoreCompaction records a compaction handshake for core.
func (m *Metrics) RecordDualCoreCompaction(core string) {
	m.DualCoreCompactions.WithLabelValues(core).Inc()
}

// SetDualCorePhase marks phase as the current phase for core, clearing any
// other phase gauge for that core.
func (m *Metrics) SetDualCorePhase(core string, phases []string, current string) {
	for _, phase := range phases {
		value := 0.0
		if phase == current {
			value = 1.0
		}
		m.DualCorePhase.WithLabelValues(core, phase).Set(value)
	}
}

// RecordConductorCommand records one conductor command dispatch.
func (m *Metrics) RecordConductorCommand(cmdType, status string) {
	m.ConductorCommands.WithLabelValues(cmdType, status).Inc()
}

// RecordError increments the error counter for a given component and error
// type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
