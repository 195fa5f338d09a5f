package agent

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the workflow subsystem.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunSteps         prometheus.Histogram
	RunConfidence    prometheus.Histogram
	StageTransitions *prometheus.CounterVec
	SuspensionsTotal *prometheus.CounterVec
	ResumesTotal     *prometheus.CounterVec
	RequestsTotal    *prometheus.CounterVec
	LLMCallsTotal    prometheus.Counter
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      prometheus.Histogram
	ToolCallsTotal   *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	ToolInputBytes   *prometheus.HistogramVec
	ToolOutputBytes  *prometheus.HistogramVec
	QualityScore     *prometheus.HistogramVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_agent_runs_total",
			Help: "Total workflow runs by terminal stage.",
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_agent_run_duration_seconds",
			Help:    "Wall-clock duration of workflow runs, including suspensions.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s .. ~73h
		}, []string{"stage"}),
		RunSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_agent_run_steps",
			Help:    "Workflow steps consumed per run.",
			Buckets: prometheus.LinearBuckets(0, 1, 12), // 0 .. 11
		}),
		RunConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_agent_run_confidence",
			Help:    "Synthesis confidence of finished runs.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_agent_stage_transitions_total",
			Help: "Total stage transitions by from/to stage.",
		}, []string{"from", "to"}),
		SuspensionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_agent_suspensions_total",
			Help: "Total workflow suspensions by stage.",
		}, []string{"stage"}),
		ResumesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_agent_resumes_total",
			Help: "Total workflow resumes by stage.",
		}, []string{"stage"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_agent_requests_total",
			Help: "Total service requests by operation and result.",
		}, []string{"operation", "result"}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_tool_calls_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s .. ~12.8s
		}, []string{"tool"}),
		ToolInputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_tool_input_bytes",
			Help:    "Size of tool input in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		ToolOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_tool_output_bytes",
			Help:    "Size of tool output in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		QualityScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_agent_quality_score",
			Help:    "Advisory quality scores from the evaluator.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		}, []string{"metric"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunSteps,
		m.RunConfidence,
		m.StageTransitions,
		m.SuspensionsTotal,
		m.ResumesTotal,
		m.RequestsTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolInputBytes,
		m.ToolOutputBytes,
		m.QualityScore,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnToolCall: func(name string, duration float64, inputBytes, outputBytes int, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(name, status).Inc()
			m.ToolDuration.WithLabelValues(name).Observe(duration)
			m.ToolInputBytes.WithLabelValues(name).Observe(float64(inputBytes))
			m.ToolOutputBytes.WithLabelValues(name).Observe(float64(outputBytes))
		},
		OnStage: func(from, to Stage) {
			m.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
		},
		OnSuspend: func(stage Stage) {
			m.SuspensionsTotal.WithLabelValues(string(stage)).Inc()
		},
		OnResume: func(stage Stage) {
			m.ResumesTotal.WithLabelValues(string(stage)).Inc()
		},
		OnQuality: func(metric string, score float64) {
			m.QualityScore.WithLabelValues(metric).Observe(score)
		},
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Stage)).Inc()
			m.RunDuration.WithLabelValues(string(e.Stage)).Observe(e.Duration)
			m.RunSteps.Observe(float64(e.Steps))
			m.RunConfidence.Observe(e.Confidence)
		},
	}
}
