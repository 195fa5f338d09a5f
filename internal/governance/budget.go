package governance

// Limits bounds the resources a single workflow run may consume.
type Limits struct {
	MaxSteps      int
	MaxModelCalls int
	MaxToolCalls  int
}

// DefaultLimits returns the standard triage profile. Simpler agents run
// tighter profiles via configuration.
func DefaultLimits() Limits {
	return Limits{MaxSteps: 8, MaxModelCalls: 5, MaxToolCalls: 6}
}

// Snapshot is a point-in-time view of a tracker's counters and ceilings,
// used for escalation context and audit logging.
type Snapshot struct {
	Steps         int `json:"step_count"`
	ModelCalls    int `json:"model_calls"`
	ToolCalls     int `json:"tool_calls"`
	MaxSteps      int `json:"max_steps"`
	MaxModelCalls int `json:"max_model_calls"`
	MaxToolCalls  int `json:"max_tool_calls"`
}

// BudgetTracker counts steps, model calls and tool calls against fixed
// ceilings and reports the first ceiling breached. Each workflow run owns
// its own tracker; it is not safe for concurrent use.
type BudgetTracker struct {
	limits     Limits
	hooks      Hooks
	steps      int
	modelCalls int
	toolCalls  int
}

// NewBudgetTracker returns a tracker with all counters at zero.
func NewBudgetTracker(limits Limits, hooks Hooks) *BudgetTracker {
	return &BudgetTracker{limits: limits, hooks: hooks}
}

// ResumeBudgetTracker returns a tracker whose counters start from
// checkpointed values, for re-entering a suspended run.
func ResumeBudgetTracker(limits Limits, hooks Hooks, steps, modelCalls, toolCalls int) *BudgetTracker {
	return &BudgetTracker{
		limits:     limits,
		hooks:      hooks,
		steps:      steps,
		modelCalls: modelCalls,
		toolCalls:  toolCalls,
	}
}

// RecordStep increments the step counter.
func (t *BudgetTracker) RecordStep() {
	t.steps++
	t.emitRemaining("steps", t.limits.MaxSteps-t.steps)
}

// RecordModelCall increments the model call counter.
func (t *BudgetTracker) RecordModelCall() {
	t.modelCalls++
	t.emitRemaining("model_calls", t.limits.MaxModelCalls-t.modelCalls)
}

// RecordToolCall increments the tool call counter.
func (t *BudgetTracker) RecordToolCall() {
	t.toolCalls++
	t.emitRemaining("tool_calls", t.limits.MaxToolCalls-t.toolCalls)
}

func (t *BudgetTracker) emitRemaining(resource string, remaining int) {
	if t.hooks.OnBudgetRemaining == nil {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	t.hooks.OnBudgetRemaining(resource, remaining)
}

// Check reports the first breached ceiling, evaluated in fixed priority
// order: steps, then model calls, then tool calls. It returns the empty
// Reason when every counter is within budget. A non-zero buffer triggers
// the step check early, reserving headroom for final stages. A breached
// budget is a routing signal, not an error.
func (t *BudgetTracker) Check(buffer int) Reason {
	if t.steps >= t.limits.MaxSteps-buffer {
		return ReasonStepBudgetExceeded
	}
	if t.modelCalls >= t.limits.MaxModelCalls {
		return ReasonModelBudgetExceeded
	}
	if t.toolCalls >= t.limits.MaxToolCalls {
		return ReasonToolBudgetExceeded
	}
	return ""
}

// Exceeded reports whether any ceiling is breached.
func (t *BudgetTracker) Exceeded(buffer int) bool {
	return t.Check(buffer) != ""
}

// Snapshot returns the current counters and ceilings. Pure; repeated calls
// without intervening increments return identical values.
func (t *BudgetTracker) Snapshot() Snapshot {
	return Snapshot{
		Steps:         t.steps,
		ModelCalls:    t.modelCalls,
		ToolCalls:     t.toolCalls,
		MaxSteps:      t.limits.MaxSteps,
		MaxModelCalls: t.limits.MaxModelCalls,
		MaxToolCalls:  t.limits.MaxToolCalls,
	}
}
