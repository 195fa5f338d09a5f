package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Reason identifies the governance boundary that triggered an escalation.
// Values double as metric label values, so they are stable.
type Reason string

const (
	ReasonStepBudgetExceeded     Reason = "step_budget_exceeded"
	ReasonModelBudgetExceeded    Reason = "model_budget_exceeded"
	ReasonToolBudgetExceeded     Reason = "tool_budget_exceeded"
	ReasonLowConfidence          Reason = "low_confidence"
	ReasonSecurityViolation      Reason = "security_violation"
	ReasonPromptInjection        Reason = "prompt_injection"
	ReasonPIIDetected            Reason = "pii_detected"
	ReasonAllSourcesFailed       Reason = "all_sources_failed"
	ReasonClarificationExhausted Reason = "clarification_exhausted"
	ReasonQualityThreshold       Reason = "quality_threshold_failed"
	ReasonHumanRejected          Reason = "human_rejected"
)

var defaultMessages = map[Reason]string{
	ReasonStepBudgetExceeded:     "Maximum workflow steps exceeded",
	ReasonModelBudgetExceeded:    "Maximum LLM calls exceeded",
	ReasonToolBudgetExceeded:     "Maximum tool calls exceeded",
	ReasonLowConfidence:          "Confidence below threshold",
	ReasonSecurityViolation:      "Security validation failed",
	ReasonPromptInjection:        "Prompt injection detected",
	ReasonPIIDetected:            "PII detected in input",
	ReasonAllSourcesFailed:       "All data sources failed",
	ReasonClarificationExhausted: "Maximum clarification attempts reached",
	ReasonQualityThreshold:       "Output quality below threshold",
	ReasonHumanRejected:          "Human reviewer rejected action",
}

// Message returns the standard human-readable message for the reason.
func (r Reason) Message() string {
	if m, ok := defaultMessages[r]; ok {
		return m
	}
	return fmt.Sprintf("Escalation: %s", string(r))
}

// Escalation is the structured record produced when a run is handed back
// to a human.
type Escalation struct {
	Reason  Reason
	Message string
	Context map[string]any
	At      time.Time
}

// EscalationHandler is the single funnel through which abnormal conditions
// become logged, metered escalation events.
type EscalationHandler struct {
	hooks  Hooks
	logger log.Logger
}

// NewEscalationHandler creates an escalation handler. A nil logger is
// replaced with a no-op logger.
func NewEscalationHandler(hooks Hooks, logger log.Logger) *EscalationHandler {
	if logger == nil {
		logger = log.Nop()
	}
	return &EscalationHandler{hooks: hooks, logger: logger}
}

// Escalate records an escalation event and returns it for the caller to
// fold into the terminal response. It never fails; an empty message falls
// back to the reason's default. Escalation is terminal for the run that
// issued it.
func (h *EscalationHandler) Escalate(ctx context.Context, reason Reason, message string, details map[string]any) Escalation {
	if message == "" {
		message = reason.Message()
	}

	h.logger.Warn(ctx, "workflow escalated to human",
		"reason", string(reason),
		"message", message,
		"context", details,
	)
	if h.hooks.OnEscalation != nil {
		h.hooks.OnEscalation(reason)
	}

	return Escalation{
		Reason:  reason,
		Message: message,
		Context: details,
		At:      time.Now(),
	}
}

// FromBudget checks the tracker and escalates with the full budget
// snapshot as context if any ceiling is breached. The second return is
// false when every budget passes.
func (h *EscalationHandler) FromBudget(ctx context.Context, tracker *BudgetTracker, buffer int) (Escalation, bool) {
	reason := tracker.Check(buffer)
	if reason == "" {
		return Escalation{}, false
	}

	snap := tracker.Snapshot()
	return h.Escalate(ctx, reason, "", map[string]any{
		"step_count":      snap.Steps,
		"model_calls":     snap.ModelCalls,
		"tool_calls":      snap.ToolCalls,
		"max_steps":       snap.MaxSteps,
		"max_model_calls": snap.MaxModelCalls,
		"max_tool_calls":  snap.MaxToolCalls,
	}), true
}

// FromConfidence escalates iff confidence falls below threshold, embedding
// both values in the message and context. The second return is false when
// confidence passes.
func (h *EscalationHandler) FromConfidence(ctx context.Context, confidence, threshold float64, details map[string]any) (Escalation, bool) {
	if confidence >= threshold {
		return Escalation{}, false
	}

	if details == nil {
		details = make(map[string]any, 2)
	}
	details["confidence"] = confidence
	details["threshold"] = threshold

	message := fmt.Sprintf("Confidence %.2f below threshold %.2f", confidence, threshold)
	return h.Escalate(ctx, ReasonLowConfidence, message, details), true
}
