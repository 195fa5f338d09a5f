package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/governance"
)

// intake validates the query, classifies it, and extracts parameters.
func (e *Engine) intake(ctx context.Context, st *State) error {
	tr := e.tracker(st)
	defer syncBudget(st, tr)

	verdict := e.security.ValidateInput(ctx, st.Query)
	if !verdict.OK {
		esc := e.escalator.Escalate(ctx, verdict.Reason, verdict.Message, map[string]any{
			"stage":    string(StageIntake),
			"detected": verdict.Detected,
		})
		st.EscalationReason = esc.Reason
		st.EscalationMessage = esc.Message
		st.Stage = StageEscalated
		tr.RecordStep()
		st.AddMessage("Security validation failed: " + verdict.Message)
		return nil
	}

	resp, err := e.generate(ctx, st, &GenerateRequest{
		MaxTokens: ResponseTokens,
		System:    intakeSystemPrompt,
		Prompt:    buildIntakePrompt(st),
	})
	if err != nil {
		return fmt.Errorf("intake classification: %w", err)
	}
	tr.RecordModelCall()

	cls := parseIntakeResponse(ctx, e.logger, resp.Text)
	st.Intent = cls.Intent
	st.ExtractedService = cls.Service
	st.ExtractedWindow = cls.TimeWindow
	st.IntakeConfidence = cls.Confidence
	st.IntakeReasoning = cls.Reasoning

	tr.RecordStep()
	st.AddMessage(fmt.Sprintf("Intake: classified as %s with confidence %.2f", cls.Intent, cls.Confidence))

	e.routeIntake(ctx, st, tr)
	return nil
}

// routeIntake decides the stage after intake. Budgets are checked first;
// anything unclassifiable clarifies until attempts run out, then escalates.
func (e *Engine) routeIntake(ctx context.Context, st *State, tr *governance.BudgetTracker) {
	if esc, ok := e.escalator.FromBudget(ctx, tr, 0); ok {
		e.escalate(st, tr, esc)
		return
	}

	canClarify := st.ClarificationAttempts < e.maxClarifications

	if st.Intent == IntentClarification {
		if canClarify {
			st.Stage = StageClarification
			return
		}
		esc := e.escalator.Escalate(ctx, governance.ReasonClarificationExhausted,
			"Unable to classify request with sufficient confidence after multiple attempts",
			map[string]any{"attempts": st.ClarificationAttempts})
		e.escalate(st, tr, esc)
		return
	}

	if st.IntakeConfidence < e.confidenceThreshold {
		if canClarify {
			st.Stage = StageClarification
			return
		}
		esc := e.escalator.Escalate(ctx, governance.ReasonClarificationExhausted,
			"Unable to classify request with sufficient confidence after multiple attempts",
			map[string]any{"attempts": st.ClarificationAttempts, "confidence": st.IntakeConfidence})
		e.escalate(st, tr, esc)
		return
	}

	if st.TargetService() == "" {
		if canClarify {
			st.Stage = StageClarification
			return
		}
		esc := e.escalator.Escalate(ctx, governance.ReasonClarificationExhausted,
			"Unable to classify request with sufficient confidence after multiple attempts",
			map[string]any{"attempts": st.ClarificationAttempts, "missing": "service"})
		e.escalate(st, tr, esc)
		return
	}

	st.Stage = StageCollect
}

// collect fans out to the three evidence sources. Sources fail independently;
// a run continues with whatever came back.
func (e *Engine) collect(ctx context.Context, st *State) error {
	tr := e.tracker(st)
	defer syncBudget(st, tr)

	service := st.TargetService()
	window := st.TargetWindow()

	type sourceResult struct {
		out json.RawMessage
		err error
	}
	var metrics, logs, traces sourceResult

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		metrics.out, metrics.err = e.observeTool(ctx, st, "get_metrics",
			fmt.Sprintf(`{"service":%q,"time_window":%q}`, service, window),
			func(ctx context.Context) (json.RawMessage, error) {
				return e.toolset.GetMetrics(ctx, service, window)
			})
	}()
	go func() {
		defer wg.Done()
		logs.out, logs.err = e.observeTool(ctx, st, "get_logs",
			fmt.Sprintf(`{"service":%q,"query":%q,"time_window":%q}`, service, logErrorQuery, window),
			func(ctx context.Context) (json.RawMessage, error) {
				return e.toolset.GetLogs(ctx, service, logErrorQuery, window)
			})
	}()
	go func() {
		defer wg.Done()
		traces.out, traces.err = e.observeTool(ctx, st, "list_spans",
			fmt.Sprintf(`{"service":%q,"query":%q,"time_window":%q}`, service, spanErrorQuery, window),
			func(ctx context.Context) (json.RawMessage, error) {
				return e.toolset.ListSpans(ctx, service, spanErrorQuery, window)
			})
	}()
	wg.Wait()

	ev := &Evidence{}
	if metrics.err != nil {
		ev.Errors = append(ev.Errors, "Metrics: "+metrics.err.Error())
	} else {
		ev.Metrics = metrics.out
		tr.RecordToolCall()
	}
	if logs.err != nil {
		ev.Errors = append(ev.Errors, "Logs: "+logs.err.Error())
	} else {
		ev.Logs = logs.out
		tr.RecordToolCall()
	}
	if traces.err != nil {
		ev.Errors = append(ev.Errors, "Traces: "+traces.err.Error())
	} else {
		ev.Traces = traces.out
		tr.RecordToolCall()
	}
	st.Evidence = ev

	tr.RecordStep()
	st.AddMessage(fmt.Sprintf("Collected evidence: %d/3 sources successful", 3-len(ev.Errors)))

	if ev.Empty() {
		esc := e.escalator.Escalate(ctx, governance.ReasonAllSourcesFailed, "",
			map[string]any{"errors": ev.Errors})
		e.escalate(st, tr, esc)
		return nil
	}

	// Leave enough step budget for synthesis and writeback.
	if esc, ok := e.escalator.FromBudget(ctx, tr, collectBudgetBuffer); ok {
		e.escalate(st, tr, esc)
		return nil
	}

	st.Stage = StageSynthesis
	return nil
}

const (
	logErrorQuery  = "status:error OR status:warn"
	spanErrorQuery = "status:error"
)

// synthesize turns the collected evidence into ranked hypotheses and decides
// whether a human must approve a follow-up write.
func (e *Engine) synthesize(ctx context.Context, st *State) error {
	tr := e.tracker(st)
	defer syncBudget(st, tr)

	resp, err := e.generate(ctx, st, &GenerateRequest{
		MaxTokens: ResponseTokens,
		System:    synthesisSystemPrompt,
		Prompt:    buildSynthesisPrompt(st),
	})
	if err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	tr.RecordModelCall()

	res := parseSynthesisResponse(ctx, e.logger, resp.Text)
	st.Summary = res.Summary
	st.Hypotheses = res.Hypotheses
	st.NextSteps = res.NextSteps
	st.SynthesisConfidence = res.OverallConfidence
	st.RequiresIncident = res.RequiresIncident
	st.SuggestedSeverity = res.SuggestedSeverity

	st.RequiresApproval = e.gate.Required(
		st.ForceApproval,
		st.Intent == IntentWriteIntent || st.RequiresIncident,
		nil, 0,
	)

	tr.RecordStep()
	st.AddMessage(fmt.Sprintf("Synthesis: %d hypotheses, confidence %.2f", len(st.Hypotheses), st.SynthesisConfidence))

	e.scoreQuality(ctx, st)

	if esc, ok := e.escalator.FromBudget(ctx, tr, 0); ok {
		e.escalate(st, tr, esc)
		return nil
	}
	if esc, ok := e.escalator.FromConfidence(ctx, st.SynthesisConfidence, e.confidenceThreshold,
		map[string]any{"stage": string(StageSynthesis)}); ok {
		e.escalate(st, tr, esc)
		return nil
	}

	if st.RequiresApproval {
		st.Stage = StageApproval
		return nil
	}
	st.Stage = StageComplete
	return nil
}

// scoreQuality runs the advisory evaluator over the synthesis output.
// Failures are logged and ignored; scores never gate the run.
func (e *Engine) scoreQuality(ctx context.Context, st *State) {
	if e.evaluator == nil || st.Summary == "" {
		return
	}
	evidence := formatEvidence(evidenceDigest(st.Evidence), metricsPromptLimit, "No evidence collected")
	scores, err := e.evaluator.Evaluate(ctx, st.Query, evidence, st.Summary)
	if err != nil {
		e.logger.Warn(ctx, "quality evaluation failed", "run_id", st.ID, "error", err)
		return
	}
	st.QualityScores = scores
	if e.hooks.OnQuality != nil {
		for metric, score := range scores {
			e.hooks.OnQuality(metric, score)
		}
	}
}

// evidenceDigest merges the evidence payloads into one JSON object for the
// evaluator prompt.
func evidenceDigest(ev *Evidence) json.RawMessage {
	if ev == nil {
		return nil
	}
	digest := map[string]json.RawMessage{}
	if len(ev.Metrics) > 0 {
		digest["metrics"] = ev.Metrics
	}
	if len(ev.Logs) > 0 {
		digest["logs"] = ev.Logs
	}
	if len(ev.Traces) > 0 {
		digest["traces"] = ev.Traces
	}
	if len(digest) == 0 {
		return nil
	}
	out, err := json.Marshal(digest)
	if err != nil {
		return nil
	}
	return out
}

// writeback executes the approved action. Exactly one write tool call is
// made per run; a failure is reported on the state, never retried.
func (e *Engine) writeback(ctx context.Context, st *State) error {
	tr := e.tracker(st)
	defer syncBudget(st, tr)

	act := st.Proposed
	if act == nil {
		return fmt.Errorf("writeback: run %s has no proposed action", st.ID)
	}

	var id string
	var err error
	if act.Type == "incident" {
		id, err = e.observeWrite(ctx, st, "create_incident", act.Title,
			func(ctx context.Context) (string, error) {
				return e.toolset.CreateIncident(ctx, &IncidentRequest{
					Title:         act.Title,
					Summary:       act.Description,
					Severity:      act.Severity,
					EvidenceLinks: act.EvidenceLinks,
					Hypotheses:    act.Hypotheses,
					NextSteps:     act.NextSteps,
				})
			})
	} else {
		id, err = e.observeWrite(ctx, st, "create_case", act.Title,
			func(ctx context.Context) (string, error) {
				return e.toolset.CreateCase(ctx, &CaseRequest{
					Title:         act.Title,
					Description:   act.Description,
					Priority:      strings.Replace(act.Severity, "SEV-", "P", 1),
					EvidenceLinks: act.EvidenceLinks,
					Hypotheses:    act.Hypotheses,
					NextSteps:     act.NextSteps,
				})
			})
	}
	if err == nil && id == "" {
		err = fmt.Errorf("%s returned no id", act.Type)
	}

	if err != nil {
		st.Error = err.Error()
		tr.RecordStep()
		st.AddMessage("Writeback failed: " + err.Error())
		st.Stage = StageComplete
		return nil
	}

	if act.Type == "incident" {
		st.IncidentID = id
		st.AddMessage("Created incident: " + id)
	} else {
		st.CaseID = id
		st.AddMessage("Created case: " + id)
	}
	tr.RecordToolCall()
	tr.RecordStep()

	e.logger.Info(ctx, "writeback complete",
		"event_type", "writeback_complete",
		"run_id", st.ID,
		"query", e.security.Sanitize(st.Query, governance.DefaultSanitizeLength),
		"action_type", act.Type,
		"created_id", id,
		"hypotheses", len(st.Hypotheses),
		"approval_decision", st.ApprovalDecision,
	)

	st.Stage = StageComplete
	return nil
}

// escalate transitions the run to the escalated terminal stage.
func (e *Engine) escalate(st *State, tr *governance.BudgetTracker, esc governance.Escalation) {
	st.EscalationReason = esc.Reason
	st.EscalationMessage = esc.Message
	st.Stage = StageEscalated
	tr.RecordStep()
	st.AddMessage("Escalated: " + esc.Message)
}

// buildProposedAction assembles the write action presented for approval.
func buildProposedAction(st *State) *governance.ProposedAction {
	actionType := "case"
	if st.RequiresIncident {
		actionType = "incident"
	}

	summary := st.Summary
	if len(summary) > 50 {
		summary = summary[:50]
	}
	if summary == "" {
		summary = "Unknown"
	}

	severity := st.Severity
	if severity == "" {
		severity = st.SuggestedSeverity
	}
	if severity == "" {
		severity = "SEV-3"
	}

	var hypotheses []string
	for _, h := range st.Hypotheses {
		hypotheses = append(hypotheses, h.Description)
	}

	return &governance.ProposedAction{
		Type:          actionType,
		Title:         fmt.Sprintf("Triage: %s - %s", st.TargetService(), summary),
		Description:   st.Summary,
		Severity:      severity,
		EvidenceLinks: evidenceLinks(st.Evidence),
		Hypotheses:    hypotheses,
		NextSteps:     st.NextSteps,
		Context: map[string]string{
			"service":     st.TargetService(),
			"environment": st.Environment,
			"time_window": st.TargetWindow(),
		},
	}
}

// evidenceLinks pulls the console deep links the data sources embed in
// their payloads.
func evidenceLinks(ev *Evidence) []string {
	if ev == nil {
		return nil
	}
	var links []string
	if l := jsonStringField(ev.Metrics, "dashboard_link"); l != "" {
		links = append(links, l)
	}
	if l := jsonStringField(ev.Logs, "logs_link"); l != "" {
		links = append(links, l)
	}
	if l := jsonStringField(ev.Traces, "traces_link"); l != "" {
		links = append(links, l)
	}
	return links
}

func jsonStringField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(m[field], &s); err != nil {
		return ""
	}
	return s
}

// intakeResult is the parsed shape of the intake model response.
type intakeResult struct {
	Intent     Intent  `json:"intent"`
	Service    string  `json:"service"`
	TimeWindow string  `json:"time_window"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseIntakeResponse decodes the intake JSON. Malformed output falls back
// to a needs-clarification classification instead of failing the run.
func parseIntakeResponse(ctx context.Context, L log.Logger, text string) intakeResult {
	var res intakeResult
	if err := json.Unmarshal([]byte(extractJSON(text)), &res); err != nil {
		L.Warn(ctx, "intake response parse failed", "response", snippet(text, 200))
		return intakeResult{Intent: IntentClarification, TimeWindow: "last_15m"}
	}
	if res.Intent == "" {
		res.Intent = IntentClarification
	}
	if res.TimeWindow == "" {
		res.TimeWindow = "last_15m"
	}
	res.Confidence = clamp01(res.Confidence)
	return res
}

// synthesisResult is the parsed shape of the synthesis model response.
type synthesisResult struct {
	Summary           string       `json:"summary"`
	Hypotheses        []Hypothesis `json:"hypotheses"`
	NextSteps         []string     `json:"next_steps"`
	OverallConfidence float64      `json:"overall_confidence"`
	RequiresIncident  bool         `json:"requires_incident"`
	SuggestedSeverity string       `json:"suggested_severity"`
}

// parseSynthesisResponse decodes the synthesis JSON. Malformed output falls
// back to a zero-confidence result, which routes to escalation downstream.
func parseSynthesisResponse(ctx context.Context, L log.Logger, text string) synthesisResult {
	var res synthesisResult
	if err := json.Unmarshal([]byte(extractJSON(text)), &res); err != nil {
		L.Warn(ctx, "synthesis response parse failed", "response", snippet(text, 200))
		return synthesisResult{Summary: "Unable to parse synthesis response"}
	}
	for i := range res.Hypotheses {
		if res.Hypotheses[i].Rank == 0 {
			res.Hypotheses[i].Rank = i + 1
		}
		res.Hypotheses[i].Confidence = clamp01(res.Hypotheses[i].Confidence)
	}
	res.OverallConfidence = clamp01(res.OverallConfidence)
	return res
}

// fenceRe matches a fenced code block, tolerating a json language tag.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSON strips a surrounding markdown fence when the model added one.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

func snippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
