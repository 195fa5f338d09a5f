package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Per-source character caps for evidence embedded in the synthesis prompt.
// Keeps the prompt inside a predictable token envelope.
const (
	metricsPromptLimit = 3000
	logsPromptLimit    = 3000
	tracesPromptLimit  = 2000
)

const intakeSystemPrompt = `You are Warden, an ops triage assistant. Your task is to classify user requests and extract key parameters.

RULES:
- Extract the service name if mentioned
- Identify the time window if specified (default: last_15m)
- Classify the intent: read_only (just wants information) or write_intent (wants to create incident/case)
- Provide a confidence score (0.0-1.0) for your extraction

OUTPUT FORMAT (JSON):
{
    "intent": "read_only" | "write_intent" | "clarification_needed",
    "service": "service-name" | null,
    "time_window": "last_5m" | "last_15m" | "last_1h" | "last_4h",
    "confidence": 0.0-1.0,
    "reasoning": "brief explanation"
}

If you cannot identify the service with confidence >= 0.7, set intent to "clarification_needed".`

const synthesisSystemPrompt = `You are an expert ops triage analyst. Analyse the collected evidence and provide actionable insights.

RULES:
- Generate 2-3 ranked hypotheses based ONLY on the evidence provided
- Each hypothesis must cite specific evidence (metric values, log messages, trace data)
- Provide a confidence score for each hypothesis
- List concrete next steps for investigation
- Never invent data - if evidence is missing, acknowledge it
- Be concise and actionable

OUTPUT FORMAT (JSON):
{
    "summary": "1-2 sentence overview of the situation",
    "hypotheses": [
        {
            "rank": 1,
            "description": "Most likely cause based on evidence",
            "confidence": 0.0-1.0,
            "evidence": ["specific evidence citation 1", "specific evidence citation 2"],
            "query_links": ["link to relevant query/dashboard"]
        }
    ],
    "next_steps": ["actionable step 1", "actionable step 2"],
    "overall_confidence": 0.0-1.0,
    "requires_incident": true | false,
    "suggested_severity": "SEV-1" | "SEV-2" | "SEV-3" | "SEV-4" | null
}`

// clarificationPrompt is shown to the requester when intake cannot proceed.
// This exact text is the suspension payload for the clarification stage.
const clarificationPrompt = `I need more information to help you effectively.

Could you please specify:
1. Which service are you asking about?
2. What time window should I look at? (e.g., last 15 minutes, last hour)

Example: "Check the api-gateway service for the last hour"
`

// buildIntakePrompt constructs the intake user message from the run state.
func buildIntakePrompt(st *State) string {
	service := st.Service
	if service == "" {
		service = "not specified"
	}
	return fmt.Sprintf(`Classify this triage request:

User Query: %s
Provided Service (if any): %s
Provided Time Window: %s

Extract parameters and classify intent.`, st.Query, service, st.TimeWindow)
}

// buildSynthesisPrompt constructs the synthesis user message, embedding the
// collected evidence with per-source truncation.
func buildSynthesisPrompt(st *State) string {
	var metrics, logs, traces json.RawMessage
	if st.Evidence != nil {
		metrics = st.Evidence.Metrics
		logs = st.Evidence.Logs
		traces = st.Evidence.Traces
	}
	return fmt.Sprintf(`Analyse this evidence for service "%s" over %s:

## Metrics Data
%s

## Logs Data
%s

## Traces Data
%s

## Original Query
%s

Provide your analysis with ranked hypotheses and next steps.`,
		st.TargetService(),
		st.TargetWindow(),
		formatEvidence(metrics, metricsPromptLimit, "No metrics data"),
		formatEvidence(logs, logsPromptLimit, "No logs data"),
		formatEvidence(traces, tracesPromptLimit, "No traces data"),
		st.Query,
	)
}

// formatEvidence pretty-prints one evidence payload for prompt embedding,
// truncated to limit characters. Absent payloads render as the marker text.
func formatEvidence(raw json.RawMessage, limit int, absent string) string {
	if len(raw) == 0 {
		return absent
	}
	var buf bytes.Buffer
	text := string(raw)
	if err := json.Indent(&buf, raw, "", "  "); err == nil {
		text = buf.String()
	}
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
