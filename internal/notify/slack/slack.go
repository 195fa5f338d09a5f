// Package slack sends run lifecycle notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/agent"
)

const (
	maxBodyLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier posts run lifecycle events to a Slack webhook. It implements
// agent.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every notify
// call is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// NotifySuspended posts an approval request or a clarification question,
// depending on the stage the run paused at.
func (n *Notifier) NotifySuspended(ctx context.Context, st *agent.State, prompt string) error {
	if n.webhookURL == "" {
		return nil
	}
	if st.Stage == agent.StageApproval {
		return n.post(ctx, "approval_requested", st.ID, buildApproval(st, prompt))
	}
	return n.post(ctx, "clarification_requested", st.ID, buildClarification(st, prompt))
}

// NotifyFinished posts the run's outcome once it reaches a terminal stage.
func (n *Notifier) NotifyFinished(ctx context.Context, st *agent.State) error {
	if n.webhookURL == "" {
		return nil
	}
	if st.Stage == agent.StageEscalated {
		return n.post(ctx, "run_escalated", st.ID, buildEscalated(st))
	}
	return n.post(ctx, "run_completed", st.ID, buildCompleted(st))
}

func (n *Notifier) post(ctx context.Context, kind, runID string, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "kind", kind, "run_id", runID)
	return nil
}

func buildCompleted(st *agent.State) map[string]any {
	fields := []string{
		fmt.Sprintf("*Service:* %s", subject(st)),
		fmt.Sprintf("*Severity:* %s", effectiveSeverity(st)),
		fmt.Sprintf("*Confidence:* %.2f", st.SynthesisConfidence),
		fmt.Sprintf("*Steps:* %d", st.StepCount),
		fmt.Sprintf("*Model calls:* %d", st.ModelCalls),
		fmt.Sprintf("*Tool calls:* %d", st.ToolCalls),
	}
	if st.IncidentID != "" {
		fields = append(fields, fmt.Sprintf("*Incident:* %s", link(st.IncidentID, st.IncidentLink)))
	}
	if st.CaseID != "" {
		fields = append(fields, fmt.Sprintf("*Case:* %s", link(st.CaseID, st.CaseLink)))
	}

	body := truncate(st.Summary, maxBodyLen)
	if body == "" {
		body = "_No summary available._"
	}

	return message(
		headerBlock(fmt.Sprintf("%s Triage Complete: %s", runEmoji(st), subject(st))),
		fieldsBlock(fields),
		sectionBlock("*Summary*\n\n"+body),
		contextBlock(st, ""),
	)
}

func buildEscalated(st *agent.State) map[string]any {
	fields := []string{
		fmt.Sprintf("*Service:* %s", subject(st)),
		fmt.Sprintf("*Severity:* %s", effectiveSeverity(st)),
		fmt.Sprintf("*Reason:* %s", st.EscalationReason),
		fmt.Sprintf("*Steps:* %d", st.StepCount),
		fmt.Sprintf("*Model calls:* %d", st.ModelCalls),
		fmt.Sprintf("*Tool calls:* %d", st.ToolCalls),
	}

	body := st.EscalationMessage
	if st.Summary != "" {
		body += "\n\n*Partial analysis*\n\n" + st.Summary
	}

	return message(
		headerBlock(fmt.Sprintf("\U0001f534 Triage Escalated: %s", subject(st))),
		fieldsBlock(fields),
		sectionBlock("*Escalation*\n\n"+truncate(body, maxBodyLen)),
		contextBlock(st, "a human needs to take over"),
	)
}

func buildApproval(st *agent.State, prompt string) map[string]any {
	fields := []string{
		fmt.Sprintf("*Service:* %s", subject(st)),
		fmt.Sprintf("*Severity:* %s", effectiveSeverity(st)),
		fmt.Sprintf("*Confidence:* %.2f", st.SynthesisConfidence),
	}
	if st.Proposed != nil {
		fields = append(fields, fmt.Sprintf("*Action:* %s", st.Proposed.Type))
	}

	body := prompt
	if st.Proposed != nil {
		body = fmt.Sprintf("*%s*\n\n%s\n\n%s", st.Proposed.Title, st.Proposed.Description, prompt)
	}

	return message(
		headerBlock(fmt.Sprintf("\U0001f7e1 Approval Needed: %s", subject(st))),
		fieldsBlock(fields),
		sectionBlock("*Proposed action*\n\n"+truncate(body, maxBodyLen)),
		contextBlock(st, "reply via POST /api/v1/review"),
	)
}

func buildClarification(st *agent.State, prompt string) map[string]any {
	fields := []string{
		fmt.Sprintf("*Service:* %s", subject(st)),
		fmt.Sprintf("*Confidence:* %.2f", st.IntakeConfidence),
		fmt.Sprintf("*Attempts:* %d", st.ClarificationAttempts),
	}

	return message(
		headerBlock(fmt.Sprintf("\U0001f7e1 Clarification Needed: %s", subject(st))),
		fieldsBlock(fields),
		sectionBlock("*Question*\n\n"+truncate(prompt, maxBodyLen)),
		contextBlock(st, "reply via POST /runs/{id}/resume"),
	)
}

// message assembles the fixed block layout shared by all notification kinds:
// header, fields, body and context separated by dividers.
func message(header, fields, body, context map[string]any) map[string]any {
	divider := map[string]any{"type": "divider"}
	return map[string]any{
		"blocks": []map[string]any{
			header,
			divider,
			fields,
			divider,
			body,
			divider,
			context,
		},
	}
}

func headerBlock(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(fields []string) map[string]any {
	out := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{"type": "mrkdwn", "text": f})
	}
	return map[string]any{
		"type":   "section",
		"fields": out,
	}
}

func sectionBlock(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(st *agent.State, hint string) map[string]any {
	ts := st.CompletedAt
	if ts.IsZero() {
		ts = st.StartedAt
	}

	line := fmt.Sprintf("warden • run %s • %s", st.ID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	if hint != "" {
		line += " • " + hint
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": line},
		},
	}
}

// subject names the run in headers and fields. Runs suspended before intake
// finishes may have no service yet; fall back to the question text.
func subject(st *agent.State) string {
	if svc := st.TargetService(); svc != "" {
		return svc
	}
	if st.Query != "" {
		return truncate(st.Query, 48)
	}
	return "unknown"
}

func effectiveSeverity(st *agent.State) string {
	if st.SuggestedSeverity != "" {
		return st.SuggestedSeverity
	}
	if st.Severity != "" {
		return st.Severity
	}
	return "unclassified"
}

func runEmoji(st *agent.State) string {
	switch effectiveSeverity(st) {
	case "SEV-1", "SEV-2":
		return "\U0001f534" // red circle
	case "SEV-3":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func link(id, url string) string {
	if url == "" {
		return id
	}
	return fmt.Sprintf("<%s|%s>", url, id)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
