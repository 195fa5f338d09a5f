package agent

import (
	"context"
	"encoding/json"
)

// Toolset is the evidence and writeback surface the workflow drives. The
// production implementation talks to the ops MCP server; tests use fakes.
type Toolset interface {
	// GetMetrics returns error rate, latency, and throughput data for a service.
	GetMetrics(ctx context.Context, service, timeWindow string) (json.RawMessage, error)

	// GetLogs returns recent log entries matching the query.
	GetLogs(ctx context.Context, service, query, timeWindow string) (json.RawMessage, error)

	// ListSpans returns recent traces matching the query.
	ListSpans(ctx context.Context, service, query, timeWindow string) (json.RawMessage, error)

	// CreateIncident opens an incident and returns its id.
	CreateIncident(ctx context.Context, req *IncidentRequest) (string, error)

	// CreateCase opens a follow-up case and returns its id.
	CreateCase(ctx context.Context, req *CaseRequest) (string, error)
}

// IncidentRequest describes an incident to open after approval.
type IncidentRequest struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Severity      string   `json:"severity"`
	EvidenceLinks []string `json:"evidence_links,omitempty"`
	Hypotheses    []string `json:"hypotheses,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
}

// CaseRequest describes a follow-up case to open after approval.
type CaseRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Priority      string   `json:"priority"`
	EvidenceLinks []string `json:"evidence_links,omitempty"`
	Hypotheses    []string `json:"hypotheses,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
}

// Evaluator scores a synthesis summary against the evidence that produced it.
// Scores are advisory; a failed evaluation never blocks a run.
type Evaluator interface {
	Evaluate(ctx context.Context, query, evidence, summary string) (map[string]float64, error)
}
