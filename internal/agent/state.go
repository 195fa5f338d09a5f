package agent

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/warden/internal/governance"
)

// Stage tracks where a workflow run is in its lifecycle.
type Stage string

const (
	// StageIntake classifies the request and extracts parameters.
	StageIntake Stage = "intake"

	// StageClarification is suspended awaiting more detail from the requester.
	StageClarification Stage = "clarification"

	// StageCollect gathers evidence from the observability sources.
	StageCollect Stage = "collect"

	// StageSynthesis turns evidence into ranked hypotheses.
	StageSynthesis Stage = "synthesis"

	// StageApproval is suspended awaiting a human decision on a proposed write.
	StageApproval Stage = "approval"

	// StageWriteback executes the approved write action.
	StageWriteback Stage = "writeback"

	// StageComplete means finished with a usable answer.
	StageComplete Stage = "complete"

	// StageEscalated means handed off to a human with a reason.
	StageEscalated Stage = "escalated"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageEscalated
}

// Suspended reports whether the stage is waiting on human input.
func (s Stage) Suspended() bool {
	return s == StageClarification || s == StageApproval
}

// Intent is the classified purpose of a triage request.
type Intent string

const (
	IntentReadOnly      Intent = "read_only"
	IntentWriteIntent   Intent = "write_intent"
	IntentClarification Intent = "clarification_needed"
)

// Hypothesis is one ranked root-cause candidate from synthesis.
type Hypothesis struct {
	Rank        int      `json:"rank"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
	QueryLinks  []string `json:"query_links,omitempty"`
}

// Evidence holds the three independent observability payloads for a run.
// Each source may be absent; Errors records why.
type Evidence struct {
	Metrics json.RawMessage `json:"metrics,omitempty"`
	Logs    json.RawMessage `json:"logs,omitempty"`
	Traces  json.RawMessage `json:"traces,omitempty"`
	Errors  []string        `json:"errors,omitempty"`
}

// Empty reports whether no source returned anything usable.
func (e *Evidence) Empty() bool {
	return e == nil || (len(e.Metrics) == 0 && len(e.Logs) == 0 && len(e.Traces) == 0)
}

// State is the full mutable record of one workflow run. It is mutated only
// by engine transitions; governance components read it and return verdicts.
// Everything needed to resume a suspended run is carried here.
type State struct {
	ID          string `json:"id"`
	Query       string `json:"query"`
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment"`
	TimeWindow  string `json:"time_window"`
	Severity    string `json:"severity,omitempty"`

	// ForceApproval routes the run through the approval gate regardless of
	// classified intent.
	ForceApproval bool `json:"force_approval,omitempty"`

	Stage     Stage     `json:"stage"`
	StartedAt time.Time `json:"started_at"`

	StepCount  int `json:"step_count"`
	ModelCalls int `json:"model_calls"`
	ToolCalls  int `json:"tool_calls"`

	Intent                Intent  `json:"intent,omitempty"`
	ExtractedService      string  `json:"extracted_service,omitempty"`
	ExtractedWindow       string  `json:"extracted_window,omitempty"`
	IntakeConfidence      float64 `json:"intake_confidence"`
	IntakeReasoning       string  `json:"intake_reasoning,omitempty"`
	ClarificationAttempts int     `json:"clarification_attempts"`

	Evidence *Evidence `json:"evidence,omitempty"`

	Summary             string             `json:"summary,omitempty"`
	Hypotheses          []Hypothesis       `json:"hypotheses,omitempty"`
	NextSteps           []string           `json:"next_steps,omitempty"`
	SynthesisConfidence float64            `json:"synthesis_confidence"`
	RequiresIncident    bool               `json:"requires_incident,omitempty"`
	SuggestedSeverity   string             `json:"suggested_severity,omitempty"`
	QualityScores       map[string]float64 `json:"quality_scores,omitempty"`

	RequiresApproval    bool                       `json:"requires_approval,omitempty"`
	Proposed            *governance.ProposedAction `json:"proposed_action,omitempty"`
	ApprovalStatus      governance.ApprovalStatus  `json:"approval_status,omitempty"`
	ApprovalDecision    string                     `json:"approval_decision,omitempty"`
	ApprovalRequestedAt time.Time                  `json:"approval_requested_at,omitempty"`

	IncidentID   string `json:"incident_id,omitempty"`
	IncidentLink string `json:"incident_link,omitempty"`
	CaseID       string `json:"case_id,omitempty"`
	CaseLink     string `json:"case_link,omitempty"`

	EscalationReason  governance.Reason `json:"escalation_reason,omitempty"`
	EscalationMessage string            `json:"escalation_message,omitempty"`
	Error             string            `json:"error,omitempty"`

	Messages    []string  `json:"messages,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NewState builds the initial state for a triage question.
func NewState(id, query string) *State {
	return &State{
		ID:          id,
		Query:       query,
		Environment: "production",
		TimeWindow:  "last_15m",
		Stage:       StageIntake,
		StartedAt:   time.Now().UTC(),
	}
}

// AddMessage appends an entry to the run's progress log.
func (s *State) AddMessage(msg string) {
	s.Messages = append(s.Messages, msg)
}

// TargetService is the service under investigation, preferring what intake
// extracted over what the request supplied.
func (s *State) TargetService() string {
	if s.ExtractedService != "" {
		return s.ExtractedService
	}
	return s.Service
}

// TargetWindow is the time window for evidence queries, preferring what
// intake extracted over what the request supplied.
func (s *State) TargetWindow() string {
	if s.ExtractedWindow != "" {
		return s.ExtractedWindow
	}
	return s.TimeWindow
}

// Clone returns a deep copy so stores can hand out state without sharing
// slices or maps with the engine.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s

	c.Hypotheses = make([]Hypothesis, len(s.Hypotheses))
	copy(c.Hypotheses, s.Hypotheses)
	for i, h := range s.Hypotheses {
		c.Hypotheses[i].Evidence = append([]string(nil), h.Evidence...)
		c.Hypotheses[i].QueryLinks = append([]string(nil), h.QueryLinks...)
	}
	c.NextSteps = append([]string(nil), s.NextSteps...)
	c.Messages = append([]string(nil), s.Messages...)

	if s.Evidence != nil {
		ev := Evidence{
			Metrics: append(json.RawMessage(nil), s.Evidence.Metrics...),
			Logs:    append(json.RawMessage(nil), s.Evidence.Logs...),
			Traces:  append(json.RawMessage(nil), s.Evidence.Traces...),
			Errors:  append([]string(nil), s.Evidence.Errors...),
		}
		c.Evidence = &ev
	}
	if s.QualityScores != nil {
		c.QualityScores = make(map[string]float64, len(s.QualityScores))
		for k, v := range s.QualityScores {
			c.QualityScores[k] = v
		}
	}
	if s.Proposed != nil {
		p := *s.Proposed
		p.EvidenceLinks = append([]string(nil), s.Proposed.EvidenceLinks...)
		p.Hypotheses = append([]string(nil), s.Proposed.Hypotheses...)
		p.NextSteps = append([]string(nil), s.Proposed.NextSteps...)
		if s.Proposed.Context != nil {
			p.Context = make(map[string]string, len(s.Proposed.Context))
			for k, v := range s.Proposed.Context {
				p.Context[k] = v
			}
		}
		c.Proposed = &p
	}
	return &c
}
