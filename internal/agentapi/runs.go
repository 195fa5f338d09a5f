package agentapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/agent"
)

type askRequest struct {
	Question    string `json:"question" validate:"required,min=10,max=2000"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
	TimeWindow  string `json:"time_window"`
}

type triageRequest struct {
	Service     string `json:"service" validate:"required"`
	Environment string `json:"environment"`
	TimeWindow  string `json:"time_window"`
	Severity    string `json:"severity" validate:"omitempty,oneof=SEV-1 SEV-2 SEV-3 SEV-4"`
	Symptoms    string `json:"symptoms"`
	AlertID     string `json:"alert_id"`
}

type reviewRequest struct {
	TraceID       string `json:"trace_id" validate:"required"`
	Outcome       string `json:"outcome" validate:"required,oneof=approve reject edit"`
	Modifications string `json:"modifications"`
	ReviewerNotes string `json:"reviewer_notes"`
}

type resumeRequest struct {
	Reply string `json:"reply" validate:"required"`
}

// suspendedResponse is returned when a run pauses for human input. The
// trace_id doubles as the resumption token.
type suspendedResponse struct {
	Status  string `json:"status"`
	TraceID string `json:"trace_id"`
	Stage   string `json:"stage"`
	Prompt  string `json:"prompt"`
}

// escalatedResponse is returned with 422 when governance hands the run to a
// human instead of answering. The partial analysis carries what the run knew
// at handoff; the full state stays readable via GET /runs/{id}.
type escalatedResponse struct {
	Status          string          `json:"status"`
	TraceID         string          `json:"trace_id"`
	Reason          string          `json:"reason"`
	Message         string          `json:"message,omitempty"`
	PartialAnalysis partialAnalysis `json:"partial_analysis"`
}

type partialAnalysis struct {
	Query            string  `json:"query"`
	ExtractedService string  `json:"extracted_service,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// completedResponse is the triage answer for a finished run.
type completedResponse struct {
	Status       string             `json:"status"`
	TraceID      string             `json:"trace_id"`
	Summary      string             `json:"summary,omitempty"`
	Hypotheses   []agent.Hypothesis `json:"hypotheses,omitempty"`
	NextSteps    []string           `json:"next_steps,omitempty"`
	Confidence   float64            `json:"confidence"`
	StepCount    int                `json:"step_count"`
	ModelCalls   int                `json:"model_calls"`
	ToolCalls    int                `json:"tool_calls"`
	IncidentID   string             `json:"incident_id,omitempty"`
	IncidentLink string             `json:"incident_link,omitempty"`
	CaseID       string             `json:"case_id,omitempty"`
	CaseLink     string             `json:"case_link,omitempty"`
	Error        string             `json:"error,omitempty"`
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !a.decode(w, r, &req) {
		return
	}

	out, err := a.svc.Ask(r.Context(), agent.AskInput{
		Question:    req.Question,
		Service:     req.Service,
		Environment: req.Environment,
		TimeWindow:  req.TimeWindow,
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "ask failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeOutcome(w, r, out)
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !a.decode(w, r, &req) {
		return
	}

	out, err := a.svc.Triage(r.Context(), agent.TriageInput{
		Service:     req.Service,
		Environment: req.Environment,
		TimeWindow:  req.TimeWindow,
		Severity:    req.Severity,
		Symptoms:    req.Symptoms,
		AlertID:     req.AlertID,
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "triage failed", "service", req.Service)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeOutcome(w, r, out)
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !a.decode(w, r, &req) {
		return
	}

	// The gate classifies the outcome word alone. Modifications and
	// reviewer notes are logged for the audit trail; nothing edits the
	// proposed action.
	a.logger.Info(r.Context(), "review received",
		"run_id", req.TraceID,
		"outcome", req.Outcome,
		"modifications", req.Modifications,
		"reviewer_notes", req.ReviewerNotes,
	)
	a.resume(w, r, req.TraceID, req.Outcome)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.resume(w, r, chi.URLParam(r, "id"), req.Reply)
}

func (a *API) resume(w http.ResponseWriter, r *http.Request, token, reply string) {
	out, err := a.svc.Resume(r.Context(), token, reply)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "resume failed", "run_id", token)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeOutcome(w, r, out)
}

// decode unmarshals and validates a request body, writing a 400 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

// writeOutcome renders one engine drive: suspended and completed runs get
// 200, escalated runs get 422 with the reason pair.
func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, out *agent.Outcome) {
	st := out.State

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.run.id", st.ID),
		attribute.String("warden.run.stage", string(st.Stage)),
	)

	if out.Suspended() {
		writeJSON(w, http.StatusOK, suspendedResponse{
			Status:  "suspended",
			TraceID: st.ID,
			Stage:   string(out.Suspension.Stage),
			Prompt:  out.Suspension.Prompt,
		})
		return
	}

	if st.Stage == agent.StageEscalated {
		writeJSON(w, http.StatusUnprocessableEntity, escalatedResponse{
			Status:  "escalated",
			TraceID: st.ID,
			Reason:  string(st.EscalationReason),
			Message: st.EscalationMessage,
			PartialAnalysis: partialAnalysis{
				Query:            st.Query,
				ExtractedService: st.ExtractedService,
				Confidence:       st.IntakeConfidence,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, completedResponse{
		Status:       "completed",
		TraceID:      st.ID,
		Summary:      st.Summary,
		Hypotheses:   st.Hypotheses,
		NextSteps:    st.NextSteps,
		Confidence:   st.SynthesisConfidence,
		StepCount:    st.StepCount,
		ModelCalls:   st.ModelCalls,
		ToolCalls:    st.ToolCalls,
		IncidentID:   st.IncidentID,
		IncidentLink: st.IncidentLink,
		CaseID:       st.CaseID,
		CaseLink:     st.CaseLink,
		Error:        st.Error,
	})
}
