// Package agentapi exposes the triage workflow over HTTP. POST endpoints
// drive a run until it completes, suspends for human input, or escalates;
// suspended runs are resumed with the run id as the token.
package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/agent"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunService defines the workflow operations the API exposes.
type RunService interface {
	Ask(ctx context.Context, in agent.AskInput) (*agent.Outcome, error)
	Triage(ctx context.Context, in agent.TriageInput) (*agent.Outcome, error)
	Resume(ctx context.Context, token, reply string) (*agent.Outcome, error)
	Get(ctx context.Context, id string) (*agent.State, bool, error)
	List(ctx context.Context, limit int) ([]*agent.State, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      RunService
	validate *validator.Validate
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("agentapi: run service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ask", a.handleAsk)
		r.Post("/triage", a.handleTriage)
		r.Post("/review", a.handleReview)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", a.handleListRuns)
			r.Get("/{id}", a.handleGetRun)
			r.Post("/{id}/resume", a.handleResume)
		})
	})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.run.id", id))

	st, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "run_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.run.stage", string(st.Stage)))
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	states, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list runs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	runs := make([]runSummary, 0, len(states))
	for _, st := range states {
		runs = append(runs, runSummary{
			TraceID:    st.ID,
			Stage:      string(st.Stage),
			Service:    st.TargetService(),
			Confidence: st.SynthesisConfidence,
			StartedAt:  st.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// runSummary is one row of the run listing.
type runSummary struct {
	TraceID    string    `json:"trace_id"`
	Stage      string    `json:"stage"`
	Service    string    `json:"service,omitempty"`
	Confidence float64   `json:"confidence"`
	StartedAt  time.Time `json:"started_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
