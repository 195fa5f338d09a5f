package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/agent"
	"github.com/linnemanlabs/warden/internal/governance"
)

// fakeService returns canned outcomes and records what it was called with.
type fakeService struct {
	out *agent.Outcome
	err error

	getState *agent.State
	getOK    bool
	runs     []*agent.State

	gotAsk    *agent.AskInput
	gotTriage *agent.TriageInput
	gotToken  string
	gotReply  string
	gotLimit  int
}

func (f *fakeService) Ask(_ context.Context, in agent.AskInput) (*agent.Outcome, error) {
	f.gotAsk = &in
	return f.out, f.err
}

func (f *fakeService) Triage(_ context.Context, in agent.TriageInput) (*agent.Outcome, error) {
	f.gotTriage = &in
	return f.out, f.err
}

func (f *fakeService) Resume(_ context.Context, token, reply string) (*agent.Outcome, error) {
	f.gotToken = token
	f.gotReply = reply
	return f.out, f.err
}

func (f *fakeService) Get(_ context.Context, _ string) (*agent.State, bool, error) {
	return f.getState, f.getOK, f.err
}

func (f *fakeService) List(_ context.Context, limit int) ([]*agent.State, error) {
	f.gotLimit = limit
	return f.runs, f.err
}

func newTestRouter(t *testing.T, svc *fakeService) chi.Router {
	t.Helper()
	api := New(nil, svc)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

// completedState builds a finished run with a full answer.
func completedState(id string) *agent.State {
	st := agent.NewState(id, "why is checkout failing")
	st.Stage = agent.StageComplete
	st.Summary = "Checkout is timing out on the payments dependency."
	st.Hypotheses = []agent.Hypothesis{
		{Rank: 1, Description: "payments connection pool exhausted", Confidence: 0.8},
	}
	st.NextSteps = []string{"check payments pool size"}
	st.SynthesisConfidence = 0.8
	st.StepCount = 3
	st.ModelCalls = 2
	st.ToolCalls = 3
	return st
}

func postJSON(t *testing.T, r chi.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHandleAsk_Completed(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-1")}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/ask", `{"question":"why is checkout failing in production?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	if body["status"] != "completed" {
		t.Errorf("status = %v, want completed", body["status"])
	}
	if body["trace_id"] != "run-1" {
		t.Errorf("trace_id = %v, want run-1", body["trace_id"])
	}
	if s, _ := body["summary"].(string); s == "" {
		t.Error("expected non-empty summary")
	}
	if body["step_count"] != float64(3) || body["model_calls"] != float64(2) || body["tool_calls"] != float64(3) {
		t.Errorf("counters = %v/%v/%v, want 3/2/3",
			body["step_count"], body["model_calls"], body["tool_calls"])
	}

	if svc.gotAsk == nil {
		t.Fatal("service was not called")
	}
	if svc.gotAsk.Question != "why is checkout failing in production?" {
		t.Errorf("question = %q", svc.gotAsk.Question)
	}
}

func TestHandleAsk_Suspended(t *testing.T) {
	t.Parallel()

	st := agent.NewState("run-2", "something is broken somewhere")
	st.Stage = agent.StageClarification
	svc := &fakeService{out: &agent.Outcome{
		State: st,
		Suspension: &agent.Suspension{
			RunID:  "run-2",
			Stage:  agent.StageClarification,
			Prompt: "Which service is affected?",
		},
	}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/ask", `{"question":"something is broken somewhere"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	if body["status"] != "suspended" {
		t.Errorf("status = %v, want suspended", body["status"])
	}
	if body["stage"] != "clarification" {
		t.Errorf("stage = %v, want clarification", body["stage"])
	}
	if body["prompt"] != "Which service is affected?" {
		t.Errorf("prompt = %v", body["prompt"])
	}
	if body["trace_id"] != "run-2" {
		t.Errorf("trace_id = %v, want run-2", body["trace_id"])
	}
}

func TestHandleAsk_Escalated(t *testing.T) {
	t.Parallel()

	st := agent.NewState("run-3", "why is checkout failing")
	st.Stage = agent.StageEscalated
	st.EscalationReason = governance.ReasonToolBudgetExceeded
	st.EscalationMessage = "Maximum tool calls exceeded"
	st.ExtractedService = "checkout"
	st.IntakeConfidence = 0.85
	svc := &fakeService{out: &agent.Outcome{State: st}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/ask", `{"question":"why is checkout failing?"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	body := decodeBody(t, rec)
	if body["status"] != "escalated" {
		t.Errorf("status = %v, want escalated", body["status"])
	}
	if body["reason"] != "tool_budget_exceeded" {
		t.Errorf("reason = %v, want tool_budget_exceeded", body["reason"])
	}
	if body["message"] != "Maximum tool calls exceeded" {
		t.Errorf("message = %v", body["message"])
	}
	partial, ok := body["partial_analysis"].(map[string]any)
	if !ok {
		t.Fatalf("partial_analysis = %T, want object", body["partial_analysis"])
	}
	if partial["query"] != "why is checkout failing" {
		t.Errorf("partial query = %v", partial["query"])
	}
	if partial["extracted_service"] != "checkout" {
		t.Errorf("partial extracted_service = %v", partial["extracted_service"])
	}
	if partial["confidence"] != 0.85 {
		t.Errorf("partial confidence = %v", partial["confidence"])
	}
}

func TestHandleAsk_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{bad`},
		{"missing question", `{}`},
		{"question too short", `{"question":"short"}`},
		{"question too long", `{"question":"` + strings.Repeat("a", 2001) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{out: &agent.Outcome{State: completedState("run-x")}}
			r := newTestRouter(t, svc)

			rec := postJSON(t, r, "/api/v1/ask", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if svc.gotAsk != nil {
				t.Error("service was called despite invalid request")
			}
		})
	}
}

func TestHandleAsk_EngineError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: context.DeadlineExceeded}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/ask", `{"question":"why is checkout failing?"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := decodeBody(t, rec)
	if body["error"] != "internal error" {
		t.Errorf("error = %v, want internal error", body["error"])
	}
}

func TestHandleTriage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-4")}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/triage", `{
		"service": "checkout",
		"environment": "staging",
		"time_window": "last_1h",
		"severity": "SEV-2",
		"symptoms": "elevated 5xx",
		"alert_id": "alert-42"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if svc.gotTriage == nil {
		t.Fatal("service was not called")
	}
	in := svc.gotTriage
	if in.Service != "checkout" || in.Environment != "staging" || in.TimeWindow != "last_1h" {
		t.Errorf("input = %+v", in)
	}
	if in.Severity != "SEV-2" || in.Symptoms != "elevated 5xx" || in.AlertID != "alert-42" {
		t.Errorf("input = %+v", in)
	}
}

func TestHandleTriage_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing service", `{"severity":"SEV-2"}`},
		{"bad severity", `{"service":"checkout","severity":"critical"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{out: &agent.Outcome{State: completedState("run-x")}}
			r := newTestRouter(t, svc)

			rec := postJSON(t, r, "/api/v1/triage", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if svc.gotTriage != nil {
				t.Error("service was called despite invalid request")
			}
		})
	}
}

func TestHandleReview_ApproveWithModifications(t *testing.T) {
	t.Parallel()

	st := completedState("run-5")
	st.IncidentID = "INC-123"
	st.IncidentLink = "https://console.internal/incidents/INC-123"
	svc := &fakeService{out: &agent.Outcome{State: st}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/review", `{
		"trace_id": "run-5",
		"outcome": "approve",
		"modifications": "downgrade to SEV-3",
		"reviewer_notes": "looks right"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if svc.gotToken != "run-5" {
		t.Errorf("token = %q, want run-5", svc.gotToken)
	}
	if svc.gotReply != "approve" {
		t.Errorf("reply = %q, want approve", svc.gotReply)
	}

	body := decodeBody(t, rec)
	if body["incident_id"] != "INC-123" {
		t.Errorf("incident_id = %v, want INC-123", body["incident_id"])
	}
}

func TestHandleReview_PlainReject(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-6")}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/review", `{"trace_id":"run-6","outcome":"reject"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.gotReply != "reject" {
		t.Errorf("reply = %q, want reject", svc.gotReply)
	}
}

func TestHandleReview_UnknownToken(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: agent.ErrNotFound}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/review", `{"trace_id":"missing","outcome":"approve"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleReview_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing trace_id", `{"outcome":"approve"}`},
		{"missing outcome", `{"trace_id":"run-1"}`},
		{"bad outcome", `{"trace_id":"run-1","outcome":"maybe"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{out: &agent.Outcome{State: completedState("run-x")}}
			r := newTestRouter(t, svc)

			rec := postJSON(t, r, "/api/v1/review", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleResume(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-7")}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/runs/run-7/resume", `{"reply":"the checkout service in production"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.gotToken != "run-7" {
		t.Errorf("token = %q, want run-7", svc.gotToken)
	}
	if svc.gotReply != "the checkout service in production" {
		t.Errorf("reply = %q", svc.gotReply)
	}
}

func TestHandleResume_MissingReply(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-x")}}
	r := newTestRouter(t, svc)

	rec := postJSON(t, r, "/api/v1/runs/run-7/resume", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGetRun(t *testing.T) {
	t.Parallel()

	st := completedState("run-8")
	svc := &fakeService{getState: st, getOK: true}
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-8", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["id"] != "run-8" {
		t.Errorf("id = %v, want run-8", body["id"])
	}
	if body["stage"] != "complete" {
		t.Errorf("stage = %v, want complete", body["stage"])
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleListRuns(t *testing.T) {
	t.Parallel()

	old := completedState("run-old")
	old.StartedAt = time.Now().Add(-time.Hour)
	svc := &fakeService{runs: []*agent.State{completedState("run-new"), old}}
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", svc.gotLimit)
	}

	body := decodeBody(t, rec)
	runs, ok := body["runs"].([]any)
	if !ok || len(runs) != 2 {
		t.Fatalf("runs = %v, want 2 entries", body["runs"])
	}
	first := runs[0].(map[string]any)
	if first["trace_id"] != "run-new" {
		t.Errorf("first trace_id = %v, want run-new", first["trace_id"])
	}
}

func TestHandleListRuns_LimitHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{"default", "", http.StatusOK, 20},
		{"explicit", "?limit=50", http.StatusOK, 50},
		{"clamped", "?limit=5000", http.StatusOK, 100},
		{"zero", "?limit=0", http.StatusBadRequest, 0},
		{"negative", "?limit=-3", http.StatusBadRequest, 0},
		{"garbage", "?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{}
			r := newTestRouter(t, svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs"+tt.query, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && svc.gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", svc.gotLimit, tt.wantLimit)
			}
		})
	}
}

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	svc := &fakeService{out: &agent.Outcome{State: completedState("run-x")}, getOK: true, getState: completedState("run-x")}
	r := newTestRouter(t, svc)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/v1/ask", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/triage", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/v1/review", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/runs/abc", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v2/ask", http.StatusNotFound},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func FuzzHandleAsk(f *testing.F) {
	svc := &fakeService{out: &agent.Outcome{State: completedState("run-fuzz")}}
	api := New(nil, svc)
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	seeds := []string{
		"",
		"{}",
		`{"question":"why is checkout failing in production?"}`,
		`{"question":123}`,
		"{invalid json",
		"\x00\x01\xff",
		strings.Repeat("a", 10000),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, body string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK && rec.Code != http.StatusBadRequest {
			t.Errorf("POST /api/v1/ask with body len=%d = %d, want 200 or 400", len(body), rec.Code)
		}
	})
}
