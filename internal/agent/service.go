package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// Notifier publishes run lifecycle events to an external channel. A nil
// Notifier disables notifications.
type Notifier interface {
	// NotifySuspended is called when a run pauses for human input; prompt
	// is the text the human should see.
	NotifySuspended(ctx context.Context, st *State, prompt string) error

	// NotifyFinished is called when a run reaches a terminal stage.
	NotifyFinished(ctx context.Context, st *State) error
}

// AskInput is a free-form triage question.
type AskInput struct {
	Question    string
	Service     string
	Environment string
	TimeWindow  string
}

// TriageInput is a structured triage request.
type TriageInput struct {
	Service     string
	Environment string
	TimeWindow  string
	Severity    string
	Symptoms    string
	AlertID     string
}

// ServiceConfig wires the service's collaborators. Engine, Runs, and
// Checkpoints are required.
type ServiceConfig struct {
	Engine      *Engine
	Runs        RunStore
	Checkpoints CheckpointStore
	Notifier    Notifier
	Metrics     *Metrics

	// AutoApprove resolves approval suspensions immediately with an
	// approve reply. Intended for dev environments only.
	AutoApprove bool

	Logger log.Logger
}

// Service is the business boundary for workflow runs. It owns run ids,
// persistence, checkpointing across suspensions, and notifications.
type Service struct {
	engine      *Engine
	runs        RunStore
	checkpoints CheckpointStore
	notifier    Notifier
	metrics     *Metrics
	autoApprove bool
	logger      log.Logger
}

// NewService creates a new workflow service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Engine == nil {
		panic(xerrors.New("agent: engine is required"))
	}
	if cfg.Runs == nil {
		panic(xerrors.New("agent: run store is required"))
	}
	if cfg.Checkpoints == nil {
		panic(xerrors.New("agent: checkpoint store is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Service{
		engine:      cfg.Engine,
		runs:        cfg.Runs,
		checkpoints: cfg.Checkpoints,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		autoApprove: cfg.AutoApprove,
		logger:      cfg.Logger,
	}
}

// Ask runs a free-form triage question to completion or suspension.
func (s *Service) Ask(ctx context.Context, in AskInput) (*Outcome, error) {
	st := NewState(ulid.Make().String(), in.Question)
	if in.Service != "" {
		st.Service = in.Service
	}
	if in.Environment != "" {
		st.Environment = in.Environment
	}
	if in.TimeWindow != "" {
		st.TimeWindow = in.TimeWindow
	}

	s.logger.Info(ctx, "ask received", "run_id", st.ID, "service", st.Service)
	out, err := s.engine.Run(ctx, st)
	return s.settle(ctx, "ask", st, out, err)
}

// Triage runs a structured triage request. High severities force the
// approval gate even for read-only intents.
func (s *Service) Triage(ctx context.Context, in TriageInput) (*Outcome, error) {
	parts := []string{fmt.Sprintf("Triage %s in %s", in.Service, orDefault(in.Environment, "production"))}
	if in.Symptoms != "" {
		parts = append(parts, "Symptoms: "+in.Symptoms)
	}
	if in.Severity != "" {
		parts = append(parts, "Severity: "+in.Severity)
	}
	if in.AlertID != "" {
		parts = append(parts, "Alert ID: "+in.AlertID)
	}

	st := NewState(ulid.Make().String(), strings.Join(parts, ". "))
	st.Service = in.Service
	st.Severity = in.Severity
	if in.Environment != "" {
		st.Environment = in.Environment
	}
	if in.TimeWindow != "" {
		st.TimeWindow = in.TimeWindow
	}
	if in.Severity == "SEV-1" || in.Severity == "SEV-2" {
		st.ForceApproval = true
	}

	s.logger.Info(ctx, "triage received",
		"run_id", st.ID,
		"service", in.Service,
		"severity", in.Severity,
	)
	out, err := s.engine.Run(ctx, st)
	return s.settle(ctx, "triage", st, out, err)
}

// Resume continues a suspended run with the human's reply. The token is the
// run id returned in the suspension.
func (s *Service) Resume(ctx context.Context, token, reply string) (*Outcome, error) {
	cp, ok, err := s.checkpoints.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	// Delete first: a re-suspension below writes a fresh checkpoint under
	// the same id.
	if err := s.checkpoints.Delete(ctx, token); err != nil {
		s.logger.Error(ctx, err, "checkpoint delete failed", "run_id", token)
	}

	st := cp.State
	out, rerr := s.engine.Resume(ctx, st, reply)
	return s.settle(ctx, "resume", st, out, rerr)
}

// Get returns a run's latest state. Suspended runs are visible through
// their checkpoint before they reach the run store's terminal record.
func (s *Service) Get(ctx context.Context, id string) (*State, bool, error) {
	st, ok, err := s.runs.Get(ctx, id)
	if err != nil || ok {
		return st, ok, err
	}
	cp, ok, err := s.checkpoints.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return cp.State, true, nil
}

// List returns the most recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*State, error) {
	return s.runs.List(ctx, limit)
}

// settle persists the outcome of one engine drive and handles suspension
// bookkeeping, auto-approval, and notifications.
func (s *Service) settle(ctx context.Context, op string, st *State, out *Outcome, err error) (*Outcome, error) {
	if err != nil {
		st.Error = err.Error()
		if perr := s.runs.Put(ctx, st); perr != nil {
			s.logger.Error(ctx, perr, "run store put failed", "run_id", st.ID)
		}
		s.count(op, "error")
		return nil, err
	}

	st = out.State

	if out.Suspended() {
		if s.autoApprove && out.Suspension.Stage == StageApproval {
			s.logger.Info(ctx, "auto-approving", "run_id", st.ID)
			out2, err2 := s.engine.Resume(ctx, st, "approve")
			return s.settle(ctx, op, st, out2, err2)
		}

		cp := &Checkpoint{
			RunID:     st.ID,
			Stage:     out.Suspension.Stage,
			Prompt:    out.Suspension.Prompt,
			State:     st,
			CreatedAt: time.Now().UTC(),
		}
		if cerr := s.checkpoints.Put(ctx, cp); cerr != nil {
			return nil, fmt.Errorf("persist checkpoint: %w", cerr)
		}
		if perr := s.runs.Put(ctx, st); perr != nil {
			s.logger.Error(ctx, perr, "run store put failed", "run_id", st.ID)
		}
		s.count(op, "suspended")
		s.notifySuspended(ctx, st, out.Suspension.Prompt)
		return out, nil
	}

	if perr := s.runs.Put(ctx, st); perr != nil {
		s.logger.Error(ctx, perr, "run store put failed", "run_id", st.ID)
	}
	s.count(op, string(st.Stage))
	s.notifyFinished(ctx, st)
	return out, nil
}

func (s *Service) count(op, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(op, status).Inc()
}

func (s *Service) notifySuspended(ctx context.Context, st *State, prompt string) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.notifier.NotifySuspended(ctx, st, prompt); err != nil {
			s.logger.Error(ctx, err, "suspension notify failed", "run_id", st.ID)
		}
	}()
}

func (s *Service) notifyFinished(ctx context.Context, st *State) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.notifier.NotifyFinished(ctx, st); err != nil {
			s.logger.Error(ctx, err, "finish notify failed", "run_id", st.ID)
		}
	}()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
