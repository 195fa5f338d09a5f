package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/governance"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/agent")

const (
	// ResponseTokens caps the completion size of a single model call.
	ResponseTokens = 4096

	// DefaultConfidenceThreshold gates progression past intake and synthesis.
	DefaultConfidenceThreshold = 0.7

	// DefaultMaxClarifications caps clarification round-trips per run.
	// A run makes at most DefaultMaxClarifications+1 intake passes.
	DefaultMaxClarifications = 2

	// collectBudgetBuffer is the step headroom required after evidence
	// collection so synthesis and writeback can still run.
	collectBudgetBuffer = 2
)

// EngineHooks receives engine lifecycle events. All fields are optional;
// the zero value is valid.
type EngineHooks struct {
	OnLLMCall  func(inputTokens, outputTokens int, duration float64)
	OnToolCall func(name string, duration float64, inputBytes, outputBytes int, isError bool)
	OnStage    func(from, to Stage)
	OnSuspend  func(stage Stage)
	OnResume   func(stage Stage)
	OnQuality  func(metric string, score float64)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run for metric hooks.
type CompleteEvent struct {
	Stage      Stage
	Reason     governance.Reason
	Duration   float64
	Steps      int
	ModelCalls int
	ToolCalls  int
	Confidence float64
}

// Suspension reports that a run paused for human input. The run id doubles
// as the resumption token.
type Suspension struct {
	RunID  string
	Stage  Stage
	Prompt string
}

// Outcome is the result of driving a run until it suspends or terminates.
type Outcome struct {
	State      *State
	Suspension *Suspension
}

// Suspended reports whether the run paused rather than finished.
func (o *Outcome) Suspended() bool {
	return o.Suspension != nil
}

// EngineConfig wires the engine's collaborators and tunables. Provider and
// Toolset are required; zero-valued tunables select the defaults, and nil
// governance components are constructed with GovernanceHooks and Logger.
type EngineConfig struct {
	Provider  Provider
	Toolset   Toolset
	Evaluator Evaluator

	Limits              governance.Limits
	ConfidenceThreshold float64
	MaxClarifications   int
	ConsoleBaseURL      string

	Security  *governance.SecurityValidator
	Escalator *governance.EscalationHandler
	Gate      *governance.ApprovalGate

	GovernanceHooks governance.Hooks
	Hooks           EngineHooks
	Logger          log.Logger
}

// Engine executes the triage workflow as an explicit state machine. It is
// stateless across runs and safe for concurrent use; all per-run data lives
// on the State it is handed.
type Engine struct {
	provider  Provider
	toolset   Toolset
	evaluator Evaluator

	limits              governance.Limits
	confidenceThreshold float64
	maxClarifications   int
	consoleBaseURL      string

	security  *governance.SecurityValidator
	escalator *governance.EscalationHandler
	gate      *governance.ApprovalGate

	govHooks governance.Hooks
	hooks    EngineHooks
	logger   log.Logger
}

// NewEngine creates a workflow engine from the given config.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Provider == nil {
		panic(xerrors.New("agent: provider is required"))
	}
	if cfg.Toolset == nil {
		panic(xerrors.New("agent: toolset is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Limits == (governance.Limits{}) {
		cfg.Limits = governance.DefaultLimits()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.MaxClarifications <= 0 {
		cfg.MaxClarifications = DefaultMaxClarifications
	}
	if cfg.Security == nil {
		cfg.Security = governance.NewSecurityValidator(governance.SecurityConfig{}, cfg.GovernanceHooks, cfg.Logger)
	}
	if cfg.Escalator == nil {
		cfg.Escalator = governance.NewEscalationHandler(cfg.GovernanceHooks, cfg.Logger)
	}
	if cfg.Gate == nil {
		cfg.Gate = governance.NewApprovalGate(cfg.GovernanceHooks, cfg.Logger)
	}

	return &Engine{
		provider:            cfg.Provider,
		toolset:             cfg.Toolset,
		evaluator:           cfg.Evaluator,
		limits:              cfg.Limits,
		confidenceThreshold: cfg.ConfidenceThreshold,
		maxClarifications:   cfg.MaxClarifications,
		consoleBaseURL:      cfg.ConsoleBaseURL,
		security:            cfg.Security,
		escalator:           cfg.Escalator,
		gate:                cfg.Gate,
		govHooks:            cfg.GovernanceHooks,
		hooks:               cfg.Hooks,
		logger:              cfg.Logger,
	}
}

// Run drives a fresh state until it terminates or suspends for human input.
func (e *Engine) Run(ctx context.Context, st *State) (*Outcome, error) {
	e.logger.Info(ctx, "workflow starting",
		"run_id", st.ID,
		"query", e.security.Sanitize(st.Query, 100),
		"service", st.Service,
	)
	return e.drive(ctx, st)
}

// Resume continues a suspended run with the human's reply, re-entering the
// state machine at the stage that suspended.
func (e *Engine) Resume(ctx context.Context, st *State, reply string) (*Outcome, error) {
	stage := st.Stage
	switch stage {
	case StageClarification:
		st.Query = st.Query + "\n\nClarification: " + reply
		st.ClarificationAttempts++
		tr := e.tracker(st)
		tr.RecordStep()
		syncBudget(st, tr)
		st.AddMessage("Clarification received: " + reply)
		st.Stage = StageIntake

	case StageApproval:
		if st.Proposed == nil {
			return nil, xerrors.New("agent: approval resume without proposed action")
		}
		decision := e.gate.Resolve(ctx, *st.Proposed, reply, st.ApprovalRequestedAt)
		st.ApprovalStatus = decision.Status
		st.ApprovalDecision = reply
		tr := e.tracker(st)
		tr.RecordStep()
		syncBudget(st, tr)
		st.AddMessage("Approval decision: " + reply)
		if decision.Status == governance.ApprovalApproved {
			st.Stage = StageWriteback
		} else {
			st.Stage = StageComplete
		}

	default:
		return nil, fmt.Errorf("agent: run %s is not awaiting input (stage %q)", st.ID, st.Stage)
	}

	if e.hooks.OnResume != nil {
		e.hooks.OnResume(stage)
	}
	e.logger.Info(ctx, "workflow resumed", "run_id", st.ID, "stage", string(stage))

	return e.drive(ctx, st)
}

// drive executes stages until the run suspends or reaches a terminal stage.
func (e *Engine) drive(ctx context.Context, st *State) (*Outcome, error) {
	for {
		switch st.Stage {
		case StageClarification:
			return e.suspend(ctx, st, clarificationPrompt), nil
		case StageApproval:
			if st.Proposed == nil {
				st.Proposed = buildProposedAction(st)
				st.ApprovalStatus = governance.ApprovalPending
				st.ApprovalRequestedAt = e.gate.Request(ctx, *st.Proposed)
			}
			return e.suspend(ctx, st, e.gate.FormatRequest(*st.Proposed)), nil
		case StageComplete, StageEscalated:
			e.finish(ctx, st)
			return &Outcome{State: st}, nil
		}

		from := st.Stage
		var err error
		switch st.Stage {
		case StageIntake:
			err = e.intake(ctx, st)
		case StageCollect:
			err = e.collect(ctx, st)
		case StageSynthesis:
			err = e.synthesize(ctx, st)
		case StageWriteback:
			err = e.writeback(ctx, st)
		default:
			return nil, fmt.Errorf("agent: run %s in unknown stage %q", st.ID, st.Stage)
		}
		if err != nil {
			return nil, err
		}
		if e.hooks.OnStage != nil {
			e.hooks.OnStage(from, st.Stage)
		}
	}
}

func (e *Engine) suspend(ctx context.Context, st *State, prompt string) *Outcome {
	if e.hooks.OnSuspend != nil {
		e.hooks.OnSuspend(st.Stage)
	}
	e.logger.Info(ctx, "workflow suspended",
		"run_id", st.ID,
		"stage", string(st.Stage),
		"step_count", st.StepCount,
	)
	return &Outcome{
		State: st,
		Suspension: &Suspension{
			RunID:  st.ID,
			Stage:  st.Stage,
			Prompt: prompt,
		},
	}
}

func (e *Engine) finish(ctx context.Context, st *State) {
	st.CompletedAt = time.Now().UTC()

	if st.Stage == StageComplete {
		if st.IncidentID != "" {
			st.IncidentLink = e.consoleLink("incidents", st.IncidentID)
		}
		if st.CaseID != "" {
			st.CaseLink = e.consoleLink("cases", st.CaseID)
		}
		st.AddMessage("Workflow completed")
	}

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Stage:      st.Stage,
			Reason:     st.EscalationReason,
			Duration:   st.CompletedAt.Sub(st.StartedAt).Seconds(),
			Steps:      st.StepCount,
			ModelCalls: st.ModelCalls,
			ToolCalls:  st.ToolCalls,
			Confidence: st.SynthesisConfidence,
		})
	}

	e.logger.Info(ctx, "workflow finished",
		"run_id", st.ID,
		"stage", string(st.Stage),
		"step_count", st.StepCount,
		"model_calls", st.ModelCalls,
		"tool_calls", st.ToolCalls,
		"escalation_reason", string(st.EscalationReason),
	)
}

func (e *Engine) consoleLink(kind, id string) string {
	base := e.consoleBaseURL
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", base, kind, id)
}

// tracker rebuilds the run's budget tracker from the persisted counters, so
// budgets survive suspension and resume.
func (e *Engine) tracker(st *State) *governance.BudgetTracker {
	return governance.ResumeBudgetTracker(e.limits, e.govHooks, st.StepCount, st.ModelCalls, st.ToolCalls)
}

// syncBudget copies the tracker's counters back onto the state.
func syncBudget(st *State, tr *governance.BudgetTracker) {
	snap := tr.Snapshot()
	st.StepCount = snap.Steps
	st.ModelCalls = snap.ModelCalls
	st.ToolCalls = snap.ToolCalls
}

// generate makes one traced LLM call.
func (e *Engine) generate(ctx context.Context, st *State, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("warden.run.id", st.ID),
		attribute.String("warden.run.stage", string(st.Stage)),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Int("llm.request.prompt_bytes", len(req.Prompt)),
	))

	start := time.Now()
	resp, err := e.provider.Generate(ctx, req)
	duration := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		e.logger.Error(ctx, err, "llm call failed", "run_id", st.ID, "stage", string(st.Stage))
		return nil, err
	}

	span.SetAttributes(attribute.String("gen_ai.response.model", resp.Model))
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.String("llm.response.stop_reason", string(resp.StopReason)),
	))

	e.logger.Info(ctx, "llm response",
		"run_id", st.ID,
		"stage", string(st.Stage),
		"stop_reason", string(resp.StopReason),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, duration)
	}
	return resp, nil
}

// observeTool wraps one evidence tool call with a span and metrics hook.
func (e *Engine) observeTool(ctx context.Context, st *State, name, input string, call func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", name),
		attribute.String("warden.run.id", st.ID),
		attribute.String("warden.tool.input", input),
	))
	defer span.End()

	start := time.Now()
	out, err := call(ctx)
	duration := time.Since(start).Seconds()

	span.SetAttributes(attribute.Bool("warden.tool.is_error", err != nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		e.logger.Warn(ctx, "tool call failed", "run_id", st.ID, "tool", name, "error", err)
	}

	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(name, duration, len(input), len(out), err != nil)
	}
	return out, err
}

// observeWrite wraps one writeback tool call with a span and metrics hook.
func (e *Engine) observeWrite(ctx context.Context, st *State, name, input string, call func(context.Context) (string, error)) (string, error) {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", name),
		attribute.String("warden.run.id", st.ID),
		attribute.String("warden.tool.input", input),
	))
	defer span.End()

	start := time.Now()
	id, err := call(ctx)
	duration := time.Since(start).Seconds()

	span.SetAttributes(attribute.Bool("warden.tool.is_error", err != nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
	} else {
		span.SetAttributes(attribute.String("warden.tool.created_id", id))
	}

	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(name, duration, len(input), len(id), err != nil)
	}
	return id, err
}
