// Package pgstore provides a PostgreSQL implementation of agent.RunStore.
//
// Hot fields are mirrored into real columns so operators can filter runs
// with plain SQL; the state JSONB column is the source of truth and
// round-trips the full run.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/agent"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/agent/pgstore")

//go:embed schema.sql
var schema string

// Store persists workflow runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a Store backed by the given pool.
// The caller retains ownership of the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*agent.State, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT state FROM workflow_runs WHERE id = $1`, id)
	st, err := scanState(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if st == nil {
		return nil, false, nil
	}
	return st, true, nil
}

// Put inserts or updates a run (upsert on id).
func (s *Store) Put(ctx context.Context, st *agent.State) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	stateJSON, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal state: %w", err)
	}

	var completedAt *time.Time
	if !st.CompletedAt.IsZero() {
		completedAt = &st.CompletedAt
	}

	query := `INSERT INTO workflow_runs (
		id, stage, service, environment, severity, intent,
		step_count, model_calls, tool_calls, confidence, escalation_reason,
		started_at, completed_at, state
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (id) DO UPDATE SET
		stage             = EXCLUDED.stage,
		service           = EXCLUDED.service,
		environment       = EXCLUDED.environment,
		severity          = EXCLUDED.severity,
		intent            = EXCLUDED.intent,
		step_count        = EXCLUDED.step_count,
		model_calls       = EXCLUDED.model_calls,
		tool_calls        = EXCLUDED.tool_calls,
		confidence        = EXCLUDED.confidence,
		escalation_reason = EXCLUDED.escalation_reason,
		completed_at      = EXCLUDED.completed_at,
		state             = EXCLUDED.state`

	_, err = s.pool.Exec(ctx, query,
		st.ID, string(st.Stage), st.TargetService(), st.Environment, st.Severity, string(st.Intent),
		st.StepCount, st.ModelCalls, st.ToolCalls, st.SynthesisConfidence, string(st.EscalationReason),
		st.StartedAt, completedAt, stateJSON,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*agent.State, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	// LIMIT NULL means no limit in PostgreSQL.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT state FROM workflow_runs ORDER BY started_at DESC LIMIT $1`, lim)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*agent.State
	for rows.Next() {
		var stateJSON []byte
		if err := rows.Scan(&stateJSON); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var st agent.State
		if err := json.Unmarshal(stateJSON, &st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// scanState scans a single state row. Returns (nil, nil) when no row is found.
func scanState(row pgx.Row) (*agent.State, error) {
	var stateJSON []byte
	if err := row.Scan(&stateJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	var st agent.State
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}
