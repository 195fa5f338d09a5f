// Package redisstore provides a Redis implementation of agent.CheckpointStore.
//
// Suspended runs survive process restarts and expire server-side via TTL,
// so abandoned clarifications and approvals clean themselves up.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/agent"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/agent/redisstore")

const keyPrefix = "warden:checkpoint:"

// Store persists checkpoints in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a Store backed by the given client. The caller retains
// ownership of the client. A zero ttl means entries never expire.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get retrieves a checkpoint by run ID. Expired entries report not found.
func (s *Store) Get(ctx context.Context, id string) (*agent.Checkpoint, bool, error) {
	ctx, span := tracer.Start(ctx, "redisstore.Get", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", "GET"),
	))
	defer span.End()

	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp agent.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, true, nil
}

// Put stores a checkpoint, replacing any existing entry for the same run
// and resetting its TTL.
func (s *Store) Put(ctx context.Context, cp *agent.Checkpoint) error {
	ctx, span := tracer.Start(ctx, "redisstore.Put", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", "SET"),
	))
	defer span.End()

	data, err := json.Marshal(cp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+cp.RunID, data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// Delete removes a checkpoint. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redisstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", "DEL"),
	))
	defer span.End()

	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
