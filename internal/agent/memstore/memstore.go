// Package memstore provides in-memory implementations of agent.RunStore
// and agent.CheckpointStore.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/agent"
)

// Store holds workflow runs in memory. Suitable for dev/testing.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*agent.State // run ID -> state
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		runs: make(map[string]*agent.State),
	}
}

// Get retrieves a run by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*agent.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

// Put stores a copy of the run state.
func (s *Store) Put(_ context.Context, st *agent.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[st.ID] = st.Clone()
	return nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) List(_ context.Context, limit int) ([]*agent.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agent.State, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, st.Clone())
	}
	slices.SortFunc(out, func(a, b *agent.State) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Checkpoints holds suspended runs in memory. Entries older than the TTL
// are dropped lazily on Get; a zero TTL means entries never expire.
type Checkpoints struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]checkpointEntry // run ID -> checkpoint
}

type checkpointEntry struct {
	cp        *agent.Checkpoint
	expiresAt time.Time
}

// NewCheckpoints initializes an in-memory checkpoint store.
func NewCheckpoints(ttl time.Duration) *Checkpoints {
	return &Checkpoints{
		ttl:     ttl,
		entries: make(map[string]checkpointEntry),
	}
}

// Get retrieves a checkpoint by run ID. Returns a copy. Expired entries are
// deleted and reported as not found.
func (c *Checkpoints) Get(_ context.Context, id string) (*agent.Checkpoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, id)
		return nil, false, nil
	}
	return copyCheckpoint(e.cp), true, nil
}

// Put stores a copy of the checkpoint, replacing any existing entry for the
// same run.
func (c *Checkpoints) Put(_ context.Context, cp *agent.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := checkpointEntry{cp: copyCheckpoint(cp)}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[cp.RunID] = e
	return nil
}

// Delete removes a checkpoint. Deleting a missing entry is not an error.
func (c *Checkpoints) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func copyCheckpoint(cp *agent.Checkpoint) *agent.Checkpoint {
	out := *cp
	out.State = cp.State.Clone()
	return &out
}
