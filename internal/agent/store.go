package agent

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrNotFound is returned by Service operations when no run or checkpoint
// matches the given id.
var ErrNotFound = xerrors.New("agent: run not found")

// RunStore is the persistence interface for workflow run state.
type RunStore interface {
	Get(ctx context.Context, id string) (*State, bool, error)
	Put(ctx context.Context, st *State) error
	List(ctx context.Context, limit int) ([]*State, error)
}

// CheckpointStore holds suspended runs awaiting human input, keyed by run
// id. Implementations may expire entries; an expired checkpoint simply
// reports not found on Get.
type CheckpointStore interface {
	Get(ctx context.Context, id string) (*Checkpoint, bool, error)
	Put(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, id string) error
}

// Checkpoint is a suspended run plus the prompt shown to the human. The run
// id doubles as the resumption token handed back to the caller.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Prompt    string    `json:"prompt"`
	State     *State    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
