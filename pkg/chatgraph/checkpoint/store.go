// Package checkpoint provides per-thread checkpoint storage for multi-turn
// conversations.
//
// A thread is an ordered sequence of checkpoints with strictly increasing
// step indices. Stores reject a save whose step does not exceed the latest
// saved step of the thread, so a stale writer can never overwrite newer
// progress.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists thread checkpoints.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save appends a checkpoint to its thread.
	// Returns ErrStaleStep if cp.Step is not greater than the thread's latest step.
	Save(ctx context.Context, cp *Checkpoint) error

	// SetNextNode records where the thread routes after the checkpoint
	// saved at step. Only NextNode changes; the saved state is untouched.
	// Returns ErrNotFound if no checkpoint exists at that step.
	SetNextNode(ctx context.Context, threadID string, step int, next string) error

	// Latest retrieves the most recent checkpoint of a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Get retrieves the checkpoint saved at a specific step.
	// Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, threadID string, step int) (*Checkpoint, error)

	// List returns metadata for all checkpoints of a thread, ordered by step.
	// Returns empty slice (not error) if the thread has no checkpoints.
	List(ctx context.Context, threadID string) ([]Info, error)

	// DeleteThread removes all checkpoints for a thread.
	// Returns nil if the thread has no checkpoints.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without decoding the full state.
type Info struct {
	ThreadID  string
	Step      int
	NodeID    string
	NextNode  string
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStaleStep indicates a save did not advance the thread's step.
	ErrStaleStep = errors.New("checkpoint step is not newer than latest")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrVersionMismatch indicates the checkpoint format is incompatible.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrThreadIDRequired indicates a checkpoint without a thread ID.
	ErrThreadIDRequired = errors.New("checkpoint thread ID required")
)

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
)
