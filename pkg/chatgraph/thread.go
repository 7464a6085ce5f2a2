package chatgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
)

// State returns the latest saved state of a thread.
// Returns ErrNoCheckpoints for a thread that was never saved.
func (cg *CompiledGraph) State(ctx context.Context, threadID string) (State, error) {
	cp, err := cg.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
	}
	state, err := cg.schema.Decode(cp.State)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: cp.Step, Op: "decode", Err: err}
	}
	return state, nil
}

// UpdateState merges update into the latest saved state of a thread, as if
// a step had produced it, and saves the result as a new checkpoint.
// A thread without checkpoints starts from an empty state. The thread's
// routing position is kept, so a suspended thread stays resumable.
//
// Returns the merged state.
//
// Example:
//
//	// Seed a system prompt for a new conversation
//	if _, err := compiled.State(ctx, id); errors.Is(err, chatgraph.ErrNoCheckpoints) {
//	    compiled.UpdateState(ctx, id, chatgraph.Update{
//	        agent.Messages.Set([]llm.Message{llm.System(prompt)}),
//	    })
//	}
func (cg *CompiledGraph) UpdateState(ctx context.Context, threadID string, update Update) (State, error) {
	cp, err := cg.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	current := State{}
	step := 1
	next := END
	if cp != nil {
		current, err = cg.schema.Decode(cp.State)
		if err != nil {
			return nil, &CheckpointError{ThreadID: threadID, Step: cp.Step, Op: "decode", Err: err}
		}
		step = cp.Step + 1
		next = cp.NextNode
	}

	merged, err := cg.schema.Merge(current, update)
	if err != nil {
		return nil, err
	}

	data, err := cg.schema.Encode(merged)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: step, Op: "encode", Err: err}
	}
	if err := cg.checkpointer.Save(ctx, checkpoint.New(threadID, step, "", data, next)); err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: step, Op: "save", Err: err}
	}
	return merged, nil
}

// History lists the checkpoints of a thread, oldest first.
func (cg *CompiledGraph) History(ctx context.Context, threadID string) ([]checkpoint.Info, error) {
	if cg.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	infos, err := cg.checkpointer.List(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Op: "list", Err: err}
	}
	return infos, nil
}

// latest loads the thread's latest checkpoint, or nil when it has none.
func (cg *CompiledGraph) latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if cg.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	cp, err := cg.checkpointer.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Op: "load", Err: err}
	}
	return cp, nil
}
