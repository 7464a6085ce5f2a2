package chatgraph

import (
	"context"
	"errors"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
)

// Phase is the lifecycle position of a thread.
type Phase int

// Thread phases.
//
//	Ready -> Running -> (Suspended <-> Running) -> Terminal
//	                 \-> Failed
const (
	// PhaseReady: no step has run yet.
	PhaseReady Phase = iota
	// PhaseRunning: a step is executing.
	PhaseRunning
	// PhaseSuspended: the last step finished and routed to another node,
	// so the turn can be continued with Resume.
	PhaseSuspended
	// PhaseTerminal: the last turn reached END.
	PhaseTerminal
	// PhaseFailed: the last step was saved but its successor was never
	// recorded, after a routing error or an interrupted run. Resume runs
	// the router again.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseSuspended:
		return "suspended"
	case PhaseTerminal:
		return "terminal"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// phaseOf derives the resting phase of a thread from its latest checkpoint.
func phaseOf(cp *checkpoint.Checkpoint) Phase {
	switch {
	case cp == nil:
		return PhaseReady
	case cp.NextNode == END:
		return PhaseTerminal
	case cp.NextNode == "":
		return PhaseFailed
	default:
		return PhaseSuspended
	}
}

// ThreadPhase reports the resting phase of a thread from its latest
// checkpoint. A thread without checkpoints is PhaseReady.
func (cg *CompiledGraph) ThreadPhase(ctx context.Context, threadID string) (Phase, error) {
	if cg.checkpointer == nil {
		return PhaseReady, ErrNoCheckpointer
	}
	cp, err := cg.checkpointer.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return PhaseReady, nil
	}
	if err != nil {
		return PhaseReady, &CheckpointError{ThreadID: threadID, Op: "load", Err: err}
	}
	return phaseOf(cp), nil
}
