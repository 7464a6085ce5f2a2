package chatgraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
)

// Invoke runs one turn of the graph and returns the final state.
//
// With a checkpointer attached, the thread's latest checkpoint seeds the
// state, input is merged on top of it with the normal reducer rules, and a
// checkpoint is saved after every step. Without one, the run starts from
// input alone.
//
// Execution flow per step:
//  1. Check the step limit and cancellation
//  2. Execute the current node
//  3. Merge its update into the state
//  4. Save a checkpoint (if configured)
//  5. Route to the next node and record it on the checkpoint; stop at END
//
// On error, the returned state is the last successfully merged state
// (useful for debugging); the last saved checkpoint is left intact.
//
// Example:
//
//	final, err := compiled.Invoke(ctx,
//	    chatgraph.Update{agent.Messages.Set([]llm.Message{llm.User("hi")})},
//	    chatgraph.WithThreadID("thread-1"))
func (cg *CompiledGraph) Invoke(ctx context.Context, input Update, opts ...RunOption) (State, error) {
	return cg.execute(ctx, input, false, newRunConfig(opts), nil)
}

// Resume continues a suspended thread from the node its latest checkpoint
// routed to, without new input. A thread whose last turn reached END is
// returned unchanged. When the latest checkpoint was saved but its router
// never completed, the router is run again on the saved state.
//
// Returns ErrNoCheckpointer without a checkpointer and ErrNoCheckpoints for
// a thread that was never saved.
func (cg *CompiledGraph) Resume(ctx context.Context, threadID string, opts ...RunOption) (State, error) {
	cfg := newRunConfig(opts)
	cfg.threadID = threadID
	return cg.execute(ctx, nil, true, cfg, nil)
}

// execute runs the graph with full observability.
// sink is nil for Invoke and Resume.
func (cg *CompiledGraph) execute(ctx context.Context, input Update, resume bool, cfg runConfig, sink *eventSink) (result State, runErr error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cg.checkpointer != nil && cfg.threadID == "" {
		return nil, ErrThreadIDRequired
	}

	runID := uuid.NewString()
	logger := observability.EnrichLogger(cfg.logger, cfg.threadID, runID)

	sp, err := cg.prepare(ctx, input, resume, cfg.threadID)
	if err != nil {
		observability.LogRunError(logger, err, 0, "")
		return nil, err
	}
	if sp.node == END {
		return sp.state, nil
	}

	startTime := time.Now()
	observability.LogRunStart(logger, sp.node, sp.step)

	execCtx, runSpan := cfg.spans.StartRunSpan(ctx, cg.name, cfg.threadID, runID)
	defer func() {
		cfg.spans.EndSpanWithError(runSpan, runErr)
	}()

	base := &executionContext{
		Context:  execCtx,
		logger:   logger,
		threadID: cfg.threadID,
		runID:    runID,
	}
	if sink.wants(ModeMessages) {
		base.chunks = sink.chunkHandler()
	}

	r := &runner{cg: cg, cfg: &cfg, base: base, sink: sink, phase: PhaseReady}

	var steps int
	var lastNode string
	current := sp.node
	if sp.reroute != "" {
		current, runErr = r.reroute(execCtx, sp.reroute, sp.state, sp.step-1)
	}
	if runErr != nil {
		result, lastNode = sp.state, sp.reroute
	} else {
		result, steps, lastNode, runErr = r.loop(execCtx, sp.state, current, sp.step)
	}

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())
	cfg.metrics.RecordRun(ctx, runErr == nil, duration, steps)

	if runErr != nil {
		observability.LogRunError(logger, runErr, durationMs, lastNode)
	} else {
		observability.LogRunComplete(logger, durationMs, steps)
	}

	return result, runErr
}

// startPoint is where a run begins.
type startPoint struct {
	state State
	node  string
	step  int
	// reroute names the checkpointed node whose successor was never
	// recorded; the run starts by routing from it.
	reroute string
}

// prepare loads the starting state, node, and step index for a run.
func (cg *CompiledGraph) prepare(ctx context.Context, input Update, resume bool, threadID string) (startPoint, error) {
	if cg.checkpointer == nil {
		if resume {
			return startPoint{}, ErrNoCheckpointer
		}
		state, err := cg.schema.Merge(State{}, input)
		return startPoint{state: state, node: cg.entryPoint, step: 1}, err
	}

	cp, err := cg.checkpointer.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		if resume {
			return startPoint{}, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
		}
		state, err := cg.schema.Merge(State{}, input)
		return startPoint{state: state, node: cg.entryPoint, step: 1}, err
	}
	if err != nil {
		return startPoint{}, &CheckpointError{ThreadID: threadID, Op: "load", Err: err}
	}

	saved, err := cg.schema.Decode(cp.State)
	if err != nil {
		return startPoint{}, &CheckpointError{ThreadID: threadID, Step: cp.Step, Op: "decode", Err: err}
	}

	state, err := cg.schema.Merge(saved, input)
	if err != nil {
		return startPoint{}, err
	}

	sp := startPoint{state: state, node: cg.entryPoint, step: cp.Step + 1}
	if !resume {
		return sp, nil
	}

	switch {
	case cp.NextNode == END || cg.HasNode(cp.NextNode):
		sp.node = cp.NextNode
	case cp.NextNode == "" && cg.HasNode(cp.NodeID):
		sp.node = ""
		sp.reroute = cp.NodeID
	default:
		return startPoint{}, fmt.Errorf("%w: %q", ErrInvalidResumeNode, cp.NextNode)
	}
	return sp, nil
}

// runner holds the per-run execution state.
type runner struct {
	cg    *CompiledGraph
	cfg   *runConfig
	base  *executionContext
	sink  *eventSink
	phase Phase
}

// loop executes steps until END or an error.
// Returns the final state, the number of executed steps, and the last node.
func (r *runner) loop(ctx context.Context, state State, current string, step int) (State, int, string, error) {
	executed := 0

	for current != END {
		if executed >= r.cfg.maxSteps {
			r.setPhase(PhaseFailed)
			return state, executed, current, &StepLimitError{
				Max:    r.cfg.maxSteps,
				NodeID: current,
				State:  state,
			}
		}

		if err := ctx.Err(); err != nil {
			r.setPhase(PhaseFailed)
			return state, executed, current, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  err,
			}
		}

		r.setPhase(PhaseRunning)
		update, err := r.executeNode(ctx, current, state, step)
		executed++

		if r.sink.isStopped() {
			r.setPhase(PhaseSuspended)
			return state, executed, current, nil
		}
		if err != nil {
			r.setPhase(PhaseFailed)
			return state, executed, current, err
		}

		merged, err := r.cg.schema.Merge(state, update)
		if err != nil {
			r.setPhase(PhaseFailed)
			return state, executed, current, &NodeError{NodeID: current, Op: "merge", Err: err}
		}

		// A static successor is saved with the step; a router's choice is
		// recorded after it returns. Routing never runs before the save.
		pending, static := r.cg.staticNext(current)
		if err := r.save(ctx, current, step, merged, pending); err != nil {
			r.setPhase(PhaseFailed)
			return merged, executed, current, err
		}

		next, routeErr := pending, error(nil)
		if !static {
			next, routeErr = r.route(ctx, current, merged, step)
			if routeErr == nil {
				if err := r.recordNext(ctx, current, step, next); err != nil {
					r.setPhase(PhaseFailed)
					return merged, executed, current, err
				}
			}
		}

		if !r.emitStep(current, step, update, merged) {
			r.setPhase(PhaseSuspended)
			return merged, executed, current, nil
		}

		if routeErr != nil {
			r.setPhase(PhaseFailed)
			return merged, executed, current, routeErr
		}

		state = merged
		current = next
		step++
	}

	r.setPhase(PhaseTerminal)
	return state, executed, "", nil
}

// executeNode executes a single node with timeout, tracing, and panic recovery.
func (r *runner) executeNode(ctx context.Context, nodeID string, state State, step int) (Update, error) {
	fn, exists := r.cg.getNode(nodeID)
	if !exists {
		// Compilation guarantees every routed node exists.
		return nil, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	nodeCtx := ctx
	if r.cfg.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, r.cfg.nodeTimeout)
		defer cancel()
	}

	spanCtx, span := r.cfg.spans.StartNodeSpan(nodeCtx, nodeID, step)
	ec := r.base.forNode(spanCtx, nodeID, step)

	observability.LogNodeStart(r.base.logger, nodeID, step)
	start := time.Now()

	update, err := callNode(fn, ec, r.cg.schema.Snapshot(state), nodeID)

	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
	case nodeCtx.Err() != nil:
		// A cancelled node's output is discarded, even if it returned cleanly.
		err = &CancellationError{
			NodeID:       nodeID,
			State:        state,
			Cause:        nodeCtx.Err(),
			WasExecuting: true,
		}
	case err != nil:
		err = &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}

	duration := time.Since(start)
	r.cfg.metrics.RecordNodeExecution(spanCtx, nodeID, duration, err)
	r.cfg.spans.EndSpanWithError(span, err)

	if err != nil {
		observability.LogNodeError(r.base.logger, nodeID, err)
		return nil, err
	}
	observability.LogNodeComplete(r.base.logger, nodeID, float64(duration.Milliseconds()), update.Fields())
	return update, nil
}

// callNode invokes fn, converting a panic into a *PanicError.
func callNode(fn NodeFunc, ctx Context, state State, nodeID string) (update Update, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			update = nil
			err = &PanicError{
				NodeID: nodeID,
				Value:  rec,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return fn(ctx, state)
}

// staticNext returns the successor of a node that routes without a router:
// its unconditional edge, or END when it has no edges. ok is false for a
// node with a conditional edge.
func (cg *CompiledGraph) staticNext(from string) (next string, ok bool) {
	if to, ok := cg.edges[from]; ok {
		return to, true
	}
	if _, ok := cg.conditionalEdges[from]; ok {
		return "", false
	}
	return END, true
}

// route determines the node after from.
// Unconditional edges win; a node without edges routes to END.
func (r *runner) route(ctx context.Context, from string, state State, step int) (next string, err error) {
	if to, ok := r.cg.staticNext(from); ok {
		return to, nil
	}

	cond := r.cg.conditionalEdges[from]

	defer func() {
		if rec := recover(); rec != nil {
			next = ""
			err = &PanicError{NodeID: from, Value: rec, Stack: string(debug.Stack())}
		}
	}()

	label := cond.router(r.base.forNode(ctx, from, step), state)
	to, ok := cond.routes[label]
	if !ok {
		return "", &RoutingError{
			FromNode: from,
			Label:    label,
			Routes:   sortedKeys(cond.routes),
		}
	}

	observability.LogRoute(r.base.logger, from, label, to)
	return to, nil
}

// save persists the state after a step. Failures are fatal.
func (r *runner) save(ctx context.Context, nodeID string, step int, state State, next string) error {
	store := r.cg.checkpointer
	if store == nil {
		return nil
	}

	data, err := r.cg.schema.Encode(state)
	if err != nil {
		observability.LogCheckpointError(r.base.logger, nodeID, "encode", err)
		return &CheckpointError{ThreadID: r.base.threadID, NodeID: nodeID, Step: step, Op: "encode", Err: err}
	}

	cp := checkpoint.New(r.base.threadID, step, nodeID, data, next)
	if err := store.Save(ctx, cp); err != nil {
		observability.LogCheckpointError(r.base.logger, nodeID, "save", err)
		return &CheckpointError{ThreadID: r.base.threadID, NodeID: nodeID, Step: step, Op: "save", Err: err}
	}

	observability.LogCheckpoint(r.base.logger, nodeID, step, len(data))
	r.cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	r.cfg.spans.AddSpanEvent(ctx, "checkpoint.saved",
		attribute.String("node.id", nodeID),
		attribute.Int("step", step),
	)
	return nil
}

// recordNext stores the router's choice on the checkpoint saved at step.
func (r *runner) recordNext(ctx context.Context, nodeID string, step int, next string) error {
	store := r.cg.checkpointer
	if store == nil {
		return nil
	}
	if err := store.SetNextNode(ctx, r.base.threadID, step, next); err != nil {
		observability.LogCheckpointError(r.base.logger, nodeID, "route", err)
		return &CheckpointError{ThreadID: r.base.threadID, NodeID: nodeID, Step: step, Op: "route", Err: err}
	}
	return nil
}

// reroute finishes the routing of a checkpoint whose router never
// completed and returns the node to continue from.
func (r *runner) reroute(ctx context.Context, from string, state State, step int) (string, error) {
	next, err := r.route(ctx, from, state, step)
	if err != nil {
		r.setPhase(PhaseFailed)
		return "", err
	}
	if err := r.recordNext(ctx, from, step, next); err != nil {
		r.setPhase(PhaseFailed)
		return "", err
	}
	return next, nil
}

// emitStep delivers the per-step stream events.
// Returns false once the consumer has stopped.
func (r *runner) emitStep(nodeID string, step int, update Update, state State) bool {
	if r.sink.wants(ModeUpdates) {
		if !r.sink.emit(StreamEvent{Mode: ModeUpdates, Node: nodeID, Step: step, Update: update}) {
			return false
		}
	}
	if r.sink.wants(ModeValues) {
		if !r.sink.emit(StreamEvent{Mode: ModeValues, Node: nodeID, Step: step, State: r.cg.schema.Snapshot(state)}) {
			return false
		}
	}
	return true
}

// setPhase records a phase transition.
func (r *runner) setPhase(p Phase) {
	if r.phase == p {
		return
	}
	r.phase = p
	observability.LogPhase(r.base.logger, p.String())
}
