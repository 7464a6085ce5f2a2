package chatgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
)

// compileConfig holds options fixed at compile time.
type compileConfig struct {
	name         string
	checkpointer checkpoint.Store
}

// CompileOption configures a compiled graph.
type CompileOption func(*compileConfig)

// WithCheckpointer attaches a checkpoint store. Every run of the compiled
// graph then needs a thread ID (WithThreadID), loads the thread's latest
// checkpoint before the first step, and saves one after every step.
func WithCheckpointer(store checkpoint.Store) CompileOption {
	return func(c *compileConfig) {
		c.checkpointer = store
	}
}

// WithName sets the graph name used in logs and trace spans.
// Default: "chatgraph".
func WithName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// Compile validates the graph and creates an executable CompiledGraph.
// Returns a *GraphValidationError listing every problem if validation fails.
//
// Validation checks:
//  1. No node name was registered twice
//  2. Entry point must be set and reference an existing node
//  3. All edge sources and targets must reference existing nodes (targets may be END)
//  4. All conditional route targets must reference existing nodes or END
//  5. A node has at most one outgoing edge definition (unconditional or conditional)
//  6. Every label declared with DeclareLabels has a route
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail. A node without outgoing edges ends
// the turn after it runs.
func (g *Graph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	cfg := compileConfig{name: "chatgraph"}
	for _, opt := range opts {
		opt(&cfg)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	errs := append([]error(nil), g.problems...)

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d unconditional edges", ErrConflictingEdges, from, len(targets)))
		}
		if _, hasConditional := g.conditionalEdges[from]; hasConditional {
			errs = append(errs, fmt.Errorf("%w: node '%s' has both unconditional and conditional edges", ErrConflictingEdges, from))
		}
		for _, to := range targets {
			if !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range sortedKeys(g.conditionalEdges) {
		conds := g.conditionalEdges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(conds) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d conditional edges", ErrConflictingEdges, from, len(conds)))
		}
		for _, cond := range conds {
			for _, label := range sortedKeys(cond.routes) {
				if to := cond.routes[label]; !g.isTarget(to) {
					errs = append(errs, fmt.Errorf("%w: route '%s' -> '%s' from '%s' does not exist", ErrNodeNotFound, label, to, from))
				}
			}
		}
	}

	for _, from := range sortedKeys(g.labels) {
		conds, ok := g.conditionalEdges[from]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: node '%s' declares labels but has no conditional edge", ErrUndeclaredRoute, from))
			continue
		}
		for _, label := range g.labels[from] {
			if _, ok := conds[0].routes[label]; !ok {
				errs = append(errs, fmt.Errorf("%w: label '%s' from '%s'", ErrUndeclaredRoute, label, from))
			}
		}
	}

	if len(errs) > 0 {
		return nil, &GraphValidationError{Errs: errs}
	}

	g.warnUnreachableNodes()

	return g.buildCompiledGraph(cfg), nil
}

// isTarget reports whether id may be the target of an edge or route.
func (g *Graph) isTarget(id string) bool {
	if id == END {
		return true
	}
	_, exists := g.nodes[id]
	return exists
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph) warnUnreachableNodes() {
	reachable := g.findReachableNodes()

	for _, nodeID := range g.nodeOrder {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
// Conditional edges reach every target in their route map.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)

	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next := append([]string(nil), g.edges[current]...)
		for _, cond := range g.conditionalEdges[current] {
			for _, to := range cond.routes {
				next = append(next, to)
			}
		}

		for _, target := range next {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph) buildCompiledGraph(cfg compileConfig) *CompiledGraph {
	nodes := make(map[string]NodeFunc, len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditionalEdges := make(map[string]conditionalEdge, len(g.conditionalEdges))
	for from, conds := range g.conditionalEdges {
		conditionalEdges[from] = conds[0]
	}

	return &CompiledGraph{
		name:             cfg.name,
		schema:           g.schema,
		checkpointer:     cfg.checkpointer,
		nodes:            nodes,
		nodeOrder:        append([]string(nil), g.nodeOrder...),
		edges:            edges,
		conditionalEdges: conditionalEdges,
		entryPoint:       g.entryPoint,
	}
}
