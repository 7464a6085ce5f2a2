package chatgraph

import (
	"sort"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent use across distinct threads. Two
// concurrent runs on the same thread ID are not coordinated; the checkpoint
// store rejects the slower writer with a stale step.
//
// Use the introspection methods (NodeIDs, Successors, etc.) to examine
// the graph structure for debugging or visualization.
type CompiledGraph struct {
	name             string
	schema           *Schema
	checkpointer     checkpoint.Store
	nodes            map[string]NodeFunc
	nodeOrder        []string
	edges            map[string]string
	conditionalEdges map[string]conditionalEdge
	entryPoint       string
}

// Name returns the graph name.
func (cg *CompiledGraph) Name() string {
	return cg.name
}

// Schema returns the state schema.
func (cg *CompiledGraph) Schema() *Schema {
	return cg.schema
}

// Checkpointer returns the attached checkpoint store, or nil.
func (cg *CompiledGraph) Checkpointer() checkpoint.Store {
	return cg.checkpointer
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in registration order.
func (cg *CompiledGraph) NodeIDs() []string {
	ids := make([]string, len(cg.nodeOrder))
	copy(ids, cg.nodeOrder)
	return ids
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns every node ID (or END) the given node can route to,
// sorted. Returns nil for END, unknown nodes, and nodes without edges.
func (cg *CompiledGraph) Successors(id string) []string {
	if to, ok := cg.edges[id]; ok {
		return []string{to}
	}
	cond, ok := cg.conditionalEdges[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(cond.routes))
	var out []string
	for _, to := range cond.routes {
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	sort.Strings(out)
	return out
}

// Routes returns a copy of the label-to-target map of a conditional node,
// or nil when the node has no conditional edge.
func (cg *CompiledGraph) Routes(id string) map[string]string {
	cond, ok := cg.conditionalEdges[id]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(cond.routes))
	for label, to := range cond.routes {
		out[label] = to
	}
	return out
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// getNode returns the node function for the given ID.
func (cg *CompiledGraph) getNode(id string) (NodeFunc, bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}
