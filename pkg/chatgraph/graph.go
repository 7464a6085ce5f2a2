package chatgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// AddConditionalEdge, and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := chatgraph.NewGraph(schema).
//	    AddNode("check", checkNode).
//	    AddNode("pass", passNode).
//	    AddNode("fail", failNode).
//	    AddEdge(chatgraph.START, "check").
//	    AddConditionalEdge("check", safety, map[string]string{
//	        "safe":   "pass",
//	        "unsafe": "fail",
//	    }).
//	    AddEdge("pass", chatgraph.END).
//	    AddEdge("fail", chatgraph.END)
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu               sync.RWMutex
	schema           *Schema
	nodes            map[string]NodeFunc
	nodeOrder        []string
	edges            map[string][]string
	conditionalEdges map[string][]conditionalEdge
	labels           map[string][]string
	entryPoint       string

	// problems found while building, reported by Compile
	problems []error
}

// conditionalEdge pairs a router with its label-to-target map.
type conditionalEdge struct {
	router RouterFunc
	routes map[string]string
}

// NewGraph creates a new graph builder whose state follows schema.
//
// Panics if schema is nil.
func NewGraph(schema *Schema) *Graph {
	if schema == nil {
		panic("chatgraph: schema cannot be nil")
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]NodeFunc),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string][]conditionalEdge),
		labels:           make(map[string][]string),
	}
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Registering the same name twice is reported by Compile as a
// DuplicateNodeError; the first registration is kept.
//
// Panics if:
//   - id is empty
//   - id is a reserved name (START, END, "start", "end", case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	if id == "" {
		panic("chatgraph: node ID cannot be empty")
	}

	switch strings.ToLower(id) {
	case "end", END, "start", START:
		panic(fmt.Sprintf("chatgraph: node ID cannot be reserved word %q", id))
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("chatgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("chatgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		g.problems = append(g.problems, &DuplicateNodeError{NodeID: id})
		return g
	}

	g.nodes[id] = fn
	g.nodeOrder = append(g.nodeOrder, id)
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or END. AddEdge(START, id) is the same as
// SetEntry(id).
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	if from == START {
		return g.SetEntry(to)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where router picks a label at
// runtime and routes maps each label to a node ID or END.
// Returns the graph for method chaining.
//
// Route targets are validated at Compile() time. A label returned at runtime
// that is missing from routes fails the run with a RoutingError.
//
// A node can have either one unconditional edge or one conditional edge,
// never both.
//
// Panics if router is nil or routes is empty.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, routes map[string]string) *Graph {
	if router == nil {
		panic("chatgraph: router function cannot be nil")
	}
	if len(routes) == 0 {
		panic("chatgraph: route map cannot be empty")
	}

	copied := make(map[string]string, len(routes))
	for label, target := range routes {
		copied[label] = target
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = append(g.conditionalEdges[from], conditionalEdge{
		router: router,
		routes: copied,
	})
	return g
}

// DeclareLabels records the labels a node's router is known to return.
// Compile fails when a declared label has no entry in the route map.
// Returns the graph for method chaining.
func (g *Graph) DeclareLabels(from string, labels ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.labels[from] = append(g.labels[from], labels...)
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
