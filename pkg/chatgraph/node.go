package chatgraph

// START is the virtual source node. AddEdge(START, id) sets the entry point.
const START = "__start__"

// END is the terminal node identifier.
// Use this as an edge or route target to indicate the turn should finish.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and a read-only view of the current
// state, and return a partial Update naming only the fields they change.
// An empty Update is valid and leaves the state untouched.
//
// Nodes must not mutate the state they receive. Each node gets its own
// snapshot (see Schema.Snapshot), so edits to appender or messages slices
// are dropped unless returned in the Update; maps or pointers held in
// scalar fields are shared with the graph's state. The executor merges the
// returned update through the graph's Schema.
//
// Example:
//
//	func greet(ctx chatgraph.Context, s chatgraph.State) (chatgraph.Update, error) {
//	    return chatgraph.Update{Messages.Set([]llm.Message{llm.Assistant("hello")})}, nil
//	}
type NodeFunc func(ctx Context, state State) (Update, error)

// RouterFunc picks the label of the next route from the current state.
// The label is looked up in the route map given to AddConditionalEdge;
// a label absent from the map fails the run with a RoutingError.
//
// Routers should be pure functions of the state.
//
// Example:
//
//	func safety(ctx chatgraph.Context, s chatgraph.State) string {
//	    if Marks.Value(s) >= 50 {
//	        return "safe"
//	    }
//	    return "unsafe"
//	}
type RouterFunc func(ctx Context, state State) string
