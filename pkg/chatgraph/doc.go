/*
Package chatgraph provides a state-graph execution core for conversational
agents.

# Overview

A graph is a set of named nodes joined by unconditional and conditional
edges. Running it moves a single State through the nodes one step at a
time. Each node returns a partial Update that the graph's Schema merges
into the state with per-field reducers, so a node only names what it
changes.

With a checkpoint store attached, every step is saved per conversation
thread. The next turn of the same thread starts from the latest saved
state, which gives multi-turn memory without the caller carrying history.

# State and Schema

Declare each field with a typed Key and a merge rule:

	var (
	    Messages = chatgraph.NewKey[[]llm.Message]("messages")
	    Marks    = chatgraph.NewKey[int]("marks")
	    Notes    = chatgraph.NewKey[[]string]("notes")
	)

	schema := chatgraph.NewSchema(
	    chatgraph.Messages(Messages), // append, replace by ID, remove markers
	    chatgraph.Scalar(Marks),      // overwrite
	    chatgraph.Appender(Notes),    // append
	)

Nodes read with Key.Get or Key.Value and write with Key.Set:

	func grade(ctx chatgraph.Context, s chatgraph.State) (chatgraph.Update, error) {
	    return chatgraph.Update{Notes.Set([]string{"graded"})}, nil
	}

Writes to undeclared fields and values of the wrong type fail the merge
with a *FieldError.

# Building and Running

	graph := chatgraph.NewGraph(schema).
	    AddNode("check", check).
	    AddNode("pass", pass).
	    AddNode("fail", fail).
	    AddEdge(chatgraph.START, "check").
	    AddConditionalEdge("check", safety, map[string]string{
	        "safe":   "pass",
	        "unsafe": "fail",
	    }).
	    AddEdge("pass", chatgraph.END).
	    AddEdge("fail", chatgraph.END)

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err) // *GraphValidationError lists every problem
	}

	final, err := compiled.Invoke(ctx, chatgraph.Update{Marks.Set(72)})

A router returns a label; a label missing from the route map fails the
run with a *RoutingError. Loops are allowed and bounded by WithMaxSteps
(default 25).

# Checkpointing

	store, err := checkpoint.NewSQLiteStore("./threads.db")
	compiled, err := graph.Compile(chatgraph.WithCheckpointer(store))

	final, err := compiled.Invoke(ctx, input, chatgraph.WithThreadID("user-42"))

Steps are numbered per thread and keep increasing across turns. Load and
save failures abort the turn with a *CheckpointError; the previously saved
checkpoint stays intact.

# Streaming

	for ev, err := range compiled.Stream(ctx, input,
	    chatgraph.ModeUpdates|chatgraph.ModeMessages,
	    chatgraph.WithThreadID("user-42")) {
	    ...
	}

ModeUpdates yields each node's update; ModeMessages yields the chunks
nodes emit with Context.EmitChunk.

# Observability

Logs use log/slog with thread_id, run_id, node_id, and step fields.
WithMetrics and WithTracing enable OpenTelemetry instruments and the
chatgraph.run > chatgraph.node.{id} span tree.

# Thread Safety

  - Graph is NOT safe for concurrent use during construction
  - CompiledGraph IS safe for concurrent use across threads
  - Runs on the same thread are not serialized by the executor

# Subpackages

  - checkpoint: Checkpoint storage (memory, SQLite, Redis)
  - llm: Message model and the Model capability
  - llm/gemini: Gemini model provider
  - tools: Tool interface, tool sets, and built-in tools
  - agent: Model node, tool loop, and conversation summarization
  - observability: Logging, metrics, and tracing helpers
  - config: Typed configuration loading
  - errors: Error categorization and retry helpers
*/
package chatgraph
