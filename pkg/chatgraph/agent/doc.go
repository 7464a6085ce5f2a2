// Package agent provides prebuilt nodes and wiring for conversational agents
// on top of chatgraph: a model node, a tool node with its routing condition,
// conversation-length gated summarization, and user preference tracking.
//
// The nodes share a conventional schema, ChatSchema, whose fields are
// exposed as typed keys:
//
//	g := chatgraph.NewGraph(agent.ChatSchema())
//	agent.AddToolLoop(g, "model", "tools", model, set)
//	g.AddEdge(chatgraph.START, "model")
//
//	compiled, err := g.Compile(chatgraph.WithCheckpointer(store))
//	state, err := compiled.Invoke(ctx,
//	    chatgraph.Update{chatgraph.Append(agent.Messages, llm.User("what time is it?"))},
//	    chatgraph.WithThreadID("thread-1"))
//
// NewChatGraph builds the full assistant graph used by the chatgraph command:
// length check, optional summarization, and the tool loop.
package agent
