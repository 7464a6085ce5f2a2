// Command chatgraph is an interactive assistant built on the chatgraph
// state-graph core. Conversations are checkpointed per thread, so a thread
// can be resumed across sessions.
package main

func main() {
	Execute()
}
