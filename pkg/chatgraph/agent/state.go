package agent

import (
	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// Fields of ChatSchema.
var (
	// Messages is the conversation transcript.
	Messages = chatgraph.NewKey[[]llm.Message]("messages")

	// Summary holds one paragraph per summarization pass, oldest first.
	Summary = chatgraph.NewKey[[]string]("summary")

	// ConversationLength is the transcript length seen by the last length check.
	ConversationLength = chatgraph.NewKey[int]("conversation_length")

	// UserPreferences are the likes and dislikes collected so far.
	UserPreferences = chatgraph.NewKey[tools.Preferences]("user_preferences")
)

// ChatSchema declares the fields used by the nodes in this package.
func ChatSchema(opts ...chatgraph.MessagesOption) *chatgraph.Schema {
	return chatgraph.NewSchema(
		chatgraph.Messages(Messages, opts...),
		chatgraph.Appender(Summary),
		chatgraph.Scalar(ConversationLength),
		chatgraph.Scalar(UserPreferences),
	)
}

// UserInput is the update that adds a user turn to the transcript.
func UserInput(content string) chatgraph.Update {
	return chatgraph.Update{chatgraph.Append(Messages, llm.User(content))}
}

// LastReply returns the latest assistant message of a state.
func LastReply(state chatgraph.State) (llm.Message, bool) {
	msgs := Messages.Value(state)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant {
			return msgs[i], true
		}
	}
	return llm.Message{}, false
}
