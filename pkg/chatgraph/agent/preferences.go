package agent

import (
	"slices"
	"strings"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// preferenceWindow is how many trailing messages are scanned for updates.
const preferenceWindow = 5

// LoadPreferences merges the stored UserPreferences with every
// update_user_preferences result among the last five messages.
// Likes and dislikes keep first-seen order without duplicates. Malformed
// results are skipped.
func LoadPreferences(state chatgraph.State) tools.Preferences {
	current := UserPreferences.Value(state)
	out := tools.Preferences{
		Likes:    union(nil, current.Likes),
		Dislikes: union(nil, current.Dislikes),
	}

	messages := Messages.Value(state)
	for _, m := range messages[max(len(messages)-preferenceWindow, 0):] {
		if m.Role != llm.RoleTool || m.Name != tools.NameUpdatePrefs || m.IsError {
			continue
		}
		update, ok := tools.ParsePreferenceUpdate(m.Content)
		if !ok {
			continue
		}
		out.Likes = union(out.Likes, update.Likes)
		out.Dislikes = union(out.Dislikes, update.Dislikes)
	}
	return out
}

// RenderPreferences formats preferences for a system prompt.
func RenderPreferences(p tools.Preferences) string {
	likes, dislikes := "none recorded", "none recorded"
	if len(p.Likes) > 0 {
		likes = strings.Join(p.Likes, ", ")
	}
	if len(p.Dislikes) > 0 {
		dislikes = strings.Join(p.Dislikes, ", ")
	}
	return "Likes: " + likes + "\nDislikes: " + dislikes
}

func union(dst, items []string) []string {
	if dst == nil {
		dst = []string{}
	}
	for _, item := range items {
		if item != "" && !slices.Contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
