/*
Package prompt fills placeholders in system prompts from conversation state.

# Overview

Prompts name their variables in braces, the way prompt files are usually
written:

	You are a librarian.

	## User Preferences
	{user_preferences}

Only a brace-wrapped identifier is a placeholder, so JSON snippets and other
braces in a prompt are left alone. Doubled braces ({{ and }}) produce a
literal brace.

# Missing Variables

By default a placeholder without a value is kept as-is:

	prompt.Expand("Hello {name}", nil)
	// "Hello {name}"

Configure the behavior with options:

	exp := prompt.NewExpander(prompt.WithMissingAction(prompt.MissingError))
	_, err := exp.Expand("Hello {name}", nil)
	// err: undefined variable: name

# Thread Safety

An Expander is safe for concurrent use after construction.
*/
package prompt
