package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{, }}, or {name} where name is an identifier.
var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError reports the variable in an UndefinedVariableError.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// Expander fills {name} placeholders.
type Expander struct {
	missingAction MissingAction
}

// NewExpander creates an Expander. Missing variables are kept by default.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces placeholders in s with values from vars.
// Values are formatted with %v; string values are inserted verbatim.
//
// An error is only returned with MissingError, together with the partially
// expanded text.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		switch match {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		name := match[1 : len(match)-1]
		if val, ok := vars[name]; ok {
			if str, isString := val.(string); isString {
				return str
			}
			return fmt.Sprintf("%v", val)
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// Placeholders lists the distinct variable names used in s, in order of
// first appearance.
func Placeholders(s string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// UndefinedVariableError is returned when MissingError is set and
// one or more variables are not found.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand fills placeholders using the default expander, which keeps
// missing variables as-is.
func Expand(s string, vars map[string]any) string {
	out, _ := defaultExpander.Expand(s, vars)
	return out
}
