package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sections are the top-level keys a settings file may contain.
var Sections = []string{"model", "run", "summary", "tools", "store", "log", "ui"}

var (
	// ErrUnsupportedFormat indicates a settings file with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported settings format")

	// ErrUnknownSection indicates a top-level key outside Sections.
	ErrUnknownSection = errors.New("unknown settings section")
)

// FileError reports a settings file that could not be used.
type FileError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("settings file %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}

// FromFile loads a settings file, choosing the format by extension
// (.yaml, .yml, .json). A file holding only whitespace yields an empty
// Config, so every setting keeps its default.
//
// Errors are *FileError values naming the path.
func FromFile(path string) (Config, error) {
	parse, err := parserFor(path)
	if err != nil {
		return Config{}, &FileError{Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &FileError{Path: path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return New(nil), nil
	}

	c, err := parse(data)
	if err != nil {
		return Config{}, &FileError{Path: path, Err: err}
	}
	return c, nil
}

func parserFor(path string) (func([]byte) (Config, error), error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML, nil
	case ".json":
		return FromJSON, nil
	default:
		return nil, fmt.Errorf("%w %q (use .yaml, .yml, or .json)", ErrUnsupportedFormat, ext)
	}
}

// FromYAML parses a YAML settings document.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON settings document.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// CheckSections reports top-level keys that are not settings sections,
// which usually means a misspelled or mis-indented block.
func CheckSections(c Config) error {
	var unknown []string
	for key := range c.Raw() {
		if !slices.Contains(Sections, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return fmt.Errorf("%w: %s (want one of %s)", ErrUnknownSection,
		strings.Join(unknown, ", "), strings.Join(Sections, ", "))
}
