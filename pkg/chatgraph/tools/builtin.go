package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Built-in tool names.
const (
	NameCurrentDatetime = "get_current_datetime"
	NameListFiles       = "list_files"
	NameReadFile        = "read_file"
	NameSystemInfo      = "get_system_info"
	NameSearchWeb       = "search_web"
	NameUpdatePrefs     = "update_user_preferences"
)

// DefaultMaxLines is the read_file line limit when the model gives none.
const DefaultMaxLines = 50

// BuiltinOptions configures the built-in tools.
type BuiltinOptions struct {
	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// SearchAPIKey is the Tavily API key for search_web.
	SearchAPIKey string

	// SearchEndpoint overrides the Tavily endpoint.
	SearchEndpoint string

	// HTTPClient is used by search_web. Its transport is wrapped with
	// OpenTelemetry instrumentation.
	HTTPClient *http.Client
}

// Builtins returns every built-in tool in a stable order.
func Builtins(o BuiltinOptions) []Tool {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	var searchOpts []SearchOption
	if o.SearchEndpoint != "" {
		searchOpts = append(searchOpts, WithSearchEndpoint(o.SearchEndpoint))
	}
	if o.HTTPClient != nil {
		searchOpts = append(searchOpts, WithSearchHTTPClient(o.HTTPClient))
	}
	return []Tool{
		CurrentDatetime(now),
		ListFiles(),
		ReadFile(),
		SystemInfo(),
		NewSearchWeb(o.SearchAPIKey, searchOpts...),
		UpdatePreferences(),
	}
}

// Select returns the named built-ins in the given order. An empty list
// selects all of them.
func Select(names []string, o BuiltinOptions) ([]Tool, error) {
	all := Builtins(o)
	if len(names) == 0 {
		return all, nil
	}
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(all, func(t Tool) bool { return t.Spec().Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		out = append(out, all[i])
	}
	return out, nil
}

type noArgs struct{}

// CurrentDatetime reports the local date and time.
func CurrentDatetime(now func() time.Time) Tool {
	return NewFuncTool(NameCurrentDatetime,
		"Get the current date and time. Use this tool when the user asks about the current time, date, day, or any time-related query.",
		func(_ context.Context, _ noArgs) (any, error) {
			return now().Format("Monday, January 02, 2006 at 03:04:05 PM"), nil
		})
}

type listFilesArgs struct {
	Directory string `json:"directory" jsonschema_description:"Path to the directory to list. Use '~' for the home directory, e.g. '~/Downloads', '/tmp', '.'"`
}

// ListFiles lists the entries of a directory with file sizes.
func ListFiles() Tool {
	return NewFuncTool(NameListFiles, "List all files and folders in a directory.",
		func(_ context.Context, a listFilesArgs) (any, error) {
			path, err := expandHome(a.Directory)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("directory %q does not exist", a.Directory)
				}
				return nil, err
			}
			if !info.IsDir() {
				return nil, fmt.Errorf("%q is not a directory", a.Directory)
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}
			if len(entries) == 0 {
				return fmt.Sprintf("Directory %q is empty.", a.Directory), nil
			}

			var dirs, files []string
			for _, e := range entries {
				if e.IsDir() {
					dirs = append(dirs, e.Name()+"/")
					continue
				}
				size := "?"
				if fi, err := e.Info(); err == nil {
					size = humanize.IBytes(uint64(fi.Size()))
				}
				files = append(files, fmt.Sprintf("%s (%s)", e.Name(), size))
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Contents of %q:\n", a.Directory)
			if len(dirs) > 0 {
				fmt.Fprintf(&b, "\nDirectories (%d):\n%s\n", len(dirs), strings.Join(dirs, "\n"))
			}
			if len(files) > 0 {
				fmt.Fprintf(&b, "\nFiles (%d):\n%s\n", len(files), strings.Join(files, "\n"))
			}
			return b.String(), nil
		})
}

type readFileArgs struct {
	FilePath string `json:"file_path" jsonschema_description:"Path to the file to read. Use '~' for the home directory."`
	MaxLines int    `json:"max_lines,omitempty" jsonschema:"minimum=1" jsonschema_description:"Maximum number of lines to read (default 50)."`
}

// ReadFile returns the first lines of a text file.
func ReadFile() Tool {
	return NewFuncTool(NameReadFile, "Read the contents of a text file.",
		func(_ context.Context, a readFileArgs) (any, error) {
			maxLines := a.MaxLines
			if maxLines <= 0 {
				maxLines = DefaultMaxLines
			}
			path, err := expandHome(a.FilePath)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("file %q does not exist", a.FilePath)
				}
				return nil, err
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%q is a directory, not a file", a.FilePath)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("%q is not a text file", a.FilePath)
			}

			lines := strings.SplitAfter(string(data), "\n")
			if len(lines) > 0 && lines[len(lines)-1] == "" {
				lines = lines[:len(lines)-1]
			}
			total := len(lines)
			if total > maxLines {
				return fmt.Sprintf("File: %s (showing first %d of %d lines)\n\n%s\n\n... [%d more lines]",
					a.FilePath, maxLines, total, strings.Join(lines[:maxLines], ""), total-maxLines), nil
			}
			return fmt.Sprintf("File: %s (%d lines)\n\n%s", a.FilePath, total, strings.Join(lines, "")), nil
		})
}

// SystemInfo describes the host the agent runs on.
func SystemInfo() Tool {
	return NewFuncTool(NameSystemInfo,
		"Get information about the current system including OS, Go version, and working directory. Use this when the user asks about the system, environment, or machine details.",
		func(_ context.Context, _ noArgs) (any, error) {
			wd, _ := os.Getwd()
			home, _ := os.UserHomeDir()
			host, _ := os.Hostname()
			user := os.Getenv("USER")
			if user == "" {
				user = "unknown"
			}
			return strings.Join([]string{
				"Operating System: " + runtime.GOOS,
				"Architecture: " + runtime.GOARCH,
				"Go Version: " + runtime.Version(),
				"Hostname: " + host,
				"Current Directory: " + wd,
				"User: " + user,
				"Home Directory: " + home,
			}, "\n"), nil
		})
}

// PrefUpdatePrefix marks update_user_preferences results.
const PrefUpdatePrefix = "PREF_UPDATE:"

// Preferences are the reader likes and dislikes collected during a conversation.
type Preferences struct {
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type updatePrefsArgs struct {
	Likes    []string `json:"likes,omitempty" jsonschema_description:"Things the user said they like."`
	Dislikes []string `json:"dislikes,omitempty" jsonschema_description:"Things the user said they dislike."`
}

// UpdatePreferences records user likes and dislikes. The result is a
// PREF_UPDATE payload that agent nodes fold into the preferences field.
func UpdatePreferences() Tool {
	return NewFuncTool(NameUpdatePrefs,
		"Record the user's likes and dislikes whenever they mention a preference.",
		func(_ context.Context, a updatePrefsArgs) (any, error) {
			p := Preferences{Likes: a.Likes, Dislikes: a.Dislikes}
			if p.Likes == nil {
				p.Likes = []string{}
			}
			if p.Dislikes == nil {
				p.Dislikes = []string{}
			}
			raw, err := json.Marshal(p)
			if err != nil {
				return nil, err
			}
			return PrefUpdatePrefix + string(raw), nil
		})
}

// ParsePreferenceUpdate decodes an update_user_preferences result.
// Returns false for content without the PREF_UPDATE prefix or with a
// malformed payload.
func ParsePreferenceUpdate(content string) (Preferences, bool) {
	payload, ok := strings.CutPrefix(content, PrefUpdatePrefix)
	if !ok {
		return Preferences{}, false
	}
	var p Preferences
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Preferences{}, false
	}
	return p, true
}

func expandHome(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
