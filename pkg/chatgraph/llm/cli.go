package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLI is a Model backed by the claude command-line tool.
// The transcript is flattened into a single prompt; tool declarations are
// not forwarded, so replies never carry tool calls.
type ClaudeCLI struct {
	path    string
	model   string
	workdir string
	timeout time.Duration
}

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a CLI-backed model.
// Assumes "claude" is available in PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{
		path:    "claude",
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithClaudeModel sets the model flag.
func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeCLI) { c.model = model }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// WithTimeout bounds each command. Zero means no limit beyond ctx.
func WithTimeout(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) { c.timeout = d }
}

// Generate implements Model.
func (c *ClaudeCLI) Generate(ctx context.Context, messages []Message, _ []ToolSpec) (Message, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := c.command(ctx, messages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Message{}, NewError("generate", ctx.Err(), ctx.Err() == context.DeadlineExceeded)
		}
		errMsg := stderr.String()
		return Message{}, NewError("generate", fmt.Errorf("%w: %s", err, errMsg), isRetryableOutput(errMsg))
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return Message{}, NewError("generate", ErrEmptyResponse, false)
	}
	return Assistant(content), nil
}

// GenerateStream implements StreamingModel using the stream-json output format.
func (c *ClaudeCLI) GenerateStream(ctx context.Context, messages []Message, _ []ToolSpec, onChunk func(Chunk) error) (Message, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := c.command(ctx, messages, "--output-format", "stream-json")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Message{}, NewError("stream", fmt.Errorf("create stdout pipe: %w", err), false)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Message{}, NewError("stream", fmt.Errorf("start command: %w", err), false)
	}

	var content strings.Builder
	emit := func(text string) error {
		content.WriteString(text)
		return onChunk(Chunk{Content: text})
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var streamErr error
	for scanner.Scan() && streamErr == nil {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			streamErr = emit(string(line) + "\n")
			continue
		}
		if event.Type == "content_block_delta" && event.Delta != nil && event.Delta.Text != "" {
			streamErr = emit(event.Delta.Text)
		}
	}

	if streamErr != nil {
		cancel()
		_ = cmd.Wait()
		return Message{}, streamErr
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return Message{}, NewError("stream", fmt.Errorf("read output: %w", err), false)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Message{}, NewError("stream", ctx.Err(), ctx.Err() == context.DeadlineExceeded)
		}
		errMsg := stderr.String()
		return Message{}, NewError("stream", fmt.Errorf("%w: %s", err, errMsg), isRetryableOutput(errMsg))
	}

	if err := onChunk(Chunk{Done: true}); err != nil {
		return Message{}, err
	}
	return Assistant(strings.TrimSpace(content.String())), nil
}

func (c *ClaudeCLI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *ClaudeCLI) command(ctx context.Context, messages []Message, extra ...string) *exec.Cmd {
	args := append(c.buildArgs(messages), extra...)
	cmd := exec.CommandContext(ctx, c.path, args...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}
	return cmd
}

// buildArgs constructs CLI arguments from a transcript.
// System messages become the system prompt; the rest is flattened into a
// single prompt with role prefixes.
func (c *ClaudeCLI) buildArgs(messages []Message) []string {
	args := []string{"--print"}

	var system []string
	var prompt strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			prompt.WriteString("User: " + m.Content + "\n\n")
		case RoleAssistant:
			if m.Content != "" {
				prompt.WriteString("Assistant: " + m.Content + "\n\n")
			}
		case RoleTool:
			prompt.WriteString("Tool result (" + m.Name + "): " + m.Content + "\n\n")
		}
	}

	if len(system) > 0 {
		args = append(args, "--system-prompt", strings.Join(system, "\n\n"))
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if p := strings.TrimSpace(prompt.String()); p != "" {
		args = append(args, "-p", p)
	}
	return args
}

// isRetryableOutput checks if CLI error output indicates a transient error.
func isRetryableOutput(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	return strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "503") ||
		strings.Contains(errLower, "529")
}

// streamEvent is one line of stream-json output.
type streamEvent struct {
	Type  string       `json:"type"`
	Delta *streamDelta `json:"delta,omitempty"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
