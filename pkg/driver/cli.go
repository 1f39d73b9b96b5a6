package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CLIDriver wraps an agentic CLI binary that emits one JSON message per
// line on stdout (stream-json output). One subprocess per call; session
// continuity is delegated to the CLI's own --resume support.
type CLIDriver struct {
	// Command is the CLI binary, e.g. "claude".
	Command string

	// ExtraArgs are appended to every invocation (permissions flags etc.).
	ExtraArgs []string
}

// NewCLIDriver creates a CLIDriver for the given binary.
func NewCLIDriver(command string, extraArgs ...string) *CLIDriver {
	return &CLIDriver{Command: command, ExtraArgs: extraArgs}
}

// wireMessage is the JSONL envelope the CLI emits. One line per message.
type wireMessage struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Usage      *wireUsage      `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Generate runs the CLI in one-shot JSON mode.
func (d *CLIDriver) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	args := append([]string{}, d.ExtraArgs...)
	args = append(args, "--print", "--output-format", "json")
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	args = append(args, req.Prompt)

	start := time.Now()
	cmd := exec.CommandContext(ctx, d.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("%s exited: %w (stderr: %s)",
			d.Command, err, strings.TrimSpace(stderr.String())))
	}

	var envelope struct {
		Result string     `json:"result"`
		Usage  *wireUsage `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", d.Command, err)
	}

	result := &GenerateResult{
		Content: envelope.Result,
		Usage:   usageFromWire(envelope.Usage, start),
	}
	if req.Schema != "" {
		structured, err := extractJSON(envelope.Result)
		if err != nil {
			return nil, err
		}
		if err := validateAgainstSchema(structured, req.Schema); err != nil {
			return nil, err
		}
		result.Structured = structured
	}
	return result, nil
}

// ExecuteAgentic spawns the CLI in stream-json mode and decodes its stdout
// into the typed message stream. The subprocess is killed when ctx ends.
func (d *CLIDriver) ExecuteAgentic(ctx context.Context, req AgenticRequest) (<-chan AgenticMessage, error) {
	args := append([]string{}, d.ExtraArgs...)
	args = append(args, "--print", "--output-format", "stream-json")
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if req.Instructions != "" {
		args = append(args, "--append-system-prompt", req.Instructions)
	}
	args = append(args, req.Prompt)

	cmd := exec.CommandContext(ctx, d.Command, args...)
	cmd.Dir = req.Cwd
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, Transient(fmt.Errorf("failed to start %s: %w", d.Command, err))
	}

	start := time.Now()
	ch := make(chan AgenticMessage)
	go func() {
		defer close(ch)

		sawResult := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wire wireMessage
			if err := json.Unmarshal(line, &wire); err != nil {
				slog.Warn("Skipping malformed stream line",
					"command", d.Command, "error", err)
				continue
			}
			msg := fromWire(&wire, start)
			if msg == nil {
				continue
			}
			if _, ok := msg.(*ResultMessage); ok {
				sawResult = true
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}

		waitErr := cmd.Wait()
		if sawResult {
			return
		}
		// The stream contract promises a terminal result message. If the
		// process died without one, synthesize the failure.
		content := strings.TrimSpace(stderr.String())
		if content == "" && waitErr != nil {
			content = waitErr.Error()
		}
		if content == "" {
			content = "agent process ended without a result"
		}
		final := &ResultMessage{
			Content: content,
			IsError: true,
			Usage:   Usage{DurationMS: time.Since(start).Milliseconds()},
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// CleanupSession is a no-op: the CLI owns its session files.
func (d *CLIDriver) CleanupSession(_ context.Context, _ string) error {
	return nil
}

func fromWire(wire *wireMessage, start time.Time) AgenticMessage {
	switch MessageType(wire.Type) {
	case MessageThinking:
		return &ThinkingMessage{Content: wire.Content}
	case MessageToolCall:
		return &ToolCallMessage{
			ToolCallID: wire.ToolCallID,
			ToolName:   wire.ToolName,
			ToolInput:  string(wire.ToolInput),
		}
	case MessageToolResult:
		return &ToolResultMessage{
			ToolCallID: wire.ToolCallID,
			ToolOutput: wire.ToolOutput,
			IsError:    wire.IsError,
		}
	case MessageResult:
		return &ResultMessage{
			Content:   wire.Content,
			SessionID: wire.SessionID,
			IsError:   wire.IsError,
			Usage:     usageFromWire(wire.Usage, start),
		}
	default:
		return nil
	}
}

func usageFromWire(u *wireUsage, start time.Time) Usage {
	usage := Usage{DurationMS: time.Since(start).Milliseconds()}
	if u != nil {
		usage.InputTokens = u.InputTokens
		usage.OutputTokens = u.OutputTokens
		usage.CostUSD = u.CostUSD
	}
	return usage
}
