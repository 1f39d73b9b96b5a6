// Package driver defines the uniform contract over agentic LLM backends and
// its two implementations: a subprocess-wrapping CLI driver and an HTTP API
// driver. Agent runners are backend-agnostic; they consume this contract only.
package driver

import (
	"context"
	"encoding/json"

	"github.com/amelia-dev/amelia/pkg/models"
)

// Driver is the uniform contract over heterogeneous LLM execution backends.
type Driver interface {
	// Generate performs a one-shot completion. If req.Schema is set, the
	// result's Structured field holds a value validated against it; schema
	// failures return a *SchemaError.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// ExecuteAgentic runs a multi-step tool-using session. The returned
	// channel is ordered and finite: the last message is always a
	// ResultMessage. Cancelling ctx terminates the producer promptly.
	ExecuteAgentic(ctx context.Context, req AgenticRequest) (<-chan AgenticMessage, error)

	// CleanupSession releases backend session state. Best-effort.
	CleanupSession(ctx context.Context, sessionID string) error
}

// GenerateRequest is a one-shot completion request.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	// Schema, when non-empty, is a JSON Schema the response must satisfy.
	Schema string
}

// GenerateResult is the outcome of a one-shot completion.
type GenerateResult struct {
	Content    string
	Structured json.RawMessage // set when a schema was requested
	Usage      Usage
}

// AgenticRequest is a multi-step tool-using run.
type AgenticRequest struct {
	Prompt       string
	Cwd          string
	SessionID    string // resume a prior session when non-empty
	Instructions string // system-prompt-level steering
	Model        string
}

// Usage reports token consumption and cost for one backend call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	DurationMS   int64
}

// MessageType identifies the kind of agentic stream message.
type MessageType string

// Agentic message types.
const (
	MessageThinking   MessageType = "thinking"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageResult     MessageType = "result"
)

// AgenticMessage is the interface for all agentic stream message types.
type AgenticMessage interface {
	messageType() MessageType
}

// ThinkingMessage is a fragment of the model's intermediate reasoning or
// narration text.
type ThinkingMessage struct {
	Content string
}

// ToolCallMessage signals the model invoked a tool.
type ToolCallMessage struct {
	ToolCallID string
	ToolName   string
	ToolInput  string // JSON
}

// ToolResultMessage carries a tool's output back into the stream.
type ToolResultMessage struct {
	ToolCallID string
	ToolOutput string
	IsError    bool
}

// ResultMessage terminates the stream. SessionID, when set, can resume the
// conversation in a later ExecuteAgentic call.
type ResultMessage struct {
	Content   string
	SessionID string
	IsError   bool
	Usage     Usage
}

func (m *ThinkingMessage) messageType() MessageType   { return MessageThinking }
func (m *ToolCallMessage) messageType() MessageType   { return MessageToolCall }
func (m *ToolResultMessage) messageType() MessageType { return MessageToolResult }
func (m *ResultMessage) messageType() MessageType     { return MessageResult }

// Registry hands out drivers per agent configuration. Built once at startup.
type Registry struct {
	cli Driver
	api Driver
}

// NewRegistry creates a Registry with both backend implementations.
func NewRegistry(cli, api Driver) *Registry {
	return &Registry{cli: cli, api: api}
}

// ForConfig returns the driver selected by an agent config.
func (r *Registry) ForConfig(cfg models.AgentConfig) Driver {
	if cfg.DriverKind == models.DriverAPI {
		return r.api
	}
	return r.cli
}
