// Package llm provides the client for the hosted chat-completion API.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message on the wire.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a JSON
// document. The arguments are passed through to the registry unparsed;
// malformed argument JSON is the dispatcher's problem, not the client's.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the provider-neutral response to one chat request.
type ChatResponse struct {
	Message      Message
	FinishReason string

	// Token usage, when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// Client is the interface the agent loop talks to. Implementations make
// exactly one upstream call per Chat invocation; retries are the
// caller's decision.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)
}
