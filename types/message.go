package types

import (
	"encoding/json"
	"time"
)

// Conversation roles. Roles alternate in a coherent turn structure; a tool
// result must follow its tool-call request before the next model turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Message is a single entry in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Tool invocations requested by a model message.
	ToolCalls []MessageToolCall `json:"tool_calls,omitempty"`

	// Tool result carried by a tool role message.
	ToolResult *MessageToolResult `json:"tool_result,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MessageToolCall records a tool invocation requested by the model.
type MessageToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// MessageToolResult records the outcome of a tool call. ID references the
// MessageToolCall that triggered it.
type MessageToolResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]MessageToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Args != nil {
				out.ToolCalls[i].Args = append(json.RawMessage(nil), tc.Args...)
			}
		}
	}
	if m.ToolResult != nil {
		tr := *m.ToolResult
		out.ToolResult = &tr
	}
	return out
}
