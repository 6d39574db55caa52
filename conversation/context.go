// Package conversation maintains the ordered, role-tagged message history
// for one session. A Context is owned by the session's orchestrator event
// loop; it is never mutated from two frames of the same session
// concurrently, but the mutex keeps Snapshot safe for observers.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/AltairaLabs/voicebridge/types"
)

// ErrUnknownToolCall is returned when a tool result references a call id
// that was never requested. Callers treat this as a protocol violation:
// the result is dropped, never appended.
var ErrUnknownToolCall = errors.New("tool result references unknown call id")

// Context is the append-only conversation history with
// replace-on-correction semantics for the in-flight partial model message.
type Context struct {
	mu       sync.Mutex
	messages []types.Message

	// partial holds streamed model text until finalized. Index into
	// messages, or -1 when no partial is open.
	partial int

	// pending tracks tool calls awaiting their results.
	pending map[string]types.MessageToolCall
}

// New creates an empty conversation context.
func New() *Context {
	return &Context{
		partial: -1,
		pending: make(map[string]types.MessageToolCall),
	}
}

// Append adds a completed message to the history.
func (c *Context) Append(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
}

// AppendUserText records a finished user utterance.
func (c *Context) AppendUserText(text string) {
	c.Append(types.Message{Role: types.RoleUser, Content: text})
}

// ExtendPartial appends streamed text to the in-flight model message,
// opening one if none exists. The entry stays mutable until
// FinalizePartial freezes it.
func (c *Context) ExtendPartial(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.partial < 0 {
		c.messages = append(c.messages, types.Message{
			Role:      types.RoleModel,
			Timestamp: time.Now(),
		})
		c.partial = len(c.messages) - 1
	}
	c.messages[c.partial].Content += delta
}

// FinalizePartial freezes the in-flight model message. Idempotent: calling
// it with no open partial is a no-op. An empty partial is removed rather
// than frozen.
func (c *Context) FinalizePartial() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.partial < 0 {
		return
	}
	if c.messages[c.partial].Content == "" && len(c.messages[c.partial].ToolCalls) == 0 {
		c.messages = append(c.messages[:c.partial], c.messages[c.partial+1:]...)
	}
	c.partial = -1
}

// PushToolCall records a model-initiated tool call as pending and attaches
// it to the in-flight model message (opening one if needed).
func (c *Context) PushToolCall(call types.ToolCallRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mtc := types.MessageToolCall{ID: call.ID, Name: call.Name, Args: call.Args}
	c.pending[call.ID] = mtc

	if c.partial < 0 {
		c.messages = append(c.messages, types.Message{
			Role:      types.RoleModel,
			Timestamp: time.Now(),
		})
		c.partial = len(c.messages) - 1
	}
	c.messages[c.partial].ToolCalls = append(c.messages[c.partial].ToolCalls, mtc)
}

// ResolveToolCall appends a tool result message for a pending call.
// A result whose id has no matching pending request is rejected with
// ErrUnknownToolCall and leaves the history untouched.
func (c *Context) ResolveToolCall(result types.ToolCallResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.pending[result.ID]
	if !ok {
		return ErrUnknownToolCall
	}
	delete(c.pending, result.ID)

	c.messages = append(c.messages, types.Message{
		Role:      types.RoleTool,
		Timestamp: time.Now(),
		ToolResult: &types.MessageToolResult{
			ID:      result.ID,
			Name:    call.Name,
			Content: string(result.Result),
			Error:   result.Err,
		},
	})
	return nil
}

// PendingToolCalls returns the ids of tool calls still awaiting results.
func (c *Context) PendingToolCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a stable, deep copy of the history in order.
func (c *Context) Snapshot() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages in the history.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
