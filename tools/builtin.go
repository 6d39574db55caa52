package tools

import (
	"context"
	"encoding/json"

	"github.com/AltairaLabs/voicebridge/types"
)

// EndCallName is the built-in tool the model invokes to hang up. The
// orchestrator watches for its result and starts graceful teardown after the
// acknowledgement has been sent back to the model.
const EndCallName = "end_call"

// RegisterEndCall adds the built-in end_call tool to a registry.
func RegisterEndCall(r *Registry) error {
	return r.Register(EndCallName, Handler{
		Description: "End the current call. Use when the user says goodbye or asks to hang up.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"status":"call_ending"}`), nil
		},
	})
}

// IsEndCall reports whether a successful result came from the end_call tool.
func IsEndCall(res types.ToolCallResult) bool {
	return res.Name == EndCallName && !res.IsError()
}
