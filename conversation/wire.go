package conversation

import (
	"github.com/AltairaLabs/voicebridge/types"
)

// TurnContent is the live API's client_content turn shape.
type TurnContent struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a single content part within a turn.
type Part struct {
	Text string `json:"text,omitempty"`
}

// ToLiveHistory converts a history snapshot to the turn list the live API
// expects in client_content. The mapping is pure: it has no side effects
// and any protocol drift stays isolated here.
//
// Tool traffic is carried by dedicated toolCall/toolResponse messages on
// the wire, so tool-only entries are folded to text summaries the model
// can still condition on after a reconnect replay.
func ToLiveHistory(messages []types.Message) []TurnContent {
	out := make([]TurnContent, 0, len(messages))
	for _, msg := range messages {
		turn, ok := toTurn(msg)
		if !ok {
			continue
		}
		out = append(out, turn)
	}
	return out
}

func toTurn(msg types.Message) (TurnContent, bool) {
	switch msg.Role {
	case types.RoleUser:
		if msg.Content == "" {
			return TurnContent{}, false
		}
		return TurnContent{Role: "user", Parts: []Part{{Text: msg.Content}}}, true

	case types.RoleModel:
		if msg.Content == "" {
			return TurnContent{}, false
		}
		return TurnContent{Role: "model", Parts: []Part{{Text: msg.Content}}}, true

	case types.RoleTool:
		if msg.ToolResult == nil {
			return TurnContent{}, false
		}
		text := "[tool " + msg.ToolResult.Name + "] " + msg.ToolResult.Content
		if msg.ToolResult.Error != "" {
			text = "[tool " + msg.ToolResult.Name + " failed] " + msg.ToolResult.Error
		}
		return TurnContent{Role: "user", Parts: []Part{{Text: text}}}, true

	default:
		return TurnContent{}, false
	}
}
