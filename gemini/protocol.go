package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AltairaLabs/voicebridge/conversation"
)

// ServerMessage is one BidiGenerateContentServerMessage from the live API.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCallMsg   `json:"toolCall,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// SetupComplete acknowledges the setup message (empty object per docs).
type SetupComplete struct{}

// UsageMetadata carries token accounting for the session so far.
type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// ToolCallMsg asks the client to run one or more functions.
type ToolCallMsg struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// FunctionCall is a single function invocation request.
type FunctionCall struct {
	Name string          `json:"name,omitempty"`
	ID   string          `json:"id,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ServerContent is the streaming model output (BidiGenerateContentServerContent).
type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription carries speech-to-text for either direction of the audio.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// ModelTurn is one increment of the model's response.
type ModelTurn struct {
	Parts []ContentPart `json:"parts,omitempty"`
}

// ContentPart is text or inline media. Note the server sends camelCase
// inlineData and mimeType.
type ContentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded media.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// IsAudio reports whether the part carries PCM audio.
func (d *InlineData) IsAudio() bool {
	return d != nil && strings.HasPrefix(d.MimeType, "audio/")
}

// buildSetupMessage constructs the initial BidiGenerateContentSetup message.
func buildSetupMessage(cfg *ModelConfig) map[string]any {
	setupContent := map[string]any{
		"model":            modelPath(cfg.Model),
		"generationConfig": buildGenerationConfig(cfg),
	}

	if cfg.audioOutput() {
		setupContent["outputAudioTranscription"] = map[string]any{}
		setupContent["inputAudioTranscription"] = map[string]any{}
	}
	if cfg.SystemInstruction != "" {
		setupContent["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": cfg.SystemInstruction},
			},
		}
	}
	addVADConfig(setupContent, cfg)
	addToolsConfig(setupContent, cfg.Tools)

	return map[string]any{"setup": setupContent}
}

// modelPath normalizes a model name to the models/{model} form the developer
// API expects. Fully qualified Vertex resource names pass through untouched.
func modelPath(model string) string {
	if model == "" {
		return "models/" + defaultModel
	}
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "projects/") {
		return model
	}
	return "models/" + model
}

// vertexModelPath builds the publisher model resource name the Vertex
// endpoint expects in the setup message.
func vertexModelPath(project, location, model string) string {
	if model == "" {
		model = defaultModel
	}
	if strings.HasPrefix(model, "projects/") {
		return model
	}
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
		project, location, strings.TrimPrefix(model, "models/"))
}

func buildGenerationConfig(cfg *ModelConfig) map[string]any {
	gen := map[string]any{
		"responseModalities": []string{cfg.responseModality()},
	}
	if cfg.audioOutput() {
		voice := cfg.Voice
		if voice == "" {
			voice = defaultVoice
		}
		gen["speechConfig"] = map[string]any{
			"voiceConfig": map[string]any{
				"prebuiltVoiceConfig": map[string]any{
					"voiceName": voice,
				},
			},
		}
	}
	return gen
}

// addVADConfig disables the server's automatic activity detection when the
// bridge does its own endpointing, so turn boundaries come only from the
// explicit activityStart/activityEnd signals.
func addVADConfig(setupContent map[string]any, cfg *ModelConfig) {
	if !cfg.ServerVAD {
		setupContent["realtimeInputConfig"] = map[string]any{
			"automaticActivityDetection": map[string]any{
				"disabled": true,
			},
		}
	}
}

func addToolsConfig(setupContent map[string]any, tools []FunctionDeclaration) {
	if len(tools) == 0 {
		return
	}
	decls := make([]map[string]any, len(tools))
	for i, tool := range tools {
		decl := map[string]any{"name": tool.Name}
		if tool.Description != "" {
			decl["description"] = tool.Description
		}
		if len(tool.Parameters) > 0 {
			decl["parameters"] = tool.Parameters
		}
		decls[i] = decl
	}
	setupContent["tools"] = []map[string]any{
		{"functionDeclarations": decls},
	}
}

// FunctionDeclaration describes one callable tool in the setup message.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// buildAudioMessage wraps one PCM chunk as a realtime input message.
func buildAudioMessage(pcm []byte, sampleRate int) map[string]any {
	return map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"mime_type": pcmMimeType(sampleRate),
					"data":      base64.StdEncoding.EncodeToString(pcm),
				},
			},
		},
	}
}

func pcmMimeType(sampleRate int) string {
	switch sampleRate {
	case 16000:
		return "audio/pcm;rate=16000"
	case 24000:
		return "audio/pcm;rate=24000"
	default:
		return "audio/pcm"
	}
}

func buildActivityStartMessage() map[string]any {
	return map[string]any{
		"realtime_input": map[string]any{
			"activityStart": map[string]any{},
		},
	}
}

func buildActivityEndMessage() map[string]any {
	return map[string]any{
		"realtime_input": map[string]any{
			"activityEnd": map[string]any{},
		},
	}
}

// buildHistoryMessage replays prior conversation turns after a reconnect.
// turn_complete stays false so the replay does not trigger a response.
func buildHistoryMessage(turns []conversation.TurnContent) map[string]any {
	wireTurns := make([]map[string]any, len(turns))
	for i, turn := range turns {
		parts := make([]map[string]any, len(turn.Parts))
		for j, part := range turn.Parts {
			parts[j] = map[string]any{"text": part.Text}
		}
		wireTurns[i] = map[string]any{
			"role":  turn.Role,
			"parts": parts,
		}
	}
	return map[string]any{
		"client_content": map[string]any{
			"turns":         wireTurns,
			"turn_complete": false,
		},
	}
}

// buildToolResponseMessage returns the result of one function call.
// Per docs: toolResponse.functionResponses[].{id, name, response}.
func buildToolResponseMessage(id, name string, response map[string]any) map[string]any {
	funcResp := map[string]any{
		"name":     name,
		"response": response,
	}
	if id != "" {
		funcResp["id"] = id
	}
	return map[string]any{
		"toolResponse": map[string]any{
			"functionResponses": []map[string]any{funcResp},
		},
	}
}
