// Package types defines the frame and message models shared by every part
// of the bridge. Frames are the typed, immutable units of data moving
// through the pipeline; messages form the conversation history.
package types

import (
	"encoding/json"
	"time"
)

// FrameKind identifies the variant of a Frame.
type FrameKind int

const (
	// KindAudioChunk is a chunk of raw PCM audio.
	KindAudioChunk FrameKind = iota
	// KindTurnStart marks the beginning of a speech turn.
	KindTurnStart
	// KindTurnEnd marks the end of a speech turn.
	KindTurnEnd
	// KindTextDelta is an incremental piece of text.
	KindTextDelta
	// KindToolCallRequest is a model request to invoke a named tool.
	KindToolCallRequest
	// KindToolCallResult is the outcome of a tool invocation.
	KindToolCallResult
	// KindControlError is an in-band error or warning signal.
	KindControlError
)

// String returns a human-readable representation of the frame kind.
func (k FrameKind) String() string {
	switch k {
	case KindAudioChunk:
		return "audio_chunk"
	case KindTurnStart:
		return "turn_start"
	case KindTurnEnd:
		return "turn_end"
	case KindTextDelta:
		return "text_delta"
	case KindToolCallRequest:
		return "tool_call_request"
	case KindToolCallResult:
		return "tool_call_result"
	case KindControlError:
		return "control_error"
	default:
		return "unknown"
	}
}

// Frame is one unit of data flowing through the pipeline. Implementations
// are value types and must not be mutated after creation; ordering within
// one direction (local→remote or remote→local) is significant.
type Frame interface {
	Kind() FrameKind
}

// AudioChunk carries raw little-endian PCM16 audio samples.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// Kind implements Frame.
func (AudioChunk) Kind() FrameKind { return KindAudioChunk }

// Duration returns the playback duration of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.Data) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// TurnStart marks the start of a contiguous span of speech from one party.
type TurnStart struct{}

// Kind implements Frame.
func (TurnStart) Kind() FrameKind { return KindTurnStart }

// TurnEnd marks the end of a speech turn.
type TurnEnd struct{}

// Kind implements Frame.
func (TurnEnd) Kind() FrameKind { return KindTurnEnd }

// TextDelta is an incremental piece of transcript or model text.
// Final marks the last delta of a logical unit of text.
type TextDelta struct {
	Text  string
	Final bool
}

// Kind implements Frame.
func (TextDelta) Kind() FrameKind { return KindTextDelta }

// ToolCallRequest asks for a named tool to be executed with JSON arguments.
type ToolCallRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Kind implements Frame.
func (ToolCallRequest) Kind() FrameKind { return KindToolCallRequest }

// ToolCallResult is the outcome of executing a tool call. Err is empty on
// success; when set, Result may still carry structured error details.
type ToolCallResult struct {
	ID     string
	Name   string
	Result json.RawMessage
	Err    string
}

// Kind implements Frame.
func (ToolCallResult) Kind() FrameKind { return KindToolCallResult }

// IsError reports whether the tool execution failed.
func (r ToolCallResult) IsError() bool { return r.Err != "" }

// ErrorKind classifies in-band control errors. The values mirror the
// bridge's error taxonomy and are stable wire identifiers.
type ErrorKind string

const (
	// ErrorAuth means the remote rejected our credentials. Fatal to session open.
	ErrorAuth ErrorKind = "auth_error"
	// ErrorHandshake means the remote's initial response was malformed. Fatal to session open.
	ErrorHandshake ErrorKind = "handshake_error"
	// ErrorInvalidAudioFormat means an audio chunk had the wrong shape and was dropped.
	ErrorInvalidAudioFormat ErrorKind = "invalid_audio_format"
	// ErrorSessionLost means the remote connection dropped and could not be recovered.
	ErrorSessionLost ErrorKind = "session_lost"
	// ErrorBackpressure means buffered audio was dropped because the remote could not keep up.
	ErrorBackpressure ErrorKind = "backpressure"
	// ErrorToolTimeout means a tool execution exceeded its deadline.
	ErrorToolTimeout ErrorKind = "tool_timeout"
	// ErrorToolExecution means a tool handler returned an error.
	ErrorToolExecution ErrorKind = "tool_error"
	// ErrorProtocolViolation means a peer sent data that violates the protocol contract.
	ErrorProtocolViolation ErrorKind = "protocol_violation"
)

// Fatal reports whether this error kind terminates a session.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorAuth, ErrorHandshake, ErrorSessionLost:
		return true
	default:
		return false
	}
}

// ControlError is an in-band error or warning signal.
type ControlError struct {
	ErrKind ErrorKind
	Message string
}

// Kind implements Frame.
func (ControlError) Kind() FrameKind { return KindControlError }
