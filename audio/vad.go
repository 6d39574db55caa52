// Package audio provides voice-activity detection and PCM utilities for the
// bridge's local audio ingest path.
package audio

import (
	"time"

	"github.com/AltairaLabs/voicebridge/types"
)

// Default VAD parameter values. StopSecs matches the endpointing used by the
// upstream live API so local and remote turn boundaries stay aligned.
const (
	DefaultVADConfidence = 0.5
	DefaultVADStartSecs  = 0.2
	DefaultVADStopSecs   = 0.5
	DefaultVADMinVolume  = 0.01
	DefaultVADSampleRate = 16000
)

const unknownState = "unknown"

// VADState represents the current voice activity state.
type VADState int

const (
	// VADStateQuiet indicates no voice activity detected.
	VADStateQuiet VADState = iota
	// VADStateStarting indicates voice is starting (within start threshold).
	VADStateStarting
	// VADStateSpeaking indicates active speech.
	VADStateSpeaking
	// VADStateStopping indicates voice is stopping (within stop threshold).
	VADStateStopping
)

// String returns a human-readable representation of the VAD state.
func (s VADState) String() string {
	switch s {
	case VADStateQuiet:
		return "quiet"
	case VADStateStarting:
		return "starting"
	case VADStateSpeaking:
		return "speaking"
	case VADStateStopping:
		return "stopping"
	default:
		return unknownState
	}
}

// Speaking reports whether the state counts as an active speech turn.
func (s VADState) Speaking() bool {
	return s == VADStateSpeaking || s == VADStateStopping
}

// VADParams configures voice activity detection behavior.
type VADParams struct {
	// Confidence threshold for voice detection (0.0-1.0, default: 0.5).
	Confidence float64

	// StartSecs is seconds of speech required to enter VADStateSpeaking
	// (default: 0.2). Prevents false starts from brief noise.
	StartSecs float64

	// StopSecs is seconds of trailing silence required to end the turn
	// (default: 0.5). Allows natural pauses without ending the turn.
	StopSecs float64

	// MinVolume is the minimum RMS volume threshold (default: 0.01).
	// Audio below this is treated as silence.
	MinVolume float64

	// SampleRate is the expected audio sample rate in Hz (default: 16000).
	// Chunks arriving at any other rate are rejected.
	SampleRate int
}

// DefaultVADParams returns sensible defaults for voice activity detection.
func DefaultVADParams() VADParams {
	return VADParams{
		Confidence: DefaultVADConfidence,
		StartSecs:  DefaultVADStartSecs,
		StopSecs:   DefaultVADStopSecs,
		MinVolume:  DefaultVADMinVolume,
		SampleRate: DefaultVADSampleRate,
	}
}

// Validate checks that VAD parameters are within acceptable ranges.
func (p VADParams) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return &ValidationError{Field: "Confidence", Message: "must be between 0.0 and 1.0"}
	}
	if p.StartSecs < 0 {
		return &ValidationError{Field: "StartSecs", Message: "must be non-negative"}
	}
	if p.StopSecs < 0 {
		return &ValidationError{Field: "StopSecs", Message: "must be non-negative"}
	}
	if p.MinVolume < 0 || p.MinVolume > 1 {
		return &ValidationError{Field: "MinVolume", Message: "must be between 0.0 and 1.0"}
	}
	if p.SampleRate <= 0 {
		return &ValidationError{Field: "SampleRate", Message: "must be positive"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// VADEvent records a state transition.
type VADEvent struct {
	State      VADState
	PrevState  VADState
	Offset     time.Duration // Stream position at the transition
	Confidence float64       // Voice confidence at the transition
}

// Analyzer gatekeeps the local audio ingest path. It classifies each chunk
// as speech or silence and emits TurnStart/TurnEnd frames at the
// transitions. The state clock advances by accumulated audio duration, not
// wall time, so an identical chunk sequence always produces identical
// frames.
type Analyzer interface {
	// Name returns the analyzer identifier.
	Name() string

	// Process consumes one audio chunk and returns zero or more frames:
	// a TurnStart when speech begins, a TurnEnd when it ends, or a
	// ControlError for a malformed chunk (which does not advance state).
	Process(chunk types.AudioChunk) ([]types.Frame, error)

	// State returns the current VAD state.
	State() VADState

	// Events returns transitions recorded since the last call, oldest first.
	Events() []VADEvent

	// Reset clears accumulated state for a new conversation.
	Reset()
}
