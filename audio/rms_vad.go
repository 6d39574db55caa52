package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/AltairaLabs/voicebridge/types"
)

const (
	// defaultSmoothingAlpha is the exponential smoothing factor (0.0-1.0).
	defaultSmoothingAlpha = 0.3
	// pcmBytesPerSample is the number of bytes per 16-bit PCM sample.
	pcmBytesPerSample = 2
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
	// maxExpectedRMS is the expected maximum RMS for voice audio.
	maxExpectedRMS = 0.5
	// windowsPerSecond sets the 20ms analysis window used for smoothing.
	windowsPerSecond = 50
)

// RMSVAD is a voice activity detector using RMS (Root Mean Square) energy
// analysis over PCM16 audio. It is a lightweight detector that needs no
// external model; its four-state machine debounces both speech onset and
// trailing silence before emitting turn boundary frames.
type RMSVAD struct {
	params VADParams

	mu       sync.Mutex
	state    VADState
	elapsed  time.Duration // Total audio consumed
	stateAt  time.Duration // Stream position when the current state began
	turnOpen bool          // TurnStart emitted, TurnEnd pending
	events   []VADEvent
	smoothed float64
	alpha    float64
}

// NewRMSVAD creates an RMSVAD analyzer with the given parameters.
func NewRMSVAD(params VADParams) (*RMSVAD, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &RMSVAD{
		params: params,
		state:  VADStateQuiet,
		alpha:  defaultSmoothingAlpha,
	}, nil
}

// Name returns the analyzer identifier.
func (v *RMSVAD) Name() string {
	return "rms"
}

// Process consumes one audio chunk and emits turn boundary frames.
// A chunk with the wrong sample rate or a truncated sample is rejected with
// a ControlError frame and does not advance the state machine.
func (v *RMSVAD) Process(chunk types.AudioChunk) ([]types.Frame, error) {
	if err := v.checkFormat(chunk); err != nil {
		return []types.Frame{types.ControlError{
			ErrKind: types.ErrorInvalidAudioFormat,
			Message: err.Error(),
		}}, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// Analysis runs over fixed windows so detection does not depend on how
	// the transport happened to chunk the stream.
	windowBytes := v.params.SampleRate / windowsPerSecond * pcmBytesPerSample
	if windowBytes == 0 {
		windowBytes = pcmBytesPerSample
	}

	var frames []types.Frame
	for off := 0; off < len(chunk.Data); off += windowBytes {
		end := off + windowBytes
		if end > len(chunk.Data) {
			end = len(chunk.Data)
		}
		frames = append(frames, v.analyzeWindow(chunk.Data[off:end])...)
	}

	return frames, nil
}

// analyzeWindow smooths one window's RMS, advances the stream clock, and
// applies any state transitions. Caller holds v.mu.
func (v *RMSVAD) analyzeWindow(window []byte) []types.Frame {
	rms := calculateRMS(window)
	v.smoothed = v.alpha*rms + (1-v.alpha)*v.smoothed
	probability := v.probability(v.smoothed)

	samples := len(window) / pcmBytesPerSample
	v.elapsed += time.Duration(samples) * time.Second / time.Duration(v.params.SampleRate)

	var frames []types.Frame
	// A single window can carry the machine through an intermediate state
	// when the debounce thresholds are zero, so transitions are applied
	// until the state settles.
	for {
		next := v.nextState(probability)
		if next == v.state {
			break
		}
		v.events = append(v.events, VADEvent{
			State:      next,
			PrevState:  v.state,
			Offset:     v.elapsed,
			Confidence: probability,
		})
		v.state = next
		v.stateAt = v.elapsed

		switch {
		case next == VADStateSpeaking && !v.turnOpen:
			v.turnOpen = true
			frames = append(frames, types.TurnStart{})
		case next == VADStateQuiet && v.turnOpen:
			v.turnOpen = false
			frames = append(frames, types.TurnEnd{})
		}
	}

	return frames
}

// checkFormat validates the shape of an incoming chunk.
func (v *RMSVAD) checkFormat(chunk types.AudioChunk) error {
	if chunk.SampleRate != v.params.SampleRate {
		return fmt.Errorf("sample rate %d, expected %d", chunk.SampleRate, v.params.SampleRate)
	}
	if chunk.Channels != 1 {
		return fmt.Errorf("%d channels, expected mono", chunk.Channels)
	}
	if len(chunk.Data)%pcmBytesPerSample != 0 {
		return fmt.Errorf("chunk length %d is not a whole number of PCM16 samples", len(chunk.Data))
	}
	return nil
}

// calculateRMS computes the Root Mean Square of 16-bit little-endian PCM samples.
func calculateRMS(audio []byte) float64 {
	numSamples := len(audio) / pcmBytesPerSample
	if numSamples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		// #nosec G115 -- overflow is intentional for signed PCM conversion
		sample := int16(binary.LittleEndian.Uint16(audio[i*pcmBytesPerSample:]))
		normalized := float64(sample) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}

// probability converts a smoothed RMS value to a voice probability.
func (v *RMSVAD) probability(rms float64) float64 {
	if rms <= v.params.MinVolume {
		return 0
	}

	p := (rms - v.params.MinVolume) / (maxExpectedRMS - v.params.MinVolume)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// nextState determines the next state from the current state, voice
// probability, and time spent in the current state.
func (v *RMSVAD) nextState(probability float64) VADState {
	aboveThreshold := probability >= v.params.Confidence
	stateDuration := (v.elapsed - v.stateAt).Seconds()

	switch v.state {
	case VADStateQuiet:
		if aboveThreshold {
			return VADStateStarting
		}
	case VADStateStarting:
		if !aboveThreshold {
			return VADStateQuiet
		}
		if stateDuration >= v.params.StartSecs {
			return VADStateSpeaking
		}
	case VADStateSpeaking:
		if !aboveThreshold {
			return VADStateStopping
		}
	case VADStateStopping:
		if aboveThreshold {
			return VADStateSpeaking
		}
		if stateDuration >= v.params.StopSecs {
			return VADStateQuiet
		}
	}
	return v.state
}

// State returns the current VAD state.
func (v *RMSVAD) State() VADState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Events returns transitions recorded since the last call, oldest first.
func (v *RMSVAD) Events() []VADEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.events
	v.events = nil
	return out
}

// Reset clears accumulated state for a new conversation.
func (v *RMSVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state = VADStateQuiet
	v.elapsed = 0
	v.stateAt = 0
	v.turnOpen = false
	v.events = nil
	v.smoothed = 0
}
