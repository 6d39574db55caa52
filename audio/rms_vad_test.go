package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/AltairaLabs/voicebridge/types"
)

// pcmChunk builds a mono PCM16 chunk of the given duration where every
// sample has the given amplitude.
func pcmChunk(amplitude int16, d time.Duration, rate int) types.AudioChunk {
	samples := int(d.Seconds() * float64(rate))
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude)) //nolint:gosec // PCM16 encoding
	}
	return types.AudioChunk{Data: data, SampleRate: rate, Channels: 1}
}

func loudChunk(d time.Duration) types.AudioChunk {
	return pcmChunk(20000, d, DefaultVADSampleRate)
}

func quietChunk(d time.Duration) types.AudioChunk {
	return pcmChunk(0, d, DefaultVADSampleRate)
}

func process(t *testing.T, v *RMSVAD, chunks ...types.AudioChunk) []types.Frame {
	t.Helper()
	var frames []types.Frame
	for _, c := range chunks {
		out, err := v.Process(c)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		frames = append(frames, out...)
	}
	return frames
}

func TestRMSVAD_SilenceEmitsNothing(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	var frames []types.Frame
	for i := 0; i < 50; i++ {
		frames = append(frames, process(t, v, quietChunk(100*time.Millisecond))...)
	}

	if len(frames) != 0 {
		t.Errorf("silence produced %d frames, want 0", len(frames))
	}
	if v.State() != VADStateQuiet {
		t.Errorf("state = %v, want quiet", v.State())
	}
}

func TestRMSVAD_SpeechThenSilence(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	// Sustained speech beyond StartSecs, then silence beyond StopSecs.
	var frames []types.Frame
	for i := 0; i < 10; i++ {
		frames = append(frames, process(t, v, loudChunk(100*time.Millisecond))...)
	}
	for i := 0; i < 10; i++ {
		frames = append(frames, process(t, v, quietChunk(100*time.Millisecond))...)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want exactly TurnStart then TurnEnd", len(frames))
	}
	if frames[0].Kind() != types.KindTurnStart {
		t.Errorf("frames[0] = %v, want turn_start", frames[0].Kind())
	}
	if frames[1].Kind() != types.KindTurnEnd {
		t.Errorf("frames[1] = %v, want turn_end", frames[1].Kind())
	}
}

func TestRMSVAD_BriefNoiseIsDebounced(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	// 100ms of noise is below the 200ms start threshold.
	frames := process(t, v,
		loudChunk(100*time.Millisecond),
		quietChunk(100*time.Millisecond),
		quietChunk(time.Second),
	)

	if len(frames) != 0 {
		t.Errorf("brief noise produced %d frames, want 0", len(frames))
	}
}

func TestRMSVAD_PauseShorterThanStopSecsKeepsTurnOpen(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	frames := process(t, v,
		loudChunk(400*time.Millisecond),  // enter speaking
		quietChunk(300*time.Millisecond), // pause < StopSecs
		loudChunk(400*time.Millisecond),  // resume
	)

	if len(frames) != 1 || frames[0].Kind() != types.KindTurnStart {
		t.Fatalf("got %v, want a single TurnStart with the turn still open", frames)
	}
	if !v.State().Speaking() {
		t.Errorf("state = %v, want speaking", v.State())
	}

	// Now a real trailing silence closes the turn exactly once.
	frames = process(t, v, quietChunk(time.Second))
	if len(frames) != 1 || frames[0].Kind() != types.KindTurnEnd {
		t.Fatalf("got %v, want a single TurnEnd", frames)
	}
}

func TestRMSVAD_Deterministic(t *testing.T) {
	run := func() []types.Frame {
		v, err := NewRMSVAD(DefaultVADParams())
		if err != nil {
			t.Fatalf("NewRMSVAD() error = %v", err)
		}
		return process(t, v,
			quietChunk(200*time.Millisecond),
			loudChunk(300*time.Millisecond),
			quietChunk(700*time.Millisecond),
			loudChunk(300*time.Millisecond),
			quietChunk(700*time.Millisecond),
		)
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("two identical runs produced %d and %d frames", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind() != b[i].Kind() {
			t.Errorf("frame %d differs: %v vs %v", i, a[i].Kind(), b[i].Kind())
		}
	}
}

func TestRMSVAD_RejectsWrongFormat(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	tests := []struct {
		name  string
		chunk types.AudioChunk
	}{
		{
			name:  "wrong sample rate",
			chunk: pcmChunk(20000, 100*time.Millisecond, 44100),
		},
		{
			name:  "stereo",
			chunk: types.AudioChunk{Data: make([]byte, 640), SampleRate: DefaultVADSampleRate, Channels: 2},
		},
		{
			name:  "truncated sample",
			chunk: types.AudioChunk{Data: make([]byte, 321), SampleRate: DefaultVADSampleRate, Channels: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := v.Process(tt.chunk)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1 control error", len(frames))
			}
			ce, ok := frames[0].(types.ControlError)
			if !ok {
				t.Fatalf("frame is %T, want ControlError", frames[0])
			}
			if ce.ErrKind != types.ErrorInvalidAudioFormat {
				t.Errorf("kind = %v, want invalid_audio_format", ce.ErrKind)
			}
			if v.State() != VADStateQuiet {
				t.Errorf("bad chunk advanced state to %v", v.State())
			}
		})
	}
}

func TestRMSVAD_EventsDrain(t *testing.T) {
	v, err := NewRMSVAD(DefaultVADParams())
	if err != nil {
		t.Fatalf("NewRMSVAD() error = %v", err)
	}

	process(t, v, loudChunk(400*time.Millisecond))
	events := v.Events()
	if len(events) == 0 {
		t.Fatal("expected transition events after speech onset")
	}
	if got := v.Events(); len(got) != 0 {
		t.Errorf("second Events() call returned %d events, want 0", len(got))
	}
}

func TestVADParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*VADParams)
		wantErr bool
	}{
		{"defaults", func(*VADParams) {}, false},
		{"confidence too low", func(p *VADParams) { p.Confidence = -0.1 }, true},
		{"confidence too high", func(p *VADParams) { p.Confidence = 1.5 }, true},
		{"negative start secs", func(p *VADParams) { p.StartSecs = -1 }, true},
		{"negative stop secs", func(p *VADParams) { p.StopSecs = -1 }, true},
		{"bad min volume", func(p *VADParams) { p.MinVolume = 2 }, true},
		{"zero sample rate", func(p *VADParams) { p.SampleRate = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultVADParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVADState_String(t *testing.T) {
	tests := []struct {
		state VADState
		want  string
	}{
		{VADStateQuiet, "quiet"},
		{VADStateStarting, "starting"},
		{VADStateSpeaking, "speaking"},
		{VADStateStopping, "stopping"},
		{VADState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("VADState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
