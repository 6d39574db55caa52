package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AltairaLabs/voicebridge/audio"
	"github.com/AltairaLabs/voicebridge/conversation"
	"github.com/AltairaLabs/voicebridge/logger"
	metrics "github.com/AltairaLabs/voicebridge/metrics/prometheus"
	"github.com/AltairaLabs/voicebridge/types"
)

const (
	// defaultLiveURL is the Gemini Live bidirectional streaming endpoint.
	// The API key goes in the x-goog-api-key header, not the query string.
	defaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// vertexLiveURLFormat is the regional Vertex AI flavor of the same
	// service, parameterized by location.
	vertexLiveURLFormat = "wss://%s-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"

	defaultModel = "gemini-2.0-flash-exp"
	defaultVoice = "Puck"

	setupTimeout         = 15 * time.Second
	defaultSendQueueSize = 32
	defaultSendGrace     = 100 * time.Millisecond
	frameChannelSize     = 64

	// inputSampleRate is what the live API accepts; outputSampleRate is
	// what it produces.
	inputSampleRate  = 16000
	outputSampleRate = 24000
)

// Credentials selects the endpoint and auth for a live session.
// Exactly one of APIKey or AccessToken must be set.
type Credentials struct {
	APIKey      string
	AccessToken string
	// Endpoint overrides the computed live URL, mainly for tests.
	Endpoint string
	// Project and Location route the session through the regional Vertex
	// AI endpoint instead of the Gemini developer API. Both must be set
	// together.
	Project  string
	Location string
}

func (c Credentials) validate() error {
	if c.APIKey == "" && c.AccessToken == "" {
		return &AuthError{Reason: "no API key or access token configured"}
	}
	if (c.Project == "") != (c.Location == "") {
		return &AuthError{Reason: "project and location must be set together"}
	}
	return nil
}

func (c Credentials) vertex() bool {
	return c.Project != "" && c.Location != ""
}

func (c Credentials) url() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if c.vertex() {
		return fmt.Sprintf(vertexLiveURLFormat, c.Location)
	}
	return defaultLiveURL
}

func (c Credentials) headers() http.Header {
	h := http.Header{}
	if c.APIKey != "" {
		h.Set("x-goog-api-key", c.APIKey)
	} else if c.AccessToken != "" {
		h.Set("Authorization", "Bearer "+c.AccessToken)
	}
	return h
}

// ModelConfig shapes the setup message for a live session.
type ModelConfig struct {
	Model             string
	SystemInstruction string
	Voice             string
	// TextOnly requests TEXT response modality instead of AUDIO.
	TextOnly bool
	// ServerVAD leaves endpointing to the remote side. When false (the
	// default) the session disables automatic activity detection and turn
	// boundaries come from StartTurn and CompleteTurn.
	ServerVAD bool
	Tools     []FunctionDeclaration
}

func (c *ModelConfig) responseModality() string {
	if c.TextOnly {
		return "TEXT"
	}
	return "AUDIO"
}

func (c *ModelConfig) audioOutput() bool { return !c.TextOnly }

// HistorySource supplies the conversation turns to replay after a reconnect.
// It is called at reconnect time so the replay reflects the latest state.
type HistorySource func() []conversation.TurnContent

// SessionConfig carries everything needed to open a live session.
type SessionConfig struct {
	Credentials Credentials
	Model       ModelConfig

	// History is consulted on reconnect. Optional.
	History HistorySource

	// OnInputTranscription receives user speech transcripts as the remote
	// recognizes them. Optional.
	OnInputTranscription func(text string)

	// QueueBound caps the outbound audio queue; SendGrace is how long
	// SendAudio blocks on a full queue before dropping the oldest chunk.
	QueueBound int
	SendGrace  time.Duration

	Logger *slog.Logger
}

func (c *SessionConfig) applyDefaults() {
	if c.QueueBound <= 0 {
		c.QueueBound = defaultSendQueueSize
	}
	if c.SendGrace <= 0 {
		c.SendGrace = defaultSendGrace
	}
	if c.Logger == nil {
		c.Logger = logger.DefaultLogger
	}
}

// LiveSession is one bidirectional streaming session with the Gemini Live
// API. Frames from the remote arrive on Frames; audio goes out through a
// bounded queue with drop-oldest overflow. A dropped connection is redialed
// once with the conversation history replayed; a second consecutive drop
// ends the session with a session_lost control frame.
type LiveSession struct {
	cfg SessionConfig
	log *slog.Logger

	frames chan types.Frame
	sendQ  chan []byte

	mu   sync.Mutex
	sock *socket

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// Open dials the live endpoint, performs the setup handshake, and starts the
// send and receive loops. Credential rejections surface as *AuthError and
// malformed handshakes as *HandshakeError; neither is retried.
func Open(ctx context.Context, cfg SessionConfig) (*LiveSession, error) {
	cfg.applyDefaults()
	if err := cfg.Credentials.validate(); err != nil {
		return nil, err
	}
	if cfg.Credentials.vertex() {
		cfg.Model.Model = vertexModelPath(cfg.Credentials.Project, cfg.Credentials.Location, cfg.Model.Model)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		cfg:    cfg,
		log:    cfg.Logger,
		frames: make(chan types.Frame, frameChannelSize),
		sendQ:  make(chan []byte, cfg.QueueBound),
		ctx:    sessionCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	sock, err := s.connect(ctx, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	s.sock = sock

	go s.writeLoop()
	go s.receiveLoop()
	return s, nil
}

// connect dials and completes the setup handshake on a fresh socket. A
// non-nil history is replayed before the socket is handed back, so the model
// regains context before any new audio arrives.
func (s *LiveSession) connect(ctx context.Context, history []conversation.TurnContent) (*socket, error) {
	sock, err := dialSocket(ctx, socketConfig{
		URL:     s.cfg.Credentials.url(),
		Headers: s.cfg.Credentials.headers(),
	})
	if err != nil {
		return nil, err
	}

	if err := sock.sendJSON(buildSetupMessage(&s.cfg.Model)); err != nil {
		sock.close()
		return nil, &HandshakeError{Reason: "sending setup message", Cause: err}
	}

	if err := s.awaitSetupComplete(ctx, sock); err != nil {
		sock.close()
		return nil, err
	}

	if len(history) > 0 {
		if err := sock.sendJSON(buildHistoryMessage(history)); err != nil {
			sock.close()
			return nil, &HandshakeError{Reason: "replaying conversation history", Cause: err}
		}
	}
	return sock, nil
}

func (s *LiveSession) awaitSetupComplete(ctx context.Context, sock *socket) error {
	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, err := sock.readMessage()
		resultCh <- readResult{data, err}
	}()

	timer := time.NewTimer(setupTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return &HandshakeError{Reason: "reading setup response", Cause: res.err}
		}
		var msg ServerMessage
		if err := json.Unmarshal(res.data, &msg); err != nil {
			return &HandshakeError{Reason: "decoding setup response", Cause: err}
		}
		if msg.SetupComplete == nil {
			return &HandshakeError{Reason: "setupComplete not received"}
		}
		return nil
	case <-timer.C:
		return &HandshakeError{Reason: "timed out waiting for setupComplete"}
	case <-ctx.Done():
		return &HandshakeError{Reason: "canceled waiting for setupComplete", Cause: ctx.Err()}
	}
}

// Frames delivers remote output. The channel closes when the session ends.
func (s *LiveSession) Frames() <-chan types.Frame { return s.frames }

// Done closes when the session has fully stopped.
func (s *LiveSession) Done() <-chan struct{} { return s.done }

// Err reports why the session ended, or nil after a clean Close.
func (s *LiveSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *LiveSession) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *LiveSession) currentSocket() *socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock
}

// SendAudio queues one chunk of caller audio. Input is resampled to 16 kHz
// mono PCM as the API requires. If the queue stays full past the configured
// grace period, the oldest queued chunk is discarded to make room and
// ErrBackpressure is returned; the new chunk is still delivered.
func (s *LiveSession) SendAudio(chunk types.AudioChunk) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	pcm := chunk.Data
	if chunk.SampleRate != inputSampleRate {
		var err error
		pcm, err = audio.ResamplePCM16(pcm, chunk.SampleRate, inputSampleRate)
		if err != nil {
			return fmt.Errorf("resampling input audio: %w", err)
		}
	}

	select {
	case s.sendQ <- pcm:
		return nil
	default:
	}

	timer := time.NewTimer(s.cfg.SendGrace)
	defer timer.Stop()
	select {
	case s.sendQ <- pcm:
		return nil
	case <-timer.C:
	case <-s.done:
		return ErrSessionClosed
	}

	// Still full after the grace period: shed the oldest chunk. The
	// enqueue blocks so the new chunk lands even when the write loop
	// drains the freed slot first.
	select {
	case <-s.sendQ:
	default:
	}
	select {
	case s.sendQ <- pcm:
	case <-s.done:
		return ErrSessionClosed
	}
	s.log.Warn("outbound audio queue full, dropped oldest chunk", "bound", s.cfg.QueueBound)
	return ErrBackpressure
}

// StartTurn signals the start of caller speech. With server VAD disabled
// this sends activityStart so the remote opens a user turn.
func (s *LiveSession) StartTurn() error {
	if s.cfg.Model.ServerVAD {
		return nil
	}
	return s.sendControl(buildActivityStartMessage())
}

// CompleteTurn signals the end of caller speech. Queued audio is given a
// short window to drain first so activityEnd does not overtake the tail of
// the utterance.
func (s *LiveSession) CompleteTurn() error {
	deadline := time.Now().Add(250 * time.Millisecond)
	for len(s.sendQ) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.cfg.Model.ServerVAD {
		// Without explicit activity signals a stretch of silence tells the
		// server VAD the turn is over.
		return s.sendControl(buildAudioMessage(audio.Silence(200*time.Millisecond, inputSampleRate), inputSampleRate))
	}
	return s.sendControl(buildActivityEndMessage())
}

// SendToolResult returns a function call result to the model.
func (s *LiveSession) SendToolResult(res types.ToolCallResult) error {
	var response map[string]any
	switch {
	case res.Err != "":
		response = map[string]any{"error": res.Err}
	case len(res.Result) > 0:
		if err := json.Unmarshal(res.Result, &response); err != nil {
			response = map[string]any{"output": string(res.Result)}
		}
	default:
		response = map[string]any{}
	}
	return s.sendControl(buildToolResponseMessage(res.ID, res.Name, response))
}

func (s *LiveSession) sendControl(msg map[string]any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	return s.currentSocket().sendJSON(msg)
}

// Close ends the session. Safe to call more than once.
func (s *LiveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.currentSocket().close()
	})
	return nil
}

func (s *LiveSession) writeLoop() {
	for {
		select {
		case pcm := <-s.sendQ:
			if err := s.currentSocket().sendJSON(buildAudioMessage(pcm, inputSampleRate)); err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				s.log.Debug("audio write failed, waiting for reconnect", "error", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) receiveLoop() {
	defer close(s.frames)
	defer s.Close()

	// reconnected is true between a successful redial and the first message
	// read on the new socket. A read failure in that window counts as the
	// second consecutive drop and ends the session.
	reconnected := false

	for {
		data, err := s.currentSocket().readMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if reconnected {
				s.endWithSessionLost(err)
				return
			}
			s.log.Warn("live connection dropped, attempting reconnect", "error", logger.RedactSensitiveData(err.Error()))
			if !s.reconnect(err) {
				return
			}
			reconnected = true
			continue
		}
		reconnected = false
		s.handleServerMessage(data)
	}
}

// reconnect redials once, replaying conversation history. Returns false when
// the session could not be recovered, after emitting session_lost.
func (s *LiveSession) reconnect(cause error) bool {
	var history []conversation.TurnContent
	if s.cfg.History != nil {
		history = s.cfg.History()
	}

	dialCtx, cancel := context.WithTimeout(s.ctx, setupTimeout)
	sock, err := s.connect(dialCtx, history)
	cancel()
	if err != nil {
		metrics.RecordReconnect(false)
		s.endWithSessionLost(fmt.Errorf("reconnect after %v: %w", cause, err))
		return false
	}
	metrics.RecordReconnect(true)

	s.mu.Lock()
	old := s.sock
	s.sock = sock
	s.mu.Unlock()
	old.close()

	s.log.Info("live session reconnected", "history_turns", len(history))
	return true
}

func (s *LiveSession) endWithSessionLost(err error) {
	lost := &SessionLostError{Cause: err}
	s.fail(lost)
	s.emit(types.ControlError{ErrKind: types.ErrorSessionLost, Message: lost.Error()})
	s.log.Error("live session lost", "error", logger.RedactSensitiveData(err.Error()))
}

func (s *LiveSession) emit(frame types.Frame) {
	select {
	case s.frames <- frame:
	case <-s.ctx.Done():
	}
}

func (s *LiveSession) handleServerMessage(data []byte) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("discarding undecodable server message", "error", err, "bytes", len(data))
		return
	}

	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			args := call.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			s.emit(types.ToolCallRequest{ID: call.ID, Name: call.Name, Args: args})
		}
	}

	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}

	if msg.UsageMetadata != nil {
		s.log.Debug("usage metadata",
			"prompt_tokens", msg.UsageMetadata.PromptTokenCount,
			"response_tokens", msg.UsageMetadata.ResponseTokenCount)
	}
}

func (s *LiveSession) handleServerContent(content *ServerContent) {
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		if s.cfg.OnInputTranscription != nil {
			s.cfg.OnInputTranscription(content.InputTranscription.Text)
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		s.emit(types.TextDelta{Text: content.OutputTranscription.Text})
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" {
				s.emit(types.TextDelta{Text: part.Text})
			}
			if part.InlineData.IsAudio() {
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					s.log.Warn("discarding undecodable audio part", "error", err)
					continue
				}
				s.emit(types.AudioChunk{
					Data:       pcm,
					SampleRate: outputSampleRate,
					Channels:   1,
					Timestamp:  time.Now(),
				})
			}
		}
	}

	// Both a completed turn and a barge-in interruption end the model's
	// current utterance; a final empty delta tells consumers to seal the
	// partial response.
	if content.TurnComplete || content.Interrupted {
		s.emit(types.TextDelta{Final: true})
	}
}
