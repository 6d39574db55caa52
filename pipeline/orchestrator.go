// Package pipeline wires one local endpoint, one remote live session, the
// VAD, the conversation context, and the tool dispatcher into a single
// per-session event loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/voicebridge/audio"
	"github.com/AltairaLabs/voicebridge/conversation"
	"github.com/AltairaLabs/voicebridge/gemini"
	"github.com/AltairaLabs/voicebridge/logger"
	metrics "github.com/AltairaLabs/voicebridge/metrics/prometheus"
	"github.com/AltairaLabs/voicebridge/tools"
	"github.com/AltairaLabs/voicebridge/transport"
	"github.com/AltairaLabs/voicebridge/types"
)

// State is the lifecycle of one bridge session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RemoteSession is the capability surface the orchestrator needs from the
// live connection. *gemini.LiveSession satisfies it.
type RemoteSession interface {
	Frames() <-chan types.Frame
	SendAudio(types.AudioChunk) error
	StartTurn() error
	CompleteTurn() error
	SendToolResult(types.ToolCallResult) error
	Close() error
}

var _ RemoteSession = (*gemini.LiveSession)(nil)

// Config assembles the pieces of one session.
type Config struct {
	Endpoint   transport.Endpoint
	Remote     RemoteSession
	VAD        audio.Analyzer
	Dispatcher *tools.Dispatcher

	// Conversation is created fresh when nil.
	Conversation *conversation.Context

	SessionID string
	Logger    *slog.Logger
}

// Orchestrator runs one session. All conversation state and turn bookkeeping
// is owned by the Run loop; the only cross-goroutine entry points are
// NoteUserTranscript and State.
type Orchestrator struct {
	cfg  Config
	log  *slog.Logger
	conv *conversation.Context

	state atomic.Int32

	toolResults chan types.ToolCallResult
	transcripts chan string

	// Turn bookkeeping, touched only inside Run.
	modelStreaming bool
	dropModelTurn  bool
	toolStarted    map[string]time.Time

	done chan struct{}
}

// New validates the wiring and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("pipeline: endpoint is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("pipeline: remote session is required")
	}
	if cfg.VAD == nil {
		return nil, errors.New("pipeline: vad analyzer is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("pipeline: tool dispatcher is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Session(cfg.SessionID)
	}
	conv := cfg.Conversation
	if conv == nil {
		conv = conversation.New()
	}
	o := &Orchestrator{
		cfg:         cfg,
		log:         cfg.Logger,
		conv:        conv,
		toolResults: make(chan types.ToolCallResult, 8),
		transcripts: make(chan string, 16),
		toolStarted: make(map[string]time.Time),
		done:        make(chan struct{}),
	}
	o.state.Store(int32(StateConnecting))
	return o, nil
}

// State is safe to call from any goroutine.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Done closes when the session has fully stopped.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Conversation returns the session's conversation context. Reads while the
// session is running must go through Snapshot.
func (o *Orchestrator) Conversation() *conversation.Context { return o.conv }

// NoteUserTranscript records recognized caller speech. Safe from any
// goroutine; the text is appended to the conversation inside the event loop.
func (o *Orchestrator) NoteUserTranscript(text string) {
	select {
	case o.transcripts <- text:
	case <-o.done:
	default:
		o.log.Warn("dropping user transcript, queue full")
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.log.Debug("session state changed", "state", s.String())
}

// Run drives the session until the caller disconnects, the remote is lost,
// the model ends the call, or ctx is canceled. It returns the fatal cause,
// or nil for a clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	started := time.Now()
	metrics.RecordSessionStart()
	defer func() {
		o.teardown()
		metrics.RecordSessionEnd(time.Since(started), err)
	}()

	o.setState(StateActive)
	o.log.Info("session started")

	for {
		select {
		case frame, ok := <-o.cfg.Endpoint.Frames():
			if !ok {
				o.log.Info("local endpoint disconnected")
				return nil
			}
			o.handleLocalFrame(frame)

		case frame, ok := <-o.cfg.Remote.Frames():
			if !ok {
				o.log.Info("remote session ended")
				return nil
			}
			if fatal := o.handleRemoteFrame(frame); fatal != nil {
				return fatal
			}

		case res := <-o.toolResults:
			if o.handleToolResult(res) {
				o.log.Info("call ended by model")
				return nil
			}

		case text := <-o.transcripts:
			o.conv.AppendUserText(text)

		case <-ctx.Done():
			o.log.Info("session canceled")
			return nil
		}
	}
}

func (o *Orchestrator) teardown() {
	o.setState(StateClosing)
	if err := o.cfg.Remote.Close(); err != nil {
		o.log.Debug("closing remote session", "error", err)
	}
	if err := o.cfg.Endpoint.Close(); err != nil {
		o.log.Debug("closing local endpoint", "error", err)
	}
	o.setState(StateClosed)
	close(o.done)
	o.log.Info("session closed")
}

// handleLocalFrame processes one frame from the caller side.
func (o *Orchestrator) handleLocalFrame(frame types.Frame) {
	metrics.RecordFrame(metrics.DirectionInbound, frame.Kind().String())

	chunk, ok := frame.(types.AudioChunk)
	if !ok {
		o.log.Warn("unexpected frame kind from local endpoint", "kind", frame.Kind().String())
		o.sendLocal(types.ControlError{
			ErrKind: types.ErrorProtocolViolation,
			Message: fmt.Sprintf("unexpected frame kind %s", frame.Kind()),
		})
		return
	}
	metrics.RecordAudioBytes(metrics.DirectionInbound, len(chunk.Data))

	events, err := o.cfg.VAD.Process(chunk)
	if err != nil {
		o.log.Warn("rejected audio chunk", "error", err)
		o.sendLocal(types.ControlError{
			ErrKind: types.ErrorInvalidAudioFormat,
			Message: err.Error(),
		})
		return
	}

	for _, event := range events {
		switch event.Kind() {
		case types.KindTurnStart:
			o.onTurnStart()
		case types.KindTurnEnd:
			o.onTurnEnd()
		}
	}

	if o.cfg.VAD.State().Speaking() {
		o.forwardAudio(chunk)
	}
}

func (o *Orchestrator) forwardAudio(chunk types.AudioChunk) {
	err := o.cfg.Remote.SendAudio(chunk)
	switch {
	case errors.Is(err, gemini.ErrBackpressure):
		metrics.RecordBackpressureDrop()
		o.sendLocal(types.ControlError{
			ErrKind: types.ErrorBackpressure,
			Message: "remote could not keep up, dropped buffered audio",
		})
	case err != nil:
		o.log.Warn("forwarding audio failed", "error", err)
	}
}

// onTurnStart opens a caller turn. Caller speech while the model is still
// streaming is a barge-in: in-flight model audio is dropped for the rest of
// that model turn and local playback is told to stop.
func (o *Orchestrator) onTurnStart() {
	metrics.RecordTurn()
	o.log.Debug("caller turn started")

	if o.modelStreaming {
		metrics.RecordBargeIn()
		o.log.Debug("barge-in, truncating model turn")
		o.dropModelTurn = true
		o.conv.FinalizePartial()
		o.modelStreaming = false
		o.sendLocal(types.TurnEnd{})
	}

	if err := o.cfg.Remote.StartTurn(); err != nil {
		o.log.Warn("signaling turn start failed", "error", err)
	}
}

func (o *Orchestrator) onTurnEnd() {
	o.log.Debug("caller turn ended")
	if err := o.cfg.Remote.CompleteTurn(); err != nil {
		o.log.Warn("signaling turn end failed", "error", err)
	}
}

// handleRemoteFrame processes one frame from the live session. A non-nil
// return ends the session.
func (o *Orchestrator) handleRemoteFrame(frame types.Frame) error {
	metrics.RecordFrame(metrics.DirectionOutbound, frame.Kind().String())

	switch f := frame.(type) {
	case types.AudioChunk:
		if o.dropModelTurn {
			return nil
		}
		o.modelStreaming = true
		metrics.RecordAudioBytes(metrics.DirectionOutbound, len(f.Data))
		o.sendLocal(f)

	case types.TextDelta:
		if f.Final {
			o.conv.FinalizePartial()
			o.modelStreaming = false
			o.dropModelTurn = false
			o.sendLocal(f)
			return nil
		}
		o.conv.ExtendPartial(f.Text)
		if !o.dropModelTurn {
			o.modelStreaming = true
			o.sendLocal(f)
		}

	case types.ToolCallRequest:
		o.dispatchToolCall(f)

	case types.ControlError:
		o.sendLocal(f)
		if f.ErrKind.Fatal() {
			return fmt.Errorf("remote session failed: %s: %s", f.ErrKind, f.Message)
		}

	default:
		o.log.Warn("unexpected frame kind from remote session", "kind", frame.Kind().String())
	}
	return nil
}

func (o *Orchestrator) dispatchToolCall(req types.ToolCallRequest) {
	o.log.Info("dispatching tool call", "tool", req.Name, "call_id", req.ID)
	o.conv.PushToolCall(req)
	o.toolStarted[req.ID] = time.Now()
	o.sendLocal(req)

	ch := o.cfg.Dispatcher.Dispatch(context.Background(), req)
	go func() {
		select {
		case res := <-ch:
			select {
			case o.toolResults <- res:
			case <-o.done:
			}
		case <-o.done:
		}
	}()
}

// handleToolResult records, forwards, and returns whether the session should
// end because the model hung up.
func (o *Orchestrator) handleToolResult(res types.ToolCallResult) bool {
	if started, ok := o.toolStarted[res.ID]; ok {
		metrics.RecordToolCall(res.Name, time.Since(started), res.IsError())
		delete(o.toolStarted, res.ID)
	}

	if err := o.conv.ResolveToolCall(res); err != nil {
		o.log.Warn("tool result did not match a pending call", "call_id", res.ID, "error", err)
	}

	if err := o.cfg.Remote.SendToolResult(res); err != nil {
		o.log.Warn("returning tool result to remote failed", "call_id", res.ID, "error", err)
	}
	o.sendLocal(res)

	return tools.IsEndCall(res)
}

func (o *Orchestrator) sendLocal(frame types.Frame) {
	if err := o.cfg.Endpoint.Send(frame); err != nil {
		o.log.Debug("sending frame to local endpoint failed", "kind", frame.Kind().String(), "error", err)
	}
}
