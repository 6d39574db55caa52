// Command voicebridge runs the voice-agent bridge: it accepts local
// websocket clients speaking the frame protocol and relays their audio to a
// Gemini live session, streaming the model's speech, text, and tool calls
// back down the same connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/voicebridge/audio"
	"github.com/AltairaLabs/voicebridge/config"
	"github.com/AltairaLabs/voicebridge/conversation"
	"github.com/AltairaLabs/voicebridge/gemini"
	"github.com/AltairaLabs/voicebridge/logger"
	metrics "github.com/AltairaLabs/voicebridge/metrics/prometheus"
	"github.com/AltairaLabs/voicebridge/pipeline"
	"github.com/AltairaLabs/voicebridge/tools"
	"github.com/AltairaLabs/voicebridge/transport"
	"github.com/AltairaLabs/voicebridge/types"
	"github.com/AltairaLabs/voicebridge/version"
)

func main() {
	configPath := flag.String("config", "", "path to voicebridge.yaml (optional)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetVerbose(true)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("voicebridge exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger.Info("starting voicebridge", version.GetBuildInfo()...)

	registry := tools.NewRegistry()
	if err := tools.RegisterEndCall(registry); err != nil {
		return fmt.Errorf("registering built-in tools: %w", err)
	}

	bridge := &bridgeServer{
		cfg:        cfg,
		registry:   registry,
		dispatcher: tools.NewDispatcherWithTimeout(registry, cfg.Bridge.ToolTimeout()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge fronts trusted voice clients; origin policy is
			// left to the deployment's proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	// Fail fast on bad credentials or an unreachable model before accepting
	// any client.
	if err := bridge.preflight(); err != nil {
		return fmt.Errorf("preflight live session: %w", err)
	}
	logger.Info("preflight live session ok", "model", cfg.Gemini.Model)

	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter(cfg.Metrics.Addr)
		go func() {
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics exporter failed", "error", err)
			}
		}()
		logger.Info("metrics exporter listening", "addr", cfg.Metrics.Addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", bridge.handleWS)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voicebridge listening", "addr", cfg.Server.Addr())
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if exporter != nil {
		_ = exporter.Shutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

type bridgeServer struct {
	cfg        *config.Config
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	upgrader   websocket.Upgrader
}

func (b *bridgeServer) credentials() gemini.Credentials {
	return gemini.Credentials{
		APIKey:      b.cfg.Gemini.APIKey,
		AccessToken: b.cfg.Gemini.AccessToken,
		Endpoint:    b.cfg.Gemini.Endpoint,
		Project:     b.cfg.Gemini.Project,
		Location:    b.cfg.Gemini.Location,
	}
}

func (b *bridgeServer) modelConfig() gemini.ModelConfig {
	return gemini.ModelConfig{
		Model:             b.cfg.Gemini.Model,
		SystemInstruction: b.cfg.Gemini.SystemInstruction,
		Voice:             b.cfg.Gemini.Voice,
		TextOnly:          b.cfg.Gemini.TextOnly,
		Tools:             b.registry.Declarations(),
	}
}

// preflight opens and immediately closes a live session so startup fails
// with a clear error instead of every client failing later.
func (b *bridgeServer) preflight() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := gemini.Open(ctx, gemini.SessionConfig{
		Credentials: b.credentials(),
		Model:       b.modelConfig(),
	})
	if err != nil {
		return err
	}
	return session.Close()
}

func (b *bridgeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	go b.runSession(conn)
}

// runSession owns one client connection end to end.
func (b *bridgeServer) runSession(conn *websocket.Conn) {
	endpoint := transport.NewWebSocketEndpoint(conn)
	conv := conversation.New()

	// The orchestrator does not exist yet when the live session needs its
	// transcript callback, so route through an atomic pointer.
	var orchRef atomic.Pointer[pipeline.Orchestrator]

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	remote, err := gemini.Open(openCtx, gemini.SessionConfig{
		Credentials: b.credentials(),
		Model:       b.modelConfig(),
		History: func() []conversation.TurnContent {
			return conversation.ToLiveHistory(conv.Snapshot())
		},
		OnInputTranscription: func(text string) {
			if o := orchRef.Load(); o != nil {
				o.NoteUserTranscript(text)
			}
		},
		QueueBound: b.cfg.Bridge.SendQueueBound,
		SendGrace:  b.cfg.Bridge.SendGrace(),
	})
	cancel()
	if err != nil {
		logger.Error("opening live session for client failed", "error", err)
		_ = endpoint.Send(openErrorFrame(err))
		_ = endpoint.Close()
		return
	}

	vad, err := audio.NewRMSVAD(b.cfg.VAD.Params())
	if err != nil {
		logger.Error("building vad failed", "error", err)
		_ = remote.Close()
		_ = endpoint.Close()
		return
	}

	orch, err := pipeline.New(pipeline.Config{
		Endpoint:     endpoint,
		Remote:       remote,
		VAD:          vad,
		Dispatcher:   b.dispatcher,
		Conversation: conv,
	})
	if err != nil {
		logger.Error("building session pipeline failed", "error", err)
		_ = remote.Close()
		_ = endpoint.Close()
		return
	}
	orchRef.Store(orch)

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("session ended with error", "error", err)
	}
}

// openErrorFrame tells the client why its session could not be opened.
func openErrorFrame(err error) types.Frame {
	var authErr *gemini.AuthError
	if errors.As(err, &authErr) {
		return types.ControlError{ErrKind: types.ErrorAuth, Message: authErr.Error()}
	}
	return types.ControlError{ErrKind: types.ErrorHandshake, Message: err.Error()}
}
