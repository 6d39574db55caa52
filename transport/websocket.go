package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/voicebridge/logger"
	"github.com/AltairaLabs/voicebridge/types"
)

// ErrEndpointClosed is returned by Send after the endpoint shut down.
var ErrEndpointClosed = errors.New("endpoint is closed")

const (
	// inboundBufferSize bounds inbound frames queued for the orchestrator.
	inboundBufferSize = 64
	// outboundBufferSize bounds frames queued toward the client.
	outboundBufferSize = 64
	// writeWait is the write deadline for each outbound message.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketEndpoint adapts an accepted websocket connection to the
// Endpoint interface. Envelope-encoded frames travel as binary messages.
// A read pump and a write pump own the connection's two directions;
// everything else talks to them through channels, which preserves per
// direction ordering.
type WebSocketEndpoint struct {
	conn *websocket.Conn

	inbound  chan types.Frame
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketEndpoint wraps an already-upgraded websocket connection and
// starts its pumps.
func NewWebSocketEndpoint(conn *websocket.Conn) *WebSocketEndpoint {
	e := &WebSocketEndpoint{
		conn:     conn,
		inbound:  make(chan types.Frame, inboundBufferSize),
		outbound: make(chan []byte, outboundBufferSize),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(MaxEnvelopeSize)

	go e.readPump()
	go e.writePump()

	return e
}

// Frames returns the channel of inbound frames. It is closed when the
// client disconnects.
func (e *WebSocketEndpoint) Frames() <-chan types.Frame {
	return e.inbound
}

// Send encodes and queues one frame toward the client.
func (e *WebSocketEndpoint) Send(frame types.Frame) error {
	data, err := Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}

	select {
	case e.outbound <- data:
		return nil
	case <-e.done:
		return ErrEndpointClosed
	}
}

// Done closes when the endpoint can no longer deliver frames.
func (e *WebSocketEndpoint) Done() <-chan struct{} {
	return e.done
}

// Close shuts down the endpoint. A close frame is offered to the peer
// before the connection drops.
func (e *WebSocketEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = e.conn.WriteMessage(websocket.CloseMessage, msg)
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// readPump owns the read side: it decodes envelopes and feeds the inbound
// channel until the peer disconnects. Malformed envelopes are logged and
// skipped; they never terminate the session.
func (e *WebSocketEndpoint) readPump() {
	defer close(e.inbound)

	_ = e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error {
		return e.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("endpoint read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			logger.Debug("ignoring non-binary message from client", "type", msgType)
			continue
		}

		frame, err := Unmarshal(data)
		if err != nil {
			logger.Warn("dropping malformed client envelope", "error", err)
			continue
		}

		select {
		case e.inbound <- frame:
		case <-e.done:
			return
		}
	}
}

// writePump owns the write side: it serializes all outbound traffic and
// keeps the connection alive with pings.
func (e *WebSocketEndpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-e.outbound:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Warn("endpoint write failed", "error", err)
				_ = e.Close()
				return
			}
		case <-ticker.C:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = e.Close()
				return
			}
		case <-e.done:
			return
		}
	}
}
