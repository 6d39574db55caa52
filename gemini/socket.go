package gemini

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/voicebridge/logger"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultMaxMessage   = 4 << 20
	closeGracePeriod    = time.Second
)

// socketConfig carries the low-level websocket settings for one connection.
type socketConfig struct {
	URL          string
	Headers      http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	MaxMessage   int64
}

func (c *socketConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = defaultMaxMessage
	}
}

// socket wraps a single websocket connection with serialized writes and a
// background ping loop. Reconnection is handled above this layer; a socket
// is dialed once and discarded when it fails.
type socket struct {
	cfg  socketConfig
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// dialSocket opens the websocket. An HTTP 401 or 403 on the upgrade is
// reported as an AuthError so callers can fail fast without retrying.
func dialSocket(ctx context.Context, cfg socketConfig) (*socket, error) {
	cfg.applyDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Status: resp.StatusCode, Reason: resp.Status}
		}
		return nil, fmt.Errorf("dial %s: %w", logger.RedactSensitiveData(cfg.URL), err)
	}
	conn.SetReadLimit(cfg.MaxMessage)

	s := &socket{
		cfg:    cfg,
		conn:   conn,
		closed: make(chan struct{}),
	}
	go s.pingLoop()
	return s, nil
}

func (s *socket) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// sendJSON writes one JSON message. Writes are serialized; gorilla permits
// only one concurrent writer.
func (s *socket) sendJSON(v any) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// readMessage blocks until the next message arrives or the connection fails.
func (s *socket) readMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}
