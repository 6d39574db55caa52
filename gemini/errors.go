package gemini

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by operations on a closed live session.
var ErrSessionClosed = errors.New("live session is closed")

// ErrBackpressure is returned by SendAudio when the outbound queue stayed
// full past the grace period and the oldest buffered chunk was dropped to
// make room. The new chunk was still enqueued; callers should surface a
// backpressure warning and continue.
var ErrBackpressure = errors.New("outbound audio queue full, oldest chunk dropped")

// AuthError means the remote rejected our credentials during session open.
// It is fatal to the open and is not retried.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication rejected (HTTP %d): %s", e.Status, e.Reason)
	}
	return "authentication rejected: " + e.Reason
}

// HandshakeError means the remote's initial response was malformed or
// unexpected. It is fatal to the session open and is not retried.
type HandshakeError struct {
	Reason string
	Cause  error
}

func (e *HandshakeError) Error() string {
	if e.Cause != nil {
		return "live session handshake failed: " + e.Reason + ": " + e.Cause.Error()
	}
	return "live session handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Cause }

// SessionLostError means the connection dropped mid-session and the single
// reconnect attempt did not recover it.
type SessionLostError struct {
	Cause error
}

func (e *SessionLostError) Error() string {
	return "live session lost: " + e.Cause.Error()
}

func (e *SessionLostError) Unwrap() error { return e.Cause }
