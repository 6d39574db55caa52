package transport

import (
	"github.com/AltairaLabs/voicebridge/types"
)

// Endpoint is the bridge's view of whatever delivers audio to and from the
// end user: a WebSocket, a WebRTC data path, or a telephony leg. The
// orchestrator only sees frames; connection negotiation happens before an
// Endpoint is handed over.
//
// Frames sent through either direction preserve their order. Frames()
// closes when the peer disconnects; Done() closes when the endpoint is
// fully shut down in either direction.
type Endpoint interface {
	// Frames returns the channel of inbound frames from the client, in
	// arrival order.
	Frames() <-chan types.Frame

	// Send delivers one frame to the client. It is safe for a single
	// writer; the orchestrator's event loop is that writer.
	Send(frame types.Frame) error

	// Done closes when the endpoint can no longer deliver frames.
	Done() <-chan struct{}

	// Close shuts the endpoint down, releasing the underlying connection.
	Close() error
}
