// Package transport implements the two wire carriers the bridge can use to
// reach the browser-side peer (§4.3): a length-prefixed stdio pipe (native
// messaging) and a WebSocket loopback server. Both speak the same framed
// JSON payloads defined in internal/protocol; this package only owns
// message boundaries, not their contents.
package transport

import "context"

// MaxPipeFrameSize bounds a single message on the stdio pipe. The stdio
// pipe enforces 1 MiB (native messaging's own limit); the WebSocket
// loopback enforces 128 KiB, matching the original implementation's
// MAX_DATA_LENGTH. Each implementation applies its own limit; this
// constant documents the stdio pipe's.
const MaxPipeFrameSize = 1 << 20

// MaxWebSocketFrameSize matches the original ws.c MAX_DATA_LENGTH.
const MaxWebSocketFrameSize = 131072

// Transport carries whole messages to and from the peer. Implementations
// are responsible for framing: Send must write exactly one message,
// Receive must return exactly one message.
type Transport interface {
	// Send writes msg as a single message. It may be called concurrently
	// with Receive but must serialize concurrent callers of Send itself.
	Send(msg []byte) error

	// Receive blocks until the next whole message arrives, or returns an
	// error (including io.EOF) when the transport is no longer usable.
	Receive() ([]byte, error)

	// Close releases any resources and unblocks a pending Receive.
	Close() error
}

// Dialer constructs a Transport bound to ctx's lifetime. pipe and
// websocket both implement one.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
