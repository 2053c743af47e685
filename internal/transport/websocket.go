package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketAddr is the loopback address the original implementation's
// ws.c bound to; kept as the default here too (§4.3).
const WebSocketAddr = "127.0.0.1:8888"

// WebSocketTransport serves a single WebSocket loopback connection at a
// time. A new incoming connection replaces whatever connection preceded
// it (§4.3: "a new connection silently replaces the old one"); Send and
// Receive always act against the current connection.
type WebSocketTransport struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters []chan struct{} // signaled when a new conn arrives, for blocked Receive callers
	closed  bool

	writeMu sync.Mutex // serializes concurrent Send callers
}

// WebSocketDialer starts the loopback HTTP server on Dial and returns a
// Transport bound to whatever connection arrives on it.
type WebSocketDialer struct {
	Addr string // defaults to WebSocketAddr
	Log  *logrus.Logger
}

func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	addr := d.Addr
	if addr == "" {
		addr = WebSocketAddr
	}

	t := &WebSocketTransport{
		log: d.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxWebSocketFrameSize,
			WriteBufferSize: MaxWebSocketFrameSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)
	t.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.log.WithError(err).Error("transport/websocket: server exited")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	return t, nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.WithError(err).Warn("transport/websocket: upgrade failed")
		return
	}
	conn.SetReadLimit(MaxWebSocketFrameSize)

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	for _, ch := range waiters {
		close(ch)
	}
	t.log.Info("transport/websocket: peer connected, replacing any previous connection")
}

func (t *WebSocketTransport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// awaitConn blocks until a connection exists (or the transport is
// closed), returning it. Returns nil if closed while waiting.
func (t *WebSocketTransport) awaitConn() *websocket.Conn {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.conn != nil {
		c := t.conn
		t.mu.Unlock()
		return c
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	<-ch
	return t.currentConn()
}

// Send writes msg as a single text frame to the current connection. With
// no peer connected it fails at once instead of waiting for one (§4.3).
func (t *WebSocketTransport) Send(msg []byte) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	if conn == nil {
		return errors.New("transport/websocket: no peer connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Receive blocks for the next text frame. A single dropped connection is
// not terminal: per §4.3, "a new connection replaces the previous one",
// so when the current connection errors, Receive clears it (if no
// replacement has already arrived) and waits for the next one instead of
// surfacing the error. Receive only returns an error once the transport
// itself has been closed.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	for {
		conn := t.awaitConn()
		if conn == nil {
			return nil, net.ErrClosed
		}

		_, data, err := conn.ReadMessage()
		if err == nil {
			return data, nil
		}

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, net.ErrClosed
		}
		t.log.WithError(err).Warn("transport/websocket: connection lost, awaiting replacement")
	}
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if conn != nil {
		_ = conn.Close()
	}
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}
