package transport

import (
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func dialClient(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

func TestWebSocketTransportSendReceiveRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := (WebSocketDialer{Addr: "127.0.0.1:18881", Log: testLogger()}).Dial(ctx)
	require.NoError(t, err)
	defer tr.Close()

	client := dialClient(t, "127.0.0.1:18881")
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping")))

	msg, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))

	require.NoError(t, tr.Send([]byte("pong")))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestWebSocketTransportNewConnectionReplacesOld(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := (WebSocketDialer{Addr: "127.0.0.1:18882", Log: testLogger()}).Dial(ctx)
	require.NoError(t, err)
	defer tr.Close()

	first := dialClient(t, "127.0.0.1:18882")
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("from-first")))

	msg, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "from-first", string(msg))

	second := dialClient(t, "127.0.0.1:18882")
	defer second.Close()

	// The first connection should now be closed server-side.
	require.Eventually(t, func() bool {
		_, _, err := first.ReadMessage()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("from-second")))
	msg, err = tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "from-second", string(msg))
}

func TestWebSocketTransportCloseUnblocksReceive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := (WebSocketDialer{Addr: "127.0.0.1:18883", Log: testLogger()}).Dial(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Receive()
		done <- err
	}()

	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}
