package mqttclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsBroker upgrades one request and hands the connection to serve.
func wsBroker(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()

	upgrader := websocket.Upgrader{Subprotocols: []string{WebSocketSubprotocol}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketTransport(t *testing.T) {
	type handshake struct {
		subprotocol string
		token       string
	}
	seen := make(chan handshake, 1)
	published := make(chan []byte, 1)
	closed := make(chan int, 1)

	url := wsBroker(t, func(conn *websocket.Conn, r *http.Request) {
		seen <- handshake{conn.Subprotocol(), r.Header.Get("X-Token")}

		messageType, data, err := conn.ReadMessage()
		if err != nil || messageType != websocket.BinaryMessage {
			return
		}
		published <- data

		// PINGRESP and SUBACK in one message, then a PUBACK split over two.
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xD0, 0x00, 0x90, 0x03, 0x00, 0x01, 0x00})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x40, 0x02})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x07})

		if _, _, err := conn.ReadMessage(); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				closed <- ce.Code
			}
		}
	})

	tr, err := NewTransport(url+"/mqtt", &TransportConfig{Header: http.Header{"X-Token": {"secret"}}})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	hs := <-seen
	assert.Equal(t, WebSocketSubprotocol, hs.subprotocol)
	assert.Equal(t, "secret", hs.token)

	require.NoError(t, tr.Send([]byte{0x00, 0x01, 'a'}, controlByte(PacketPUBLISH, 0)))
	assert.Equal(t, []byte{0x30, 0x03, 0x00, 0x01, 'a'}, <-published)

	want := []struct {
		typ     PacketType
		payload []byte
	}{
		{PacketPINGRESP, nil},
		{PacketSUBACK, []byte{0x00, 0x01, 0x00}},
		{PacketPUBACK, []byte{0x00, 0x07}},
	}
	for _, w := range want {
		f, err := tr.Receive()
		require.NoError(t, err)
		assert.Equal(t, w.typ, f.Type)
		if w.payload == nil {
			assert.Empty(t, f.Payload)
		} else {
			assert.Equal(t, w.payload, f.Payload)
		}
	}

	require.NoError(t, tr.Disconnect(ReasonNormalDisconnection, "bye"))

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(testWait):
		require.FailNow(t, "no close frame")
	}
}

func TestWebSocketTextMessage(t *testing.T) {
	url := wsBroker(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_, _, _ = conn.ReadMessage()
	})

	tr, err := NewTransport(url, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Terminate()

	_, err = tr.Receive()
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestWebSocketErrorClose(t *testing.T) {
	closed := make(chan int, 1)
	url := wsBroker(t, func(conn *websocket.Conn, _ *http.Request) {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				closed <- ce.Code
			}
		}
	})

	d := NewWSDialer()
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	assert.NotNil(t, conn.LocalAddr())
	assert.NotNil(t, conn.RemoteAddr())
	require.NoError(t, conn.SetDeadline(time.Now().Add(testWait)))

	gc, ok := conn.(gracefulCloser)
	require.True(t, ok)
	require.NoError(t, gc.CloseGraceful(ReasonProtocolError, "bad packet"))

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseProtocolError, code)
	case <-time.After(testWait):
		require.FailNow(t, "no close frame")
	}
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	d := &WSDialer{}
	_, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
