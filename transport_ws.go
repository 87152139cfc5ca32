package mqttclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
	WebSocketSubprotocol = "mqtt"

	wsCloseTimeout = time.Second
)

// WSConn adapts a WebSocket connection to net.Conn. MQTT packets travel in
// binary messages; one message may hold several packets or part of one.
type WSConn struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read reads from the current binary message, moving on to the next one when
// it is exhausted.
func (c *WSConn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			messageType, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, fmt.Errorf("%w: websocket message type %d", ErrProtocolError, messageType)
			}
			c.reader = r
		}

		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends b as one binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the connection without a close handshake.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// CloseGraceful sends a WebSocket close frame before closing.
func (c *WSConn) CloseGraceful(code ReasonCode, reason string) error {
	status := websocket.CloseNormalClosure
	if code.IsError() {
		status = websocket.CloseProtocolError
	}

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(status, reason),
		time.Now().Add(wsCloseTimeout))
	c.writeMu.Unlock()

	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// LocalAddr returns the local network address.
func (c *WSConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WSDialer connects to MQTT brokers over WebSocket. The dial address is the
// full ws:// or wss:// URL.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer

	// Header is the HTTP header to send with the handshake.
	Header http.Header
}

// NewWSDialer creates a new WebSocket dialer with MQTT subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:     []string{WebSocketSubprotocol},
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// Dial performs the WebSocket handshake.
func (d *WSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = NewWSDialer().Dialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	return newWSConn(conn), nil
}
