package mqttclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transport moves whole control packets between the client and a server.
// Receive is only ever called from the client's receive loop; Send may be
// called concurrently and must serialize writes itself.
type Transport interface {
	// Connect opens the underlying connection.
	Connect(ctx context.Context) error

	// Send writes one packet: control is the first fixed header byte and
	// payload the body following the remaining length. payload is only
	// valid until Send returns.
	Send(payload []byte, control byte) error

	// Receive blocks until a complete packet arrives.
	Receive() (Frame, error)

	// Disconnect closes the connection after a DISCONNECT was sent.
	Disconnect(code ReasonCode, reason string) error

	// Terminate closes the connection immediately, unblocking Receive.
	Terminate() error
}

// readLimiter is implemented by transports that can reject oversized packets
// before reading their body.
type readLimiter interface {
	SetReadLimit(limit uint32)
}

// Dialer establishes the network connection of a StreamTransport.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// gracefulCloser is implemented by connections with a close handshake of their
// own, such as WebSocket.
type gracefulCloser interface {
	CloseGraceful(code ReasonCode, reason string) error
}

// StreamTransport frames MQTT packets over any byte stream produced by a Dialer:
// TCP, TLS, unix sockets, WebSocket, QUIC streams or proxied connections.
type StreamTransport struct {
	dialer  Dialer
	address string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	wbuf    []byte

	readLimit atomic.Uint32
}

// NewStreamTransport returns a transport that dials address with d.
func NewStreamTransport(d Dialer, address string) *StreamTransport {
	return &StreamTransport{dialer: d, address: address}
}

// Address returns the dial address.
func (t *StreamTransport) Address() string { return t.address }

// Connect dials the server.
func (t *StreamTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := t.dialer.Dial(ctx, t.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.address, err)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

func (t *StreamTransport) current() (net.Conn, *bufio.Reader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.reader
}

// Send writes one packet.
func (t *StreamTransport) Send(payload []byte, control byte) error {
	conn, _ := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf, err := appendFrame(t.wbuf[:0], control, payload)
	if err != nil {
		return err
	}
	t.wbuf = buf

	_, err = conn.Write(buf)
	return err
}

// Receive reads one packet.
func (t *StreamTransport) Receive() (Frame, error) {
	_, reader := t.current()
	if reader == nil {
		return Frame{}, ErrNotConnected
	}
	return readFrame(reader, t.readLimit.Load())
}

// SetReadLimit makes Receive fail with ErrPacketTooLarge for bigger packets.
func (t *StreamTransport) SetReadLimit(limit uint32) {
	t.readLimit.Store(limit)
}

// RemoteAddr returns the server address once connected.
func (t *StreamTransport) RemoteAddr() net.Addr {
	conn, _ := t.current()
	if conn == nil {
		return nil
	}
	return conn.RemoteAddr()
}

// Disconnect closes the connection, using the connection's own close
// handshake where it has one.
func (t *StreamTransport) Disconnect(code ReasonCode, reason string) error {
	conn := t.detach()
	if conn == nil {
		return nil
	}
	if gc, ok := conn.(gracefulCloser); ok {
		return gc.CloseGraceful(code, reason)
	}
	return conn.Close()
}

// Terminate closes the connection at once.
func (t *StreamTransport) Terminate() error {
	conn := t.detach()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// detach forgets the connection but keeps the reader so a blocked Receive
// fails with the close error rather than ErrNotConnected.
func (t *StreamTransport) detach() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn := t.conn
	t.conn = nil
	return conn
}

// Default server ports per URL scheme.
const (
	defaultPortTCP = "1883"
	defaultPortTLS = "8883"
	defaultPortWS  = "80"
	defaultPortWSS = "443"
)

// TransportConfig tunes the transport built by NewTransport.
type TransportConfig struct {
	// TLSConfig is used for ssl, tls, mqtts, wss and quic URLs.
	TLSConfig *tls.Config

	// Proxy routes tcp, tls and ws connections through an HTTP CONNECT or SOCKS5 proxy.
	Proxy *ProxyConfig

	// ProxyFromEnvironment picks the proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// when Proxy is nil.
	ProxyFromEnvironment bool

	// Header is sent with the WebSocket handshake.
	Header http.Header

	// DialTimeout bounds TCP and TLS dials. Zero means no timeout beyond ctx.
	DialTimeout time.Duration
}

// NewTransport builds a transport from a server URL. Supported schemes:
// tcp, mqtt (1883); ssl, tls, mqtts (8883); ws (80); wss (443); quic (8883);
// unix (path in the URL path).
func NewTransport(rawURL string, cfg *TransportConfig) (Transport, error) {
	if cfg == nil {
		cfg = &TransportConfig{}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: server URL: %w", ErrInvalidOption, err)
	}

	forward, err := proxyForward(rawURL, cfg)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "tcp", "mqtt":
		d := Dialer(&TCPDialer{Timeout: cfg.DialTimeout})
		if forward != nil {
			d = forward
		}
		return NewStreamTransport(d, hostPort(u, defaultPortTCP)), nil

	case "ssl", "tls", "mqtts":
		d := Dialer(&TLSDialer{Config: cfg.TLSConfig, Timeout: cfg.DialTimeout})
		if forward != nil {
			d = &tlsOverDialer{forward: forward, config: cfg.TLSConfig}
		}
		return NewStreamTransport(d, hostPort(u, defaultPortTLS)), nil

	case "ws", "wss":
		d := NewWSDialer()
		d.Header = cfg.Header
		d.Dialer.TLSClientConfig = cfg.TLSConfig
		if forward != nil {
			d.Dialer.NetDialContext = forward.DialContext
		}
		return NewStreamTransport(d, u.String()), nil

	case "quic":
		return NewStreamTransport(NewQUICDialer(cfg.TLSConfig), hostPort(u, defaultPortTLS)), nil

	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: unix URL without socket path", ErrInvalidOption)
		}
		return NewStreamTransport(NewUnixDialer(), path), nil

	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme %q", ErrInvalidOption, u.Scheme)
	}
}

func hostPort(u *url.URL, defaultPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}

// tlsOverDialer runs a TLS handshake over a connection from another dialer.
type tlsOverDialer struct {
	forward *ProxyDialer
	config  *tls.Config
}

func (d *tlsOverDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	raw, err := d.forward.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	cfg := d.config
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		host, _, _ := net.SplitHostPort(address)
		cfg = cfg.Clone()
		cfg.ServerName = host
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}
