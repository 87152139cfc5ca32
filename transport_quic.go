package mqttclient

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the application protocol negotiated for MQTT over QUIC.
const quicALPN = "mqtt"

// QUICConn carries MQTT over a single bidirectional QUIC stream.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	once   sync.Once
	err    error
}

// Read reads data from the QUIC stream.
func (c *QUICConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

// Write writes data to the QUIC stream.
func (c *QUICConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

// Close closes the stream and the connection with application error 0.
func (c *QUICConn) Close() error {
	return c.CloseGraceful(ReasonNormalDisconnection, "")
}

// CloseGraceful closes the stream and the connection, passing the reason code
// as the QUIC application error.
func (c *QUICConn) CloseGraceful(code ReasonCode, reason string) error {
	c.once.Do(func() {
		c.err = c.stream.Close()
		if err := c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason); c.err == nil {
			c.err = err
		}
	})
	return c.err
}

// LocalAddr returns the local network address.
func (c *QUICConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (c *QUICConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// QUICDialer connects to MQTT brokers over QUIC.
type QUICDialer struct {
	// TLSConfig is the TLS configuration. QUIC requires TLS 1.3.
	TLSConfig *tls.Config

	// QUICConfig is the QUIC configuration.
	QUICConfig *quic.Config
}

// NewQUICDialer creates a QUIC dialer. A nil tlsConfig uses TLS 1.3 with the
// system roots.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: quicTLSConfig(tlsConfig)}
}

func quicTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{
			MinVersion: tls.VersionTLS13,
			NextProtos: []string{quicALPN},
		}
	}
	if len(cfg.NextProtos) == 0 || cfg.MinVersion < tls.VersionTLS13 {
		cfg = cfg.Clone()
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{quicALPN}
		}
		if cfg.MinVersion < tls.VersionTLS13 {
			cfg.MinVersion = tls.VersionTLS13
		}
	}
	return cfg
}

// Dial opens a QUIC connection to host:port and one stream on it.
func (d *QUICDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, address, quicTLSConfig(d.TLSConfig), d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &QUICConn{conn: conn, stream: stream}, nil
}
