package mqttclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// pipeTransport is an in-memory Transport. Frames the client sends land on
// toServer, frames queued on toClient are returned by Receive.
type pipeTransport struct {
	toServer chan Frame
	toClient chan Frame

	mu          sync.Mutex
	closed      chan struct{}
	connected   bool
	connectErr  error
	connects    int
	disconnects int
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		toServer: make(chan Frame, 256),
		toClient: make(chan Frame, 256),
		closed:   make(chan struct{}),
	}
}

func (p *pipeTransport) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connectErr != nil {
		return p.connectErr
	}
	if p.connected {
		return ErrAlreadyConnected
	}
	p.connected = true
	p.connects++
	p.closed = make(chan struct{})
	return nil
}

func (p *pipeTransport) done() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pipeTransport) Send(payload []byte, control byte) error {
	t, flags := splitControl(control)
	f := Frame{Type: t, Flags: flags, Payload: append([]byte(nil), payload...)}

	done := p.done()
	select {
	case <-done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.toServer <- f:
		return nil
	case <-done:
		return io.ErrClosedPipe
	}
}

func (p *pipeTransport) Receive() (Frame, error) {
	done := p.done()
	select {
	case f := <-p.toClient:
		return f, nil
	case <-done:
		return Frame{}, io.EOF
	}
}

func (p *pipeTransport) Disconnect(ReasonCode, string) error {
	p.mu.Lock()
	p.disconnects++
	p.mu.Unlock()
	return p.Terminate()
}

func (p *pipeTransport) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		close(p.closed)
	}
	return nil
}

func (p *pipeTransport) disconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

// fakeBroker plays the server side of a pipeTransport from the test goroutine.
type fakeBroker struct {
	t       *testing.T
	pipe    *pipeTransport
	version ProtocolVersion
}

func (b *fakeBroker) nextFrame(wait time.Duration) Frame {
	b.t.Helper()
	select {
	case f := <-b.pipe.toServer:
		return f
	case <-time.After(wait):
		require.FailNow(b.t, "no packet from the client")
		return Frame{}
	}
}

func (b *fakeBroker) next() packet {
	b.t.Helper()
	p, err := decodePacket(b.nextFrame(testWait), b.version)
	require.NoError(b.t, err)
	return p
}

func (b *fakeBroker) expect(t PacketType) packet {
	b.t.Helper()
	p := b.next()
	require.Equal(b.t, t, p.Type(), "unexpected %s", p.Type())
	return p
}

func (b *fakeBroker) expectAck(t PacketType) *AckPacket {
	b.t.Helper()
	return b.expect(t).(*AckPacket)
}

func (b *fakeBroker) expectPublish() *PublishPacket {
	b.t.Helper()
	return b.expect(PacketPUBLISH).(*PublishPacket)
}

// quiet asserts the client sends nothing for d.
func (b *fakeBroker) quiet(d time.Duration) {
	b.t.Helper()
	select {
	case f := <-b.pipe.toServer:
		assert.Failf(b.t, "unexpected packet", "%s", f.Type)
	case <-time.After(d):
	}
}

func (b *fakeBroker) send(p packet) {
	b.t.Helper()
	control, body, err := encodePacket(p, b.version)
	require.NoError(b.t, err)
	t, flags := splitControl(control)
	b.sendFrame(Frame{Type: t, Flags: flags, Payload: body})
}

func (b *fakeBroker) sendFrame(f Frame) {
	b.pipe.toClient <- f
}

// connackFrame builds a successful v5 CONNACK with a raw property block, for
// properties the encoder leaves out, such as false booleans.
func connackFrame(props ...byte) Frame {
	body := []byte{0x00, byte(ReasonSuccess)}
	body = appendVarInt(body, uint32(len(props)))
	return Frame{Type: PacketCONNACK, Payload: append(body, props...)}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeBroker) {
	t.Helper()

	pipe := newPipeTransport()
	base := []Option{WithKeepAlive(0), WithAckTimeout(testWait)}
	c, err := New(pipe, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.teardown(ErrDisconnected) })

	return c, &fakeBroker{t: t, pipe: pipe, version: c.ProtocolVersion()}
}

type connectOutcome struct {
	result *Result
	err    error
}

func startConnect(c *Client) <-chan connectOutcome {
	done := make(chan connectOutcome, 1)
	go func() {
		r, err := c.Connect(context.Background())
		done <- connectOutcome{r, err}
	}()
	return done
}

func waitConnect(t *testing.T, done <-chan connectOutcome) connectOutcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(testWait):
		require.FailNow(t, "Connect did not return")
		return connectOutcome{}
	}
}

// handshake answers the client's CONNECT with connack and returns both sides
// of the exchange.
func handshake(t *testing.T, c *Client, b *fakeBroker, connack packet) (*ConnectPacket, connectOutcome) {
	t.Helper()

	done := startConnect(c)
	connect := b.expect(PacketCONNECT).(*ConnectPacket)
	if connack == nil {
		connack = &ConnackPacket{}
	}
	b.send(connack)
	return connect, waitConnect(t, done)
}

// dial returns a connected client.
func dial(t *testing.T, opts ...Option) (*Client, *fakeBroker) {
	t.Helper()

	c, b := newTestClient(t, opts...)
	_, o := handshake(t, c, b, nil)
	require.NoError(t, o.err)
	require.True(t, c.IsConnected())
	return c, b
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testWait):
		require.FailNow(t, "timed out")
	}
}

func TestNew(t *testing.T) {
	t.Run("nil transport", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrInvalidOption)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := New(newPipeTransport())
		require.NoError(t, err)
		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, ProtocolV5, c.ProtocolVersion())
		assert.Empty(t, c.ClientID())
		assert.False(t, c.IsConnected())
		assert.NoError(t, c.Err())
	})

	t.Run("generated id before v5", func(t *testing.T) {
		c, err := New(newPipeTransport(), WithProtocolVersion(ProtocolV31))
		require.NoError(t, err)
		assert.Len(t, c.ClientID(), maxClientIDLenV31)
	})

	t.Run("handler and blocking receive", func(t *testing.T) {
		_, err := New(newPipeTransport(), WithHandler(HandlerFuncs{}), WithBlockingReceive())
		assert.ErrorIs(t, err, ErrInvalidOption)
	})
}

func TestNewFromURL(t *testing.T) {
	c, err := NewFromURL("tcp://127.0.0.1:1883", WithClientID("url-client"))
	require.NoError(t, err)
	st, ok := c.transport.(*StreamTransport)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1883", st.Address())

	_, err = NewFromURL("gopher://example.com")
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestClientConnect(t *testing.T) {
	c, b := newTestClient(t,
		WithClientID("c1"),
		WithCredentials("user", "pass"),
		WithKeepAlive(30),
		WithSessionExpiryInterval(60),
		WithReceiveMaximum(10),
		WithUserProperty("k", "v"),
		WithWill(&WillMessage{Topic: "status/c1", Payload: []byte("gone"), QoS: 1, DelayInterval: 5}),
	)

	connack := &ConnackPacket{}
	connack.Props.Add(PropServerKeepAlive, uint16(20))
	connack.Props.Add(PropReasonString, "welcome")

	connect, o := handshake(t, c, b, connack)
	require.NoError(t, o.err)

	assert.Equal(t, "c1", connect.ClientID)
	assert.Equal(t, "user", connect.Username)
	assert.Equal(t, []byte("pass"), connect.Password)
	assert.True(t, connect.CleanStart)
	assert.Equal(t, uint16(30), connect.KeepAlive)

	expiry, ok := connect.Props.GetUint(PropSessionExpiryInterval)
	assert.True(t, ok)
	assert.Equal(t, uint32(60), expiry)
	rm, ok := connect.Props.GetUint(PropReceiveMaximum)
	assert.True(t, ok)
	assert.Equal(t, uint32(10), rm)
	assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, connect.Props.UserProperties())

	require.NotNil(t, connect.Will)
	assert.Equal(t, "status/c1", connect.Will.Topic)
	assert.Equal(t, byte(1), connect.Will.QoS)
	assert.Equal(t, uint32(5), connect.Will.DelayInterval)

	assert.Equal(t, ReasonSuccess, o.result.ReasonCode())
	assert.Equal(t, "welcome", o.result.ReasonString())
	assert.False(t, o.result.SessionPresent())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, uint16(20), c.ConnectionInfo().KeepAlive)
}

func TestClientConnectDefaultsOmitProperties(t *testing.T) {
	c, b := newTestClient(t, WithClientID("c1"))
	connect, o := handshake(t, c, b, nil)
	require.NoError(t, o.err)

	assert.False(t, connect.Props.Has(PropSessionExpiryInterval))
	assert.False(t, connect.Props.Has(PropReceiveMaximum))
	assert.False(t, connect.Props.Has(PropRequestProblemInfo))
	assert.False(t, connect.Props.Has(PropAuthenticationMethod))
}

func TestClientConnectLegacyBytes(t *testing.T) {
	tests := []struct {
		name    string
		version ProtocolVersion
		want    []byte
	}{
		{
			name:    "3.1.1",
			version: ProtocolV311,
			want: []byte{
				0x00, 0x04, 'M', 'Q', 'T', 'T',
				0x04,       // level
				0x02,       // clean session
				0x00, 0x3C, // keep alive 60
				0x00, 0x02, 'a', 'b',
			},
		},
		{
			name:    "3.1",
			version: ProtocolV31,
			want: []byte{
				0x00, 0x06, 'M', 'Q', 'I', 's', 'd', 'p',
				0x03,
				0x02,
				0x00, 0x3C,
				0x00, 0x02, 'a', 'b',
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, b := newTestClient(t, WithProtocolVersion(tt.version), WithClientID("ab"), WithKeepAlive(60))

			done := startConnect(c)
			f := b.nextFrame(testWait)
			assert.Equal(t, PacketCONNECT, f.Type)
			assert.Equal(t, byte(0), f.Flags)
			assert.Equal(t, tt.want, f.Payload)

			b.sendFrame(Frame{Type: PacketCONNACK, Payload: []byte{0x00, 0x00}})
			o := waitConnect(t, done)
			require.NoError(t, o.err)
			assert.True(t, c.IsConnected())
		})
	}
}

func TestClientConnectRefused(t *testing.T) {
	t.Run("v5 reason code", func(t *testing.T) {
		c, b := newTestClient(t)
		connack := &ConnackPacket{ReasonCode: ReasonNotAuthorized}
		connack.Props.Add(PropReasonString, "denied")

		_, o := handshake(t, c, b, connack)
		require.Error(t, o.err)
		assert.ErrorIs(t, o.err, ErrConnectFailed)
		assert.ErrorIs(t, o.err, ErrAuthFailed)

		var opErr *OperationError
		require.ErrorAs(t, o.err, &opErr)
		assert.Equal(t, ReasonNotAuthorized, opErr.ReasonCode)
		assert.Equal(t, "denied", opErr.ReasonString)
		assert.Equal(t, ReasonNotAuthorized, o.result.ReasonCode())
		assert.Equal(t, StateClosed, c.State())
	})

	t.Run("legacy return code", func(t *testing.T) {
		c, b := newTestClient(t, WithProtocolVersion(ProtocolV311), WithClientID("x"))
		done := startConnect(c)
		b.expect(PacketCONNECT)
		b.sendFrame(Frame{Type: PacketCONNACK, Payload: []byte{0x00, 0x02}})

		o := waitConnect(t, done)
		var opErr *OperationError
		require.ErrorAs(t, o.err, &opErr)
		assert.Equal(t, ReasonClientIDNotValid, opErr.ReasonCode)
		assert.ErrorIs(t, o.err, ErrConnectFailed)
	})

	t.Run("unknown legacy return code", func(t *testing.T) {
		c, b := newTestClient(t, WithProtocolVersion(ProtocolV311), WithClientID("x"))
		done := startConnect(c)
		b.expect(PacketCONNECT)
		b.sendFrame(Frame{Type: PacketCONNACK, Payload: []byte{0x00, 0x09}})

		o := waitConnect(t, done)
		assert.ErrorIs(t, o.err, ErrProtocolError)
		assert.ErrorIs(t, o.err, ErrMalformedPacket)
	})
}

func TestClientConnectFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		c, b := newTestClient(t)
		b.pipe.connectErr = errors.New("refused")

		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrConnectionLost)
		assert.Equal(t, StateClosed, c.State())
		assert.ErrorIs(t, c.Err(), ErrConnectionLost)
	})

	t.Run("connect timeout", func(t *testing.T) {
		c, b := newTestClient(t, WithConnectTimeout(100*time.Millisecond))
		done := startConnect(c)
		b.expect(PacketCONNECT)

		o := waitConnect(t, done)
		assert.ErrorIs(t, o.err, ErrConnectTimeout)
		assert.Equal(t, StateClosed, c.State())
	})

	t.Run("context canceled", func(t *testing.T) {
		c, b := newTestClient(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			_, err := c.Connect(ctx)
			done <- err
		}()
		b.expect(PacketCONNECT)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(testWait):
			require.FailNow(t, "Connect did not return")
		}
		assert.Equal(t, StateClosed, c.State())
	})

	t.Run("packet before CONNACK", func(t *testing.T) {
		c, b := newTestClient(t)
		done := startConnect(c)
		b.expect(PacketCONNECT)
		b.send(&PingPacket{PacketType: PacketPINGRESP})

		o := waitConnect(t, done)
		assert.ErrorIs(t, o.err, ErrProtocolError)
	})

	t.Run("session present with clean start", func(t *testing.T) {
		c, b := newTestClient(t)
		_, o := handshake(t, c, b, &ConnackPacket{SessionPresent: true})
		assert.ErrorIs(t, o.err, ErrProtocolError)
		waitDone(t, c.Done())
	})

	t.Run("property not allowed in CONNACK", func(t *testing.T) {
		c, b := newTestClient(t)
		done := startConnect(c)
		b.expect(PacketCONNECT)
		b.sendFrame(connackFrame(byte(PropTopicAlias), 0x00, 0x01))

		o := waitConnect(t, done)
		assert.ErrorIs(t, o.err, ErrProtocolError)
		assert.ErrorIs(t, o.err, ErrPropertyNotAllowed)
	})

	t.Run("twice", func(t *testing.T) {
		c, _ := dial(t)
		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrAlreadyConnected)
	})

	t.Run("after close", func(t *testing.T) {
		c, _ := dial(t)
		require.NoError(t, c.Disconnect(context.Background()))
		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrClientClosed)
	})
}

func TestClientConnectAsync(t *testing.T) {
	completed := make(chan *Result, 1)
	c, b := newTestClient(t, WithHandler(HandlerFuncs{
		Complete: func(_ *Client, r *Result) { completed <- r },
	}))

	r, err := c.ConnectAsync(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Async())
	assert.Equal(t, OpConnect, r.Kind())

	b.expect(PacketCONNECT)
	b.send(&ConnackPacket{})

	select {
	case got := <-completed:
		assert.Same(t, r, got)
		assert.NoError(t, got.Err())
	case <-time.After(testWait):
		require.FailNow(t, "OnComplete not called")
	}
	assert.True(t, c.IsConnected())
}

func TestClientConnackClamp(t *testing.T) {
	c, b := newTestClient(t, WithClientID(""), WithReceiveMaximum(100))

	done := startConnect(c)
	b.expect(PacketCONNECT)
	b.sendFrame(connackFrame(
		byte(PropAssignedClientIdentifier), 0x00, 0x05, 's', 'r', 'v', '-', '1',
		byte(PropReceiveMaximum), 0x00, 0x02,
		byte(PropMaximumQoS), 0x01,
		byte(PropRetainAvailable), 0x00,
		byte(PropMaximumPacketSize), 0x00, 0x00, 0x00, 0x40,
		byte(PropWildcardSubAvailable), 0x00,
		byte(PropSharedSubAvailable), 0x00,
		byte(PropSubscriptionIDAvailable), 0x00,
		byte(PropResponseInformation), 0x00, 0x02, 'r', '/',
	))
	o := waitConnect(t, done)
	require.NoError(t, o.err)

	info := c.ConnectionInfo()
	assert.Equal(t, "srv-1", info.ClientID)
	assert.Equal(t, "srv-1", c.ClientID())
	assert.Equal(t, uint16(2), info.ReceiveMaximum)
	assert.Equal(t, byte(1), info.MaximumQoS)
	assert.False(t, info.RetainAvailable)
	assert.Equal(t, uint32(64), info.MaximumPacketSize)
	assert.False(t, info.WildcardAvailable)
	assert.False(t, info.SharedAvailable)
	assert.False(t, info.SubIDAvailable)
	assert.Equal(t, "r/", info.ResponseInformation)
	assert.Equal(t, uint16(2), c.flow.Maximum())

	ctx := context.Background()

	_, err := c.Publish(ctx, &Message{Topic: "a", QoS: 2})
	assert.ErrorIs(t, err, ErrQoSNotSupported)

	_, err = c.Publish(ctx, &Message{Topic: "a", Retain: true})
	assert.ErrorIs(t, err, ErrRetainNotSupported)

	_, err = c.Publish(ctx, &Message{Topic: "a", Payload: make([]byte, 100)})
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = c.Subscribe(ctx, []Subscription{{Filter: "a/+"}})
	assert.ErrorIs(t, err, ErrFeatureNotSupported)

	_, err = c.Subscribe(ctx, []Subscription{{Filter: "$share/g/a"}})
	assert.ErrorIs(t, err, ErrFeatureNotSupported)

	_, err = c.Subscribe(ctx, []Subscription{{Filter: "a"}}, WithSubscriptionID(3))
	assert.ErrorIs(t, err, ErrFeatureNotSupported)

	b.quiet(50 * time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestClientConnackInvalidLimits(t *testing.T) {
	tests := []struct {
		name  string
		props []byte
	}{
		{"receive maximum 0", []byte{byte(PropReceiveMaximum), 0x00, 0x00}},
		{"maximum QoS 2", []byte{byte(PropMaximumQoS), 0x02}},
		{"maximum packet size 0", []byte{byte(PropMaximumPacketSize), 0, 0, 0, 0}},
		{"duplicate property", []byte{byte(PropMaximumQoS), 0x01, byte(PropMaximumQoS), 0x01}},
		{"unknown property", []byte{0x7F, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, b := newTestClient(t)
			done := startConnect(c)
			b.expect(PacketCONNECT)
			b.sendFrame(connackFrame(tt.props...))

			o := waitConnect(t, done)
			assert.ErrorIs(t, o.err, ErrProtocolError)
			assert.Equal(t, StateClosed, c.State())
		})
	}
}

func TestClientDisconnect(t *testing.T) {
	t.Run("graceful", func(t *testing.T) {
		c, b := dial(t, WithSessionExpiryInterval(30))

		err := c.Disconnect(context.Background(),
			WithReasonCode(ReasonDisconnectWithWill),
			WithReasonString("bye"),
			WithDisconnectSessionExpiry(0),
			WithDisconnectUserProperty("k", "v"),
		)
		require.NoError(t, err)

		p := b.expect(PacketDISCONNECT).(*DisconnectPacket)
		assert.Equal(t, ReasonDisconnectWithWill, p.ReasonCode)
		assert.Equal(t, "bye", p.Props.GetString(PropReasonString))
		expiry, ok := p.Props.GetUint(PropSessionExpiryInterval)
		assert.True(t, ok)
		assert.Equal(t, uint32(0), expiry)
		assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, p.Props.UserProperties())

		assert.Equal(t, 1, b.pipe.disconnectCount())
		assert.Equal(t, StateClosed, c.State())
		assert.ErrorIs(t, c.Err(), ErrDisconnected)
		waitDone(t, c.Done())
	})

	t.Run("transport closes first", func(t *testing.T) {
		c, b := dial(t)

		require.True(t, c.state.transition(StateConnected, StateDisconnecting))
		require.NoError(t, b.pipe.Terminate())

		waitDone(t, c.Done())
		assert.ErrorIs(t, c.Err(), ErrDisconnected)
		assert.Equal(t, StateClosed, c.State())
	})

	t.Run("repeated", func(t *testing.T) {
		for range 200 {
			c, b := dial(t)
			require.NoError(t, c.Disconnect(context.Background()))
			b.expect(PacketDISCONNECT)
			require.ErrorIs(t, c.Err(), ErrDisconnected)
		}
	})

	t.Run("fails outstanding operations", func(t *testing.T) {
		c, b := dial(t)
		r, err := c.Publish(context.Background(), &Message{Topic: "a", QoS: 1}, WithAsync())
		require.NoError(t, err)
		b.expectPublish()

		require.NoError(t, c.Disconnect(context.Background()))
		waitDone(t, r.Done())
		assert.ErrorIs(t, r.Err(), ErrDisconnected)
		assert.Equal(t, 0, c.InFlight())
	})

	t.Run("invalid reason code", func(t *testing.T) {
		c, _ := dial(t)
		err := c.Disconnect(context.Background(), WithReasonCode(ReasonGrantedQoS1))
		assert.ErrorIs(t, err, ErrInvalidOption)
		assert.True(t, c.IsConnected())
	})

	t.Run("session expiry after zero", func(t *testing.T) {
		c, _ := dial(t)
		err := c.Disconnect(context.Background(), WithDisconnectSessionExpiry(10))
		assert.ErrorIs(t, err, ErrInvalidOption)
		assert.True(t, c.IsConnected())
	})

	t.Run("not connected", func(t *testing.T) {
		c, b := newTestClient(t)
		assert.NoError(t, c.Disconnect(context.Background()))
		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, 0, b.pipe.disconnectCount())
	})

	t.Run("legacy has no body", func(t *testing.T) {
		c, b := dial(t, WithProtocolVersion(ProtocolV311), WithClientID("x"))
		require.NoError(t, c.Disconnect(context.Background(), WithReasonString("ignored")))

		f := b.nextFrame(testWait)
		assert.Equal(t, PacketDISCONNECT, f.Type)
		assert.Empty(t, f.Payload)
	})
}

func TestClientServerDisconnect(t *testing.T) {
	disconnected := make(chan error, 1)
	c, b := dial(t, WithHandler(HandlerFuncs{
		Disconnect: func(_ *Client, err error) { disconnected <- err },
	}))

	r, err := c.Publish(context.Background(), &Message{Topic: "a", QoS: 1}, WithAsync())
	require.NoError(t, err)
	b.expectPublish()

	p := &DisconnectPacket{ReasonCode: ReasonServerShuttingDown}
	p.Props.Add(PropReasonString, "maintenance")
	p.Props.Add(PropServerReference, "other:1883")
	b.send(p)

	waitDone(t, c.Done())

	var dErr *DisconnectError
	require.ErrorAs(t, c.Err(), &dErr)
	assert.Equal(t, ReasonServerShuttingDown, dErr.ReasonCode)
	assert.Equal(t, "maintenance", dErr.ReasonString)
	assert.Equal(t, "other:1883", dErr.ServerReference)
	assert.ErrorIs(t, c.Err(), ErrServerDisconnect)

	waitDone(t, r.Done())
	assert.ErrorIs(t, r.Err(), ErrServerDisconnect)

	select {
	case err := <-disconnected:
		assert.ErrorIs(t, err, ErrServerDisconnect)
	case <-time.After(testWait):
		require.FailNow(t, "OnDisconnect not called")
	}
}

func TestClientConnectionLost(t *testing.T) {
	c, b := dial(t)
	r, err := c.Subscribe(context.Background(), []Subscription{{Filter: "a"}}, WithAsync())
	require.NoError(t, err)
	b.expect(PacketSUBSCRIBE)

	require.NoError(t, b.pipe.Terminate())

	waitDone(t, c.Done())
	assert.ErrorIs(t, c.Err(), ErrConnectionLost)
	var lost *ConnectionLostError
	require.ErrorAs(t, c.Err(), &lost)
	assert.ErrorIs(t, lost.Cause, io.EOF)

	waitDone(t, r.Done())
	assert.ErrorIs(t, r.Err(), ErrConnectionLost)

	_, err = c.Publish(context.Background(), &Message{Topic: "a"})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClientProtocolViolation(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		code  ReasonCode
		is    error
	}{
		{
			name:  "truncated PUBACK",
			frame: Frame{Type: PacketPUBACK, Payload: []byte{0x00}},
			code:  ReasonMalformedPacket,
			is:    ErrMalformedPacket,
		},
		{
			name:  "reserved flags",
			frame: Frame{Type: PacketPINGRESP, Flags: 0x01},
			code:  ReasonMalformedPacket,
			is:    ErrInvalidPacketFlags,
		},
		{
			name:  "client-only packet",
			frame: Frame{Type: PacketPINGREQ},
			code:  ReasonProtocolError,
			is:    ErrInvalidPacketType,
		},
		{
			name:  "unexpected CONNACK",
			frame: Frame{Type: PacketCONNACK, Payload: []byte{0x00, 0x00}},
			code:  ReasonProtocolError,
			is:    ErrProtocolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, b := dial(t)
			b.sendFrame(tt.frame)

			p := b.expect(PacketDISCONNECT).(*DisconnectPacket)
			assert.Equal(t, tt.code, p.ReasonCode)

			waitDone(t, c.Done())
			assert.ErrorIs(t, c.Err(), ErrProtocolError)
			assert.ErrorIs(t, c.Err(), tt.is)
		})
	}
}

func TestClientPacketTooLarge(t *testing.T) {
	c, b := dial(t, WithMaxPacketSize(16))
	b.send(&PublishPacket{Topic: "a/b", Payload: make([]byte, 64)})

	p := b.expect(PacketDISCONNECT).(*DisconnectPacket)
	assert.Equal(t, ReasonPacketTooLarge, p.ReasonCode)

	waitDone(t, c.Done())
	assert.ErrorIs(t, c.Err(), ErrPacketTooLarge)
}

func TestClientRenew(t *testing.T) {
	t.Run("requires closed", func(t *testing.T) {
		c, _ := dial(t)
		_, err := c.Renew()
		assert.ErrorIs(t, err, ErrInvalidOption)
	})

	t.Run("reconnects on the same transport", func(t *testing.T) {
		c, b := newTestClient(t, WithClientID(""))
		connack := &ConnackPacket{}
		connack.Props.Add(PropAssignedClientIdentifier, "assigned")
		_, o := handshake(t, c, b, connack)
		require.NoError(t, o.err)
		require.NoError(t, c.Disconnect(context.Background()))
		b.expect(PacketDISCONNECT)

		n, err := c.Renew()
		require.NoError(t, err)
		t.Cleanup(func() { n.teardown(ErrDisconnected) })
		assert.Equal(t, StateIdle, n.State())
		assert.Equal(t, "assigned", n.ClientID())

		connect, o := handshake(t, n, b, nil)
		require.NoError(t, o.err)
		assert.Equal(t, "assigned", connect.ClientID)
		assert.True(t, n.IsConnected())
	})

	t.Run("keeps QoS 2 awaiting PUBREL", func(t *testing.T) {
		c, b := dial(t, WithClientID("persist"), WithCleanStart(false), WithSessionExpiryInterval(300))

		b.send(&PublishPacket{Topic: "a", QoS: 2, PacketID: 9})
		rec := b.expectAck(PacketPUBREC)
		assert.Equal(t, uint16(9), rec.PacketID)

		require.NoError(t, b.pipe.Terminate())
		waitDone(t, c.Done())

		n, err := c.Renew()
		require.NoError(t, err)
		t.Cleanup(func() { n.teardown(ErrDisconnected) })
		assert.Equal(t, []uint16{9}, n.pending.inboundAwaitingPubrel())

		connect, o := handshake(t, n, b, &ConnackPacket{SessionPresent: true})
		require.NoError(t, o.err)
		assert.False(t, connect.CleanStart)
		assert.True(t, o.result.SessionPresent())

		b.send(&PublishPacket{Topic: "a", QoS: 2, PacketID: 9, Dup: true})
		rec = b.expectAck(PacketPUBREC)
		assert.Equal(t, ReasonSuccess, rec.ReasonCode)

		b.send(&AckPacket{PacketType: PacketPUBREL, PacketID: 9})
		comp := b.expectAck(PacketPUBCOMP)
		assert.Equal(t, ReasonSuccess, comp.ReasonCode)
		assert.Equal(t, 0, n.pending.inboundLen())
	})
}

func TestClientUsageBeforeConnect(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Publish(ctx, &Message{Topic: "a"})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Subscribe(ctx, []Subscription{{Filter: "a"}})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Unsubscribe(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Reauthenticate(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}
