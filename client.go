package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Client is one MQTT session over a Transport. A client connects once; after
// it closes, Renew returns a fresh client with the same settings.
type Client struct {
	options   *clientOptions
	transport Transport
	logger    Logger
	metrics   clientMetrics
	tracer    trace.Tracer

	state   connState
	pending *pendingStore
	flow    *flowController
	aliases atomic.Pointer[topicAliases]
	aliasMu sync.Mutex // orders outbound alias assignment with the write
	auth    *authExchange

	mu           sync.Mutex
	info         ConnectionInfo
	lastErr      error
	reauth       *Result
	connectTimer *time.Timer

	lastInbound  atomic.Int64
	lastOutbound atomic.Int64
	pingResp     chan struct{}
	timedOut     atomic.Bool

	deliveries   chan delivery
	closed       chan struct{}
	closeOnce    sync.Once
	receiveDone  chan struct{}
	dispatchDone chan struct{}

	watchdogStop chan struct{}
	watchdogOnce sync.Once
}

// New creates a client that talks over t. Nothing is sent until Connect.
func New(t Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidOption)
	}

	options, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}
	return newClient(t, options), nil
}

// NewFromURL creates a client with a transport chosen by the URL scheme
// (see NewTransport). WithTLS, WithProxy and WithWebSocketHeader apply here.
func NewFromURL(serverURL string, opts ...Option) (*Client, error) {
	options, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}

	cfg := options.transport
	t, err := NewTransport(serverURL, &cfg)
	if err != nil {
		return nil, err
	}
	return newClient(t, options), nil
}

func newClient(t Transport, options *clientOptions) *Client {
	if options.clientID == "" && options.version < ProtocolV5 {
		options.clientID = generateClientID(options.version)
	}

	c := &Client{
		options:      options,
		transport:    t,
		logger:       options.logger,
		metrics:      newClientMetrics(options.metrics),
		tracer:       newTracer(options.tracerProvider),
		pending:      newPendingStore(),
		flow:         newFlowController(options.receiveMaximum),
		info:         defaultConnectionInfo(options),
		pingResp:     make(chan struct{}, 1),
		deliveries:   make(chan delivery, options.deliveryQueueSize),
		closed:       make(chan struct{}),
		receiveDone:  make(chan struct{}),
		dispatchDone: make(chan struct{}),
		watchdogStop: make(chan struct{}),
	}
	c.aliases.Store(newTopicAliases(0, 0))

	if options.authenticator != nil {
		c.auth = &authExchange{auth: options.authenticator}
	}

	return c
}

// State returns the lifecycle state.
func (c *Client) State() State { return c.state.get() }

// IsConnected reports whether the handshake completed and the connection is up.
func (c *Client) IsConnected() bool { return c.state.get() == StateConnected }

// ProtocolVersion returns the protocol version in use.
func (c *Client) ProtocolVersion() ProtocolVersion { return c.options.version }

// ClientID returns the client identifier, including one assigned by the server.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.ClientID
}

// ConnectionInfo returns the settings negotiated with the server.
func (c *Client) ConnectionInfo() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	info.UserProperties = append([]StringPair(nil), c.info.UserProperties...)
	return info
}

// Err returns the error that closed the client, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Done is closed when the client closes.
func (c *Client) Done() <-chan struct{} { return c.closed }

// InFlight returns the number of outbound QoS 1 and 2 publishes awaiting acknowledgment.
func (c *Client) InFlight() int { return int(c.flow.InFlight()) }

// Connect sends CONNECT and waits for CONNACK, bounded by ctx and the
// connect timeout. The Result carries the reason code and session present flag.
func (c *Client) Connect(ctx context.Context) (*Result, error) {
	r, err := c.connect(ctx, false)
	if err != nil {
		return r, err
	}

	select {
	case <-r.Done():
	case <-ctx.Done():
		c.teardown(ctx.Err())
	}
	return r, r.Err()
}

// ConnectAsync sends CONNECT and returns at once. The Result completes when
// CONNACK arrives, and is also reported to Handler.OnComplete if a handler is set.
func (c *Client) ConnectAsync(ctx context.Context) (*Result, error) {
	return c.connect(ctx, true)
}

func (c *Client) connect(ctx context.Context, async bool) (*Result, error) {
	if !c.state.transition(StateIdle, StateConnecting) {
		if c.state.get() == StateClosed {
			return nil, ErrClientClosed
		}
		return nil, ErrAlreadyConnected
	}

	r := newResult(OpConnect, async)
	c.traceResult(ctx, r, attrVersion.Int(int(c.options.version)))
	c.watchAsync(r)

	if err := c.pending.register(0, r); err != nil {
		c.teardown(err)
		return r, err
	}

	if err := c.transport.Connect(ctx); err != nil {
		err = NewConnectionLostError(err)
		c.teardown(err)
		return r, err
	}

	if rl, ok := c.transport.(readLimiter); ok && c.options.maxPacketSize > 0 {
		rl.SetReadLimit(c.options.maxPacketSize)
	}

	pkt, err := c.connectPacket(ctx)
	if err != nil {
		c.teardown(err)
		return r, err
	}

	now := time.Now().UnixNano()
	c.lastInbound.Store(now)
	c.lastOutbound.Store(now)

	go c.readLoop()
	if c.options.handler != nil {
		go c.dispatchLoop()
	} else {
		close(c.dispatchDone)
	}

	c.mu.Lock()
	c.connectTimer = time.AfterFunc(c.options.connectTimeout, c.connectTimedOut)
	c.mu.Unlock()

	if err := c.writePacket(pkt); err != nil {
		err = NewConnectionLostError(err)
		c.teardown(err)
		return r, err
	}

	c.logger.Debug("CONNECT sent", LogFields{
		LogFieldClientID:  pkt.ClientID,
		LogFieldVersion:   c.options.version.String(),
		LogFieldKeepAlive: pkt.KeepAlive,
	})

	return r, nil
}

func (c *Client) connectTimedOut() {
	if c.state.get() != StateConnecting {
		return
	}
	c.logger.Warn("no CONNACK within connect timeout", LogFields{
		LogFieldClientID: c.ClientID(),
	})
	c.teardown(ErrConnectTimeout)
}

func (c *Client) stopConnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
}

func (c *Client) connectPacket(ctx context.Context) (*ConnectPacket, error) {
	o := c.options
	pkt := &ConnectPacket{
		ProtocolName: o.protocolName,
		Version:      o.version,
		CleanStart:   o.cleanStart,
		KeepAlive:    o.keepAlive,
		ClientID:     o.clientID,
		Username:     o.username,
		Password:     o.password,
		Will:         o.will,
	}

	if o.version < ProtocolV5 {
		return pkt, nil
	}

	if o.sessionExpiry > 0 {
		pkt.Props.Add(PropSessionExpiryInterval, o.sessionExpiry)
	}
	if o.receiveMaximum != defaultReceiveMaximum {
		pkt.Props.Add(PropReceiveMaximum, o.receiveMaximum)
	}
	if o.maxPacketSize > 0 {
		pkt.Props.Add(PropMaximumPacketSize, o.maxPacketSize)
	}
	if o.topicAliasMaximum > 0 {
		pkt.Props.Add(PropTopicAliasMaximum, o.topicAliasMaximum)
	}
	if o.requestResponseInfo {
		pkt.Props.Add(PropRequestResponseInfo, true)
	}
	if o.requestProblemInfo != nil && !*o.requestProblemInfo {
		pkt.Props.Add(PropRequestProblemInfo, byte(0))
	}
	for _, up := range o.userProperties {
		pkt.Props.Add(PropUserProperty, up)
	}

	if c.auth != nil {
		data, err := c.auth.start(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		pkt.Props.Add(PropAuthenticationMethod, c.auth.auth.AuthMethod())
		if len(data) > 0 {
			pkt.Props.Add(PropAuthenticationData, data)
		}
	}

	return pkt, nil
}

// Disconnect sends DISCONNECT and closes the connection. If the client is
// not connected it only stops the keep-alive watchdog.
func (c *Client) Disconnect(ctx context.Context, opts ...DisconnectOption) error {
	var o disconnectOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if !o.reasonCode.ValidFor(PacketDISCONNECT) {
		return fmt.Errorf("%w: DISCONNECT reason code %s", ErrInvalidOption, o.reasonCode)
	}
	if o.sessionExpiry != nil && *o.sessionExpiry != 0 && c.options.sessionExpiry == 0 {
		return fmt.Errorf("%w: session expiry cannot be set on DISCONNECT when CONNECT used 0", ErrInvalidOption)
	}

	if !c.state.transition(StateConnected, StateDisconnecting) {
		if c.state.get() == StateConnecting {
			c.teardown(ErrDisconnected)
		}
		c.stopWatchdog()
		return nil
	}

	pkt := &DisconnectPacket{ReasonCode: o.reasonCode}
	if o.sessionExpiry != nil {
		pkt.Props.Add(PropSessionExpiryInterval, *o.sessionExpiry)
	}
	if o.reasonString != "" {
		pkt.Props.Add(PropReasonString, o.reasonString)
	}
	for _, up := range o.userProperties {
		pkt.Props.Add(PropUserProperty, up)
	}

	sendErr := c.writePacket(pkt)
	if err := c.transport.Disconnect(o.reasonCode, o.reasonString); err != nil {
		c.logger.Debug("transport close failed", LogFields{LogFieldError: err.Error()})
	}
	c.teardown(ErrDisconnected)

	select {
	case <-c.receiveDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return sendErr
}

// teardown closes the client once. Every outstanding operation fails with err.
func (c *Client) teardown(err error) {
	c.closeOnce.Do(func() {
		prev := c.state.get()
		c.state.set(StateClosed)

		c.mu.Lock()
		c.lastErr = err
		reauth := c.reauth
		c.reauth = nil
		if c.connectTimer != nil {
			c.connectTimer.Stop()
		}
		c.mu.Unlock()

		close(c.closed)
		c.transport.Terminate()
		c.stopWatchdog()

		for _, r := range c.pending.drain(!c.options.cleanStart) {
			r.fail(err)
		}
		if reauth != nil {
			reauth.fail(err)
		}
		c.flow.Reset()
		c.metrics.inFlight(0)

		if prev == StateConnected || prev == StateDisconnecting {
			c.metrics.disconnected()
		}

		fields := LogFields{
			LogFieldClientID: c.ClientID(),
			LogFieldState:    prev.String(),
		}
		if err != nil {
			fields[LogFieldError] = err.Error()
		}
		if err == ErrDisconnected {
			c.logger.Info("disconnected", fields)
		} else {
			c.logger.Warn("connection closed", fields)
		}
	})
}

// writePacket encodes p and hands it to the transport.
func (c *Client) writePacket(p packet) error {
	w := getBuffer()
	defer putBuffer(w)

	control, err := encodePacketTo(w, p, c.options.version)
	if err != nil {
		return err
	}

	body := w.Bytes()
	size := frameSize(len(body))
	if limit := c.serverMaxPacketSize(); limit > 0 && uint32(size) > limit {
		return fmt.Errorf("%w: %s of %d bytes, server limit %d", ErrPacketTooLarge, p.Type(), size, limit)
	}

	if err := c.transport.Send(body, control); err != nil {
		return err
	}

	c.lastOutbound.Store(time.Now().UnixNano())
	c.metrics.packetSent(p.Type(), size)
	return nil
}

func (c *Client) serverMaxPacketSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.MaximumPacketSize
}

// Renew returns a new, unconnected client with the same settings and
// transport. A server-assigned client id is kept. Without clean start, QoS 2
// messages still waiting for PUBREL are carried over so their redelivery is
// recognized.
func (c *Client) Renew() (*Client, error) {
	if c.state.get() != StateClosed {
		return nil, fmt.Errorf("%w: client is still %s", ErrInvalidOption, c.state.get())
	}

	options := *c.options
	options.clientID = c.ClientID()

	n := newClient(c.transport, &options)
	if !options.cleanStart {
		n.pending.inheritAwaitingPubrel(c.pending.inboundAwaitingPubrel())
	}
	return n, nil
}

// checkConnected returns the usage error for operations that need a connection.
func (c *Client) checkConnected() error {
	switch c.state.get() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClientClosed
	default:
		return ErrNotConnected
	}
}
