package mqttclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultKeepAlive         = 60
	DefaultConnectTimeout    = 30 * time.Second
	DefaultAckTimeout        = 30 * time.Second
	DefaultDeliveryQueueSize = 1024

	// maxClientIDLenV31 is the longest client identifier MQTT 3.1 servers must accept.
	maxClientIDLenV31 = 23
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Connection settings
	version      ProtocolVersion
	protocolName string
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanStart   bool
	will         *WillMessage

	// CONNECT properties (v5)
	sessionExpiry       uint32
	receiveMaximum      uint16
	maxPacketSize       uint32
	topicAliasMaximum   uint16
	requestResponseInfo bool
	requestProblemInfo  *bool
	userProperties      []StringPair

	// Local cap on aliases we assign; clamped to the server's maximum.
	outboundTopicAliasMaximum uint16

	// Timeouts
	connectTimeout time.Duration
	ackTimeout     time.Duration

	// Delivery
	handler           Handler
	blockingReceive   bool
	deliveryQueueSize int
	autoAck           bool

	// Enhanced authentication
	authenticator ClientEnhancedAuthenticator

	// Observability
	logger         Logger
	metrics        Metrics
	tracerProvider trace.TracerProvider

	publishLimiter *rate.Limiter

	// Transport settings used by NewFromURL.
	transport TransportConfig
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		version:           ProtocolV5,
		keepAlive:         DefaultKeepAlive,
		cleanStart:        true,
		receiveMaximum:    defaultReceiveMaximum,
		connectTimeout:    DefaultConnectTimeout,
		ackTimeout:        DefaultAckTimeout,
		deliveryQueueSize: DefaultDeliveryQueueSize,
		autoAck:           true,
		logger:            NewNoOpLogger(),
		metrics:           NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

func applyOptions(opts ...Option) (*clientOptions, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *clientOptions) validate() error {
	if !o.version.Valid() {
		return fmt.Errorf("%w: protocol version %d", ErrInvalidOption, byte(o.version))
	}
	if o.handler != nil && o.blockingReceive {
		return fmt.Errorf("%w: handler and blocking receive are mutually exclusive", ErrInvalidOption)
	}
	if o.receiveMaximum == 0 {
		return fmt.Errorf("%w: receive maximum must be greater than 0", ErrInvalidOption)
	}
	if o.deliveryQueueSize < 0 {
		return fmt.Errorf("%w: delivery queue size %d", ErrInvalidOption, o.deliveryQueueSize)
	}
	if o.connectTimeout <= 0 || o.ackTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidOption)
	}
	if o.will != nil {
		if err := o.will.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
	}
	if o.version < ProtocolV5 {
		if o.clientID == "" && !o.cleanStart {
			return fmt.Errorf("%w: empty client id requires clean start before MQTT 5", ErrInvalidOption)
		}
		if o.authenticator != nil {
			return fmt.Errorf("%w: enhanced authentication requires MQTT 5", ErrInvalidOption)
		}
		if o.password != nil && o.username == "" {
			return fmt.Errorf("%w: password without username requires MQTT 5", ErrInvalidOption)
		}
	}
	if o.version == ProtocolV31 && len(o.clientID) > maxClientIDLenV31 {
		return fmt.Errorf("%w: MQTT 3.1 client id longer than %d", ErrInvalidOption, maxClientIDLenV31)
	}
	return nil
}

// generateClientID returns a random identifier. MQTT 3.1 servers only have
// to accept 23 characters, so the hex form is cut there.
func generateClientID(v ProtocolVersion) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if v == ProtocolV31 {
		return id[:maxClientIDLenV31]
	}
	return id
}

// WithProtocolVersion selects MQTT 3.1, 3.1.1 or 5 (the default).
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(o *clientOptions) {
		o.version = v
	}
}

// WithProtocolName overrides the protocol name in CONNECT.
func WithProtocolName(name string) Option {
	return func(o *clientOptions) {
		o.protocolName = name
	}
}

// WithClientID sets the client identifier. When empty, an MQTT 5 server
// assigns one; for older versions, a random one is generated.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. 0 disables it.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanStart sets whether to start with a clean session.
func WithCleanStart(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanStart = clean
	}
}

// WithWill sets the will message.
func WithWill(will *WillMessage) Option {
	return func(o *clientOptions) {
		o.will = will
	}
}

// WithSessionExpiryInterval sets the session expiry interval in seconds (v5).
func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *clientOptions) {
		o.sessionExpiry = seconds
	}
}

// WithReceiveMaximum limits how many QoS 1 and 2 publishes may be in flight,
// in both directions.
func WithReceiveMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.receiveMaximum = maxValue
	}
}

// WithMaxPacketSize sets the largest packet the client accepts. 0 means no limit.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxPacketSize = size
	}
}

// WithTopicAliasMaximum sets how many aliases the server may assign (v5).
func WithTopicAliasMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.topicAliasMaximum = maxValue
	}
}

// WithOutboundTopicAliasMaximum sets how many aliases the client assigns to
// its own publishes (v5). The server's Topic Alias Maximum caps it.
func WithOutboundTopicAliasMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.outboundTopicAliasMaximum = maxValue
	}
}

// WithRequestResponseInfo asks the server for response information (v5).
func WithRequestResponseInfo(request bool) Option {
	return func(o *clientOptions) {
		o.requestResponseInfo = request
	}
}

// WithRequestProblemInfo controls whether the server may send reason strings
// and user properties on failures (v5).
func WithRequestProblemInfo(request bool) Option {
	return func(o *clientOptions) {
		o.requestProblemInfo = &request
	}
}

// WithUserProperty adds a user property to CONNECT (v5).
func WithUserProperty(key, value string) Option {
	return func(o *clientOptions) {
		o.userProperties = append(o.userProperties, StringPair{Key: key, Value: value})
	}
}

// WithConnectTimeout bounds the wait for CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithAckTimeout bounds the wait for acknowledgments of synchronous operations.
func WithAckTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.ackTimeout = d
	}
}

// WithHandler delivers messages and asynchronous completions to h on a
// dispatch goroutine.
func WithHandler(h Handler) Option {
	return func(o *clientOptions) {
		o.handler = h
	}
}

// WithBlockingReceive queues inbound messages for Receive.
func WithBlockingReceive() Option {
	return func(o *clientOptions) {
		o.blockingReceive = true
	}
}

// WithDeliveryQueueSize sets the capacity of the delivery queue. When it is
// full the receive loop stops reading from the server.
func WithDeliveryQueueSize(n int) Option {
	return func(o *clientOptions) {
		o.deliveryQueueSize = n
	}
}

// WithAutoAck controls whether QoS 1 messages are acknowledged after the
// handler returns (or Receive hands them out). With false, call Acknowledge.
func WithAutoAck(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoAck = enabled
	}
}

// WithEnhancedAuthentication enables v5 enhanced authentication.
func WithEnhancedAuthentication(auth ClientEnhancedAuthenticator) Option {
	return func(o *clientOptions) {
		o.authenticator = auth
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracerProvider records a span per operation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithPublishRateLimit allows r publishes per second with bursts of burst.
func WithPublishRateLimit(r float64, burst int) Option {
	return func(o *clientOptions) {
		if burst < 1 {
			burst = 1
		}
		o.publishLimiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithTLS sets the TLS configuration used by NewFromURL.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.transport.TLSConfig = config
	}
}

// WithProxy routes NewFromURL connections through a proxy.
func WithProxy(cfg *ProxyConfig) Option {
	return func(o *clientOptions) {
		o.transport.Proxy = cfg
	}
}

// WithProxyFromEnvironment makes NewFromURL honor HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnvironment() Option {
	return func(o *clientOptions) {
		o.transport.ProxyFromEnvironment = true
	}
}

// WithWebSocketHeader sets headers for the WebSocket handshake of NewFromURL.
func WithWebSocketHeader(h http.Header) Option {
	return func(o *clientOptions) {
		o.transport.Header = h
	}
}

// WithDialTimeout bounds TCP and TLS dials of NewFromURL.
func WithDialTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.transport.DialTimeout = d
	}
}

// OpOption configures a single Publish, Subscribe or Unsubscribe call.
type OpOption func(*opOptions)

type opOptions struct {
	async          bool
	subscriptionID uint32
	userProperties []StringPair
}

func applyOpOptions(opts []OpOption) opOptions {
	var o opOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithAsync returns the Result without waiting for the acknowledgment. With a
// handler configured, completion is also reported to Handler.OnComplete.
func WithAsync() OpOption {
	return func(o *opOptions) {
		o.async = true
	}
}

// WithSubscriptionID tags a SUBSCRIBE with a subscription identifier (v5).
func WithSubscriptionID(id uint32) OpOption {
	return func(o *opOptions) {
		o.subscriptionID = id
	}
}

// WithOpUserProperty adds a user property to SUBSCRIBE or UNSUBSCRIBE (v5).
// For PUBLISH use Message.UserProperties.
func WithOpUserProperty(key, value string) OpOption {
	return func(o *opOptions) {
		o.userProperties = append(o.userProperties, StringPair{Key: key, Value: value})
	}
}

// DisconnectOption configures Disconnect.
type DisconnectOption func(*disconnectOptions)

type disconnectOptions struct {
	reasonCode     ReasonCode
	reasonString   string
	sessionExpiry  *uint32
	userProperties []StringPair
}

// WithReasonCode sets the DISCONNECT reason code (v5).
func WithReasonCode(code ReasonCode) DisconnectOption {
	return func(o *disconnectOptions) {
		o.reasonCode = code
	}
}

// WithReasonString sets the DISCONNECT reason string (v5).
func WithReasonString(reason string) DisconnectOption {
	return func(o *disconnectOptions) {
		o.reasonString = reason
	}
}

// WithDisconnectSessionExpiry overrides the session expiry interval (v5).
// It may not be set to a non-zero value if CONNECT used 0.
func WithDisconnectSessionExpiry(seconds uint32) DisconnectOption {
	return func(o *disconnectOptions) {
		o.sessionExpiry = &seconds
	}
}

// WithDisconnectUserProperty adds a user property to DISCONNECT (v5).
func WithDisconnectUserProperty(key, value string) DisconnectOption {
	return func(o *disconnectOptions) {
		o.userProperties = append(o.userProperties, StringPair{Key: key, Value: value})
	}
}
