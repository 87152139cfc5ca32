package mqttclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptionsDefaults(t *testing.T) {
	o, err := applyOptions()
	require.NoError(t, err)

	assert.Equal(t, ProtocolV5, o.version)
	assert.Equal(t, uint16(DefaultKeepAlive), o.keepAlive)
	assert.True(t, o.cleanStart)
	assert.True(t, o.autoAck)
	assert.Equal(t, uint16(defaultReceiveMaximum), o.receiveMaximum)
	assert.Equal(t, DefaultConnectTimeout, o.connectTimeout)
	assert.Equal(t, DefaultAckTimeout, o.ackTimeout)
	assert.Equal(t, DefaultDeliveryQueueSize, o.deliveryQueueSize)
	assert.Zero(t, o.outboundTopicAliasMaximum)
	assert.Nil(t, o.requestProblemInfo)
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.metrics)
}

func TestApplyOptions(t *testing.T) {
	header := http.Header{"X-Token": []string{"t"}}

	o, err := applyOptions(
		nil,
		WithProtocolVersion(ProtocolV311),
		WithProtocolName("MQTT"),
		WithClientID("sensor-1"),
		WithCredentials("user", "pass"),
		WithKeepAlive(15),
		WithCleanStart(false),
		WithWill(&WillMessage{Topic: "status", Payload: []byte("gone")}),
		WithSessionExpiryInterval(120),
		WithReceiveMaximum(8),
		WithMaxPacketSize(4096),
		WithTopicAliasMaximum(4),
		WithOutboundTopicAliasMaximum(6),
		WithRequestResponseInfo(true),
		WithRequestProblemInfo(false),
		WithUserProperty("a", "1"),
		WithUserProperty("b", "2"),
		WithConnectTimeout(time.Second),
		WithAckTimeout(2*time.Second),
		WithDeliveryQueueSize(0),
		WithAutoAck(false),
		WithLogger(nil),
		WithMetrics(nil),
		WithPublishRateLimit(10, 0),
		WithWebSocketHeader(header),
		WithDialTimeout(3*time.Second),
		WithProxyFromEnvironment(),
	)
	require.NoError(t, err)

	assert.Equal(t, ProtocolV311, o.version)
	assert.Equal(t, "MQTT", o.protocolName)
	assert.Equal(t, "sensor-1", o.clientID)
	assert.Equal(t, "user", o.username)
	assert.Equal(t, []byte("pass"), o.password)
	assert.Equal(t, uint16(15), o.keepAlive)
	assert.False(t, o.cleanStart)
	assert.Equal(t, "status", o.will.Topic)
	assert.Equal(t, uint32(120), o.sessionExpiry)
	assert.Equal(t, uint16(8), o.receiveMaximum)
	assert.Equal(t, uint32(4096), o.maxPacketSize)
	assert.Equal(t, uint16(4), o.topicAliasMaximum)
	assert.Equal(t, uint16(6), o.outboundTopicAliasMaximum)
	assert.True(t, o.requestResponseInfo)
	require.NotNil(t, o.requestProblemInfo)
	assert.False(t, *o.requestProblemInfo)
	assert.Equal(t, []StringPair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, o.userProperties)
	assert.Equal(t, time.Second, o.connectTimeout)
	assert.Equal(t, 2*time.Second, o.ackTimeout)
	assert.Zero(t, o.deliveryQueueSize)
	assert.False(t, o.autoAck)
	assert.NotNil(t, o.logger, "nil logger keeps the default")
	assert.NotNil(t, o.metrics, "nil metrics keeps the default")
	require.NotNil(t, o.publishLimiter)
	assert.Equal(t, 1, o.publishLimiter.Burst())
	assert.Equal(t, header, o.transport.Header)
	assert.Equal(t, 3*time.Second, o.transport.DialTimeout)
	assert.True(t, o.transport.ProxyFromEnvironment)
}

func TestApplyOptionsInvalid(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"protocol version", []Option{WithProtocolVersion(6)}},
		{"handler with blocking receive", []Option{WithHandler(HandlerFuncs{}), WithBlockingReceive()}},
		{"zero receive maximum", []Option{WithReceiveMaximum(0)}},
		{"negative queue", []Option{WithDeliveryQueueSize(-1)}},
		{"zero connect timeout", []Option{WithConnectTimeout(0)}},
		{"negative ack timeout", []Option{WithAckTimeout(-time.Second)}},
		{"will topic", []Option{WithWill(&WillMessage{Topic: "a/#"})}},
		{"persistent session without id", []Option{WithProtocolVersion(ProtocolV311), WithCleanStart(false)}},
		{"enhanced auth before v5", []Option{WithProtocolVersion(ProtocolV311), WithEnhancedAuthentication(NewSCRAMClient(SCRAMHashSHA256, "u", "p"))}},
		{"password without username before v5", []Option{WithProtocolVersion(ProtocolV311), WithCredentials("", "p")}},
		{"long 3.1 client id", []Option{WithProtocolVersion(ProtocolV31), WithClientID("abcdefghijklmnopqrstuvwxyz")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyOptions(tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}

	t.Run("password without username on v5", func(t *testing.T) {
		_, err := applyOptions(WithCredentials("", "token"))
		assert.NoError(t, err)
	})
}

func TestGenerateClientID(t *testing.T) {
	v5 := generateClientID(ProtocolV5)
	assert.Len(t, v5, 32)
	assert.NotContains(t, v5, "-")
	assert.NotEqual(t, v5, generateClientID(ProtocolV5))

	assert.Len(t, generateClientID(ProtocolV31), maxClientIDLenV31)
}

func TestOpOptions(t *testing.T) {
	o := applyOpOptions([]OpOption{nil, WithAsync(), WithSubscriptionID(9), WithOpUserProperty("k", "v")})
	assert.True(t, o.async)
	assert.Equal(t, uint32(9), o.subscriptionID)
	assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, o.userProperties)

	assert.Equal(t, opOptions{}, applyOpOptions(nil))
}

func TestDisconnectOptions(t *testing.T) {
	var o disconnectOptions
	for _, opt := range []DisconnectOption{
		WithReasonCode(ReasonDisconnectWithWill),
		WithReasonString("bye"),
		WithDisconnectSessionExpiry(30),
		WithDisconnectUserProperty("k", "v"),
	} {
		opt(&o)
	}

	assert.Equal(t, ReasonDisconnectWithWill, o.reasonCode)
	assert.Equal(t, "bye", o.reasonString)
	require.NotNil(t, o.sessionExpiry)
	assert.Equal(t, uint32(30), *o.sessionExpiry)
	assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, o.userProperties)
}
