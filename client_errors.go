package mqttclient

import (
	"errors"
	"fmt"
)

// Lifecycle and transport errors - check with errors.Is().
var (
	// ErrDisconnected completes operations cut short by a local Disconnect.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost wraps transport failures. Always fatal to the connection.
	ErrConnectionLost = errors.New("connection lost")

	// ErrServerDisconnect is reported when the server sends DISCONNECT.
	ErrServerDisconnect = errors.New("server disconnect")

	// ErrKeepAliveTimeout is reported when the server doesn't answer PINGREQ in time.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrConnectTimeout is returned when no CONNACK arrives within the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrTimeout completes an operation whose acknowledgment did not arrive in time.
	ErrTimeout = errors.New("operation timed out")
)

// Protocol errors - fatal, the connection is torn down.
var (
	// ErrProtocolError is returned when a protocol violation occurs.
	ErrProtocolError = errors.New("protocol error")

	// ErrPacketTooLarge is returned when a packet exceeds the negotiated maximum size.
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")
)

// Operation errors - reported to the issuing caller only.
var (
	ErrConnectFailed     = errors.New("connect failed")
	ErrPublishFailed     = errors.New("publish failed")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
	ErrAuthFailed        = errors.New("authentication failed")
)

// Usage errors - returned before any network activity.
var (
	ErrClientClosed       = errors.New("client closed")
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrInvalidTopic       = errors.New("invalid topic")
	ErrInvalidQoS         = errors.New("invalid QoS")
	ErrInvalidOption      = errors.New("invalid option")
	ErrHandlerConfigured  = errors.New("message handler configured, blocking receive unavailable")
	ErrQoSNotSupported    = errors.New("QoS exceeds server maximum")
	ErrRetainNotSupported = errors.New("retain not supported by server")
	ErrAckNotPending      = errors.New("message already acknowledged or not awaiting acknowledgment")
)

// newProtocolError marks cause as a protocol violation found while handling t.
func newProtocolError(t PacketType, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrProtocolError, t, cause)
}

// OperationError carries the failing reason code of an acknowledgment.
// Extract with errors.As().
type OperationError struct {
	err          error
	Kind         OpKind
	PacketID     uint16
	ReasonCode   ReasonCode
	ReasonString string
}

func (e *OperationError) Error() string {
	msg := e.err.Error() + ": " + e.ReasonCode.String()
	if e.ReasonString != "" {
		msg += " (" + e.ReasonString + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.err }

// NewOperationError creates an OperationError for an operation of the given kind.
func NewOperationError(kind OpKind, packetID uint16, reason ReasonCode, reasonString string) *OperationError {
	var base error
	switch kind {
	case OpConnect:
		base = ErrConnectFailed
	case OpSubscribe:
		base = ErrSubscribeFailed
	case OpUnsubscribe:
		base = ErrUnsubscribeFailed
	case OpAuth:
		base = ErrAuthFailed
	default:
		base = ErrPublishFailed
	}

	if kind == OpConnect && (reason == ReasonBadUserNameOrPassword || reason == ReasonNotAuthorized || reason == ReasonBadAuthMethod) {
		base = fmt.Errorf("%w: %w", ErrConnectFailed, ErrAuthFailed)
	}

	return &OperationError{
		err:          base,
		Kind:         kind,
		PacketID:     packetID,
		ReasonCode:   reason,
		ReasonString: reasonString,
	}
}

// DisconnectError describes a server-initiated DISCONNECT.
// Extract with errors.As().
type DisconnectError struct {
	err             error
	ReasonCode      ReasonCode
	ReasonString    string
	ServerReference string
}

func (e *DisconnectError) Error() string {
	msg := "server disconnect: " + e.ReasonCode.String()
	if e.ReasonString != "" {
		msg += " (" + e.ReasonString + ")"
	}
	return msg
}

func (e *DisconnectError) Unwrap() error { return e.err }

// NewDisconnectError creates a DisconnectError.
func NewDisconnectError(reason ReasonCode, reasonString, serverReference string) *DisconnectError {
	return &DisconnectError{
		err:             ErrServerDisconnect,
		ReasonCode:      reason,
		ReasonString:    reasonString,
		ServerReference: serverReference,
	}
}

// ConnectionLostError wraps the transport error that ended a connection.
// Extract with errors.As().
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.err}
	}
	return []error{e.err, e.Cause}
}

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// reasonForError picks the DISCONNECT reason code the client sends when err ends
// the connection.
func reasonForError(err error) ReasonCode {
	switch {
	case err == nil:
		return ReasonNormalDisconnection
	case errors.Is(err, ErrTopicAliasInvalid):
		return ReasonTopicAliasInvalid
	case errors.Is(err, ErrPacketTooLarge):
		return ReasonPacketTooLarge
	case errors.Is(err, ErrReceiveMaximumExceeded):
		return ReasonReceiveMaxExceeded
	case errors.Is(err, ErrMalformedPacket), errors.Is(err, ErrInvalidUTF8),
		errors.Is(err, ErrVarintMalformed), errors.Is(err, ErrInvalidPacketFlags):
		return ReasonMalformedPacket
	case errors.Is(err, ErrKeepAliveTimeout):
		return ReasonKeepAliveTimeout
	default:
		return ReasonProtocolError
	}
}
