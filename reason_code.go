package mqttclient

import "fmt"

// ReasonCode represents an MQTT v5.0 reason code. Legacy CONNACK return codes
// are translated into this space as well.
type ReasonCode byte

// Reason codes.
const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// Aliases used where the same byte has a packet-specific meaning.
const (
	ReasonGrantedQoS0          = ReasonSuccess
	ReasonNormalDisconnection  = ReasonSuccess
	ReasonSubscribeFailureV311 = ReasonUnspecifiedError
)

type reasonInfo struct {
	text  string
	valid packetMask
}

var (
	rcC  = maskOf(PacketCONNACK)
	rcD  = maskOf(PacketDISCONNECT)
	rcPA = maskOf(PacketPUBACK, PacketPUBREC)
	rcS  = maskOf(PacketSUBACK)
	rcU  = maskOf(PacketUNSUBACK)
)

// reasonTable lists every code with the packets allowed to carry it.
var reasonTable = map[ReasonCode]reasonInfo{
	ReasonSuccess:                    {"Success", maskOf(PacketCONNACK, PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)},
	ReasonGrantedQoS1:                {"Granted QoS 1", rcS},
	ReasonGrantedQoS2:                {"Granted QoS 2", rcS},
	ReasonDisconnectWithWill:         {"Disconnect with Will Message", rcD},
	ReasonNoMatchingSubscribers:      {"No matching subscribers", rcPA},
	ReasonNoSubscriptionExisted:      {"No subscription existed", rcU},
	ReasonContinueAuth:               {"Continue authentication", maskOf(PacketAUTH)},
	ReasonReAuth:                     {"Re-authenticate", maskOf(PacketAUTH)},
	ReasonUnspecifiedError:           {"Unspecified error", rcC | rcPA | rcS | rcU | rcD},
	ReasonMalformedPacket:            {"Malformed Packet", rcC | rcD},
	ReasonProtocolError:              {"Protocol Error", rcC | rcD},
	ReasonImplSpecificError:          {"Implementation specific error", rcC | rcPA | rcS | rcU | rcD},
	ReasonUnsupportedProtocolVersion: {"Unsupported Protocol Version", rcC},
	ReasonClientIDNotValid:           {"Client Identifier not valid", rcC},
	ReasonBadUserNameOrPassword:      {"Bad User Name or Password", rcC},
	ReasonNotAuthorized:              {"Not authorized", rcC | rcPA | rcS | rcU | rcD},
	ReasonServerUnavailable:          {"Server unavailable", rcC},
	ReasonServerBusy:                 {"Server busy", rcC | rcD},
	ReasonBanned:                     {"Banned", rcC},
	ReasonServerShuttingDown:         {"Server shutting down", rcD},
	ReasonBadAuthMethod:              {"Bad authentication method", rcC | rcD},
	ReasonKeepAliveTimeout:           {"Keep Alive timeout", rcD},
	ReasonSessionTakenOver:           {"Session taken over", rcD},
	ReasonTopicFilterInvalid:         {"Topic Filter invalid", rcS | rcU | rcD},
	ReasonTopicNameInvalid:           {"Topic Name invalid", rcC | rcPA | rcD},
	ReasonPacketIDInUse:              {"Packet Identifier in use", rcPA | rcS | rcU},
	ReasonPacketIDNotFound:           {"Packet Identifier not found", maskOf(PacketPUBREL, PacketPUBCOMP)},
	ReasonReceiveMaxExceeded:         {"Receive Maximum exceeded", rcD},
	ReasonTopicAliasInvalid:          {"Topic Alias invalid", rcD},
	ReasonPacketTooLarge:             {"Packet too large", rcC | rcD},
	ReasonMessageRateTooHigh:         {"Message rate too high", rcD},
	ReasonQuotaExceeded:              {"Quota exceeded", rcC | rcPA | rcS | rcD},
	ReasonAdminAction:                {"Administrative action", rcD},
	ReasonPayloadFormatInvalid:       {"Payload format invalid", rcC | rcPA | rcD},
	ReasonRetainNotSupported:         {"Retain not supported", rcC | rcD},
	ReasonQoSNotSupported:            {"QoS not supported", rcC | rcD},
	ReasonUseAnotherServer:           {"Use another server", rcC | rcD},
	ReasonServerMoved:                {"Server moved", rcC | rcD},
	ReasonSharedSubsNotSupported:     {"Shared Subscriptions not supported", rcS | rcD},
	ReasonConnectionRateExceeded:     {"Connection rate exceeded", rcC | rcD},
	ReasonMaxConnectTime:             {"Maximum connect time", rcD},
	ReasonSubIDsNotSupported:         {"Subscription Identifiers not supported", rcS | rcD},
	ReasonWildcardSubsNotSupported:   {"Wildcard Subscriptions not supported", rcS | rcD},
}

// String returns the human-readable description of the reason code.
func (r ReasonCode) String() string {
	if info, ok := reasonTable[r]; ok {
		return info.text
	}
	return fmt.Sprintf("Unknown reason code %#02x", byte(r))
}

// IsError returns true if the reason code indicates an error (>= 0x80).
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// IsSuccess returns true if the reason code indicates success (< 0x80).
func (r ReasonCode) IsSuccess() bool {
	return r < 0x80
}

// ValidFor reports whether a packet of type t may carry r.
func (r ReasonCode) ValidFor(t PacketType) bool {
	info, ok := reasonTable[r]
	return ok && info.valid&t.mask() != 0
}

// Legacy CONNACK return codes (MQTT 3.1 and 3.1.1).
const (
	connackAccepted              = 0x00
	connackRefusedVersion        = 0x01
	connackRefusedIdentifier     = 0x02
	connackRefusedServerDown     = 0x03
	connackRefusedBadCredentials = 0x04
	connackRefusedNotAuthorized  = 0x05
)

// legacyConnackReason translates a 3.x CONNACK return code.
func legacyConnackReason(code byte) (ReasonCode, bool) {
	switch code {
	case connackAccepted:
		return ReasonSuccess, true
	case connackRefusedVersion:
		return ReasonUnsupportedProtocolVersion, true
	case connackRefusedIdentifier:
		return ReasonClientIDNotValid, true
	case connackRefusedServerDown:
		return ReasonServerUnavailable, true
	case connackRefusedBadCredentials:
		return ReasonBadUserNameOrPassword, true
	case connackRefusedNotAuthorized:
		return ReasonNotAuthorized, true
	default:
		return ReasonUnspecifiedError, false
	}
}

// legacyConnackCode is the inverse of legacyConnackReason.
func legacyConnackCode(r ReasonCode) byte {
	switch r {
	case ReasonSuccess:
		return connackAccepted
	case ReasonUnsupportedProtocolVersion:
		return connackRefusedVersion
	case ReasonClientIDNotValid:
		return connackRefusedIdentifier
	case ReasonServerUnavailable:
		return connackRefusedServerDown
	case ReasonBadUserNameOrPassword:
		return connackRefusedBadCredentials
	default:
		return connackRefusedNotAuthorized
	}
}
