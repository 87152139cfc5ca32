package mqttclient

import (
	"errors"
	"fmt"
)

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
	PacketAUTH:        "AUTH",
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	if !p.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", byte(p))
	}
	return packetTypeNames[p]
}

// Valid returns true if the packet type is valid.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// ProtocolVersion is the protocol level byte sent in CONNECT.
type ProtocolVersion byte

// Supported protocol versions.
const (
	ProtocolV31  ProtocolVersion = 3
	ProtocolV311 ProtocolVersion = 4
	ProtocolV5   ProtocolVersion = 5
)

// String returns the version as it is usually written.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV31:
		return "3.1"
	case ProtocolV311:
		return "3.1.1"
	case ProtocolV5:
		return "5.0"
	default:
		return fmt.Sprintf("unknown(%d)", byte(v))
	}
}

// Valid reports whether the version is one the client speaks.
func (v ProtocolVersion) Valid() bool {
	return v >= ProtocolV31 && v <= ProtocolV5
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// PUBLISH fixed header flags.
const (
	publishFlagRetain = 0x01
	publishFlagQoS    = 0x06
	publishFlagDup    = 0x08
)

// Frame is one control packet as delivered by a Transport: the type and flags from
// the first header byte and the body following the remaining length.
type Frame struct {
	Type    PacketType
	Flags   byte
	Payload []byte
}

// controlByte builds the first fixed header byte.
func controlByte(t PacketType, flags byte) byte {
	return byte(t)<<4 | flags&0x0F
}

// splitControl is the inverse of controlByte.
func splitControl(b byte) (PacketType, byte) {
	return PacketType(b >> 4), b & 0x0F
}

// validateFlags checks the reserved flag bits of an inbound frame.
func validateFlags(t PacketType, flags byte) error {
	switch t {
	case PacketPUBLISH:
		if flags&publishFlagQoS == publishFlagQoS {
			return fmt.Errorf("%w: PUBLISH with QoS 3", ErrInvalidPacketFlags)
		}
		if flags&publishFlagQoS == 0 && flags&publishFlagDup != 0 {
			return fmt.Errorf("%w: DUP set on QoS 0 PUBLISH", ErrInvalidPacketFlags)
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if flags != 0x02 {
			return fmt.Errorf("%w: %s flags %#x", ErrInvalidPacketFlags, t, flags)
		}
		return nil

	default:
		if !t.Valid() {
			return ErrInvalidPacketType
		}
		if flags != 0 {
			return fmt.Errorf("%w: %s flags %#x", ErrInvalidPacketFlags, t, flags)
		}
		return nil
	}
}
