package mqttclient

import "fmt"

// packet is implemented by every control packet. Encoding and decoding depend
// on the negotiated protocol version.
type packet interface {
	// Type returns the packet type.
	Type() PacketType

	// encode appends the variable header and payload and returns the fixed header flags.
	encode(w *buffer, v ProtocolVersion) (byte, error)

	// decode parses the body of a frame whose flags are already validated.
	decode(flags byte, r *reader, v ProtocolVersion) error
}

// encodePacket returns the control byte and body of p.
func encodePacket(p packet, v ProtocolVersion) (byte, []byte, error) {
	var w buffer
	control, err := encodePacketTo(&w, p, v)
	if err != nil {
		return 0, nil, err
	}
	return control, w.Bytes(), nil
}

// encodePacketTo appends the body of p to w and returns the control byte.
func encodePacketTo(w *buffer, p packet, v ProtocolVersion) (byte, error) {
	flags, err := p.encode(w, v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", p.Type(), err)
	}
	return controlByte(p.Type(), flags), nil
}

// newPacket returns an empty packet of type t.
func newPacket(t PacketType) (packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP:
		return &AckPacket{PacketType: t}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ, PacketPINGRESP:
		return &PingPacket{PacketType: t}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	case PacketAUTH:
		return &AuthPacket{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, byte(t))
	}
}

// decodePacket parses a frame. Trailing bytes are a malformed packet.
func decodePacket(f Frame, v ProtocolVersion) (packet, error) {
	if err := validateFlags(f.Type, f.Flags); err != nil {
		return nil, err
	}

	if f.Type == PacketAUTH && v < ProtocolV5 {
		return nil, fmt.Errorf("%w: AUTH requires protocol 5", ErrInvalidPacketType)
	}

	p, err := newPacket(f.Type)
	if err != nil {
		return nil, err
	}

	r := newReader(f.Payload)
	if err := p.decode(f.Flags, r, v); err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in %s", ErrMalformedPacket, r.remaining(), f.Type)
	}

	return p, nil
}

// decodeOptionalProperties decodes the properties of a v5 packet whose
// property block may be omitted when nothing else follows.
func decodeOptionalProperties(r *reader, t PacketType, v ProtocolVersion, props *Properties) error {
	if v < ProtocolV5 || r.remaining() == 0 {
		return nil
	}
	return decodeProperties(r, t.mask(), v, props)
}

func validQoS(qos byte) error {
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}
