package mqttclient

import "fmt"

// DisconnectPacket ends a connection from either side. Before v5 it has no body.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if v < ProtocolV5 || (p.ReasonCode == ReasonNormalDisconnection && p.Props.Len() == 0) {
		return 0, nil
	}

	w.writeByte(byte(p.ReasonCode))
	if p.Props.Len() > 0 {
		if err := p.Props.encode(w, PacketDISCONNECT.mask()); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (p *DisconnectPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	if v < ProtocolV5 || r.remaining() == 0 {
		return nil
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(PacketDISCONNECT) {
		return fmt.Errorf("%w: DISCONNECT reason code %#02x", ErrMalformedPacket, code)
	}

	return decodeOptionalProperties(r, PacketDISCONNECT, v, &p.Props)
}

// AuthPacket carries an enhanced authentication step (v5 only).
type AuthPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *AuthPacket) Type() PacketType { return PacketAUTH }

func (p *AuthPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if v < ProtocolV5 {
		return 0, fmt.Errorf("%w: AUTH requires protocol 5", ErrInvalidPacketType)
	}
	if p.ReasonCode == ReasonSuccess && p.Props.Len() == 0 {
		return 0, nil
	}

	w.writeByte(byte(p.ReasonCode))
	return 0, p.Props.encode(w, PacketAUTH.mask())
}

func (p *AuthPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	if r.remaining() == 0 {
		return nil
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(PacketAUTH) {
		return fmt.Errorf("%w: AUTH reason code %#02x", ErrMalformedPacket, code)
	}

	return decodeOptionalProperties(r, PacketAUTH, v, &p.Props)
}

// PingPacket is PINGREQ or PINGRESP, which have no body.
type PingPacket struct {
	PacketType PacketType
}

// Type returns the packet type.
func (p *PingPacket) Type() PacketType { return p.PacketType }

func (p *PingPacket) encode(_ *buffer, _ ProtocolVersion) (byte, error) { return 0, nil }

func (p *PingPacket) decode(_ byte, _ *reader, _ ProtocolVersion) error { return nil }
