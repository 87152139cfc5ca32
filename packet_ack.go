package mqttclient

import "fmt"

// AckPacket is PUBACK, PUBREC, PUBREL or PUBCOMP. All four share a layout.
type AckPacket struct {
	PacketType PacketType
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *AckPacket) Type() PacketType { return p.PacketType }

func (p *AckPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if p.PacketID == 0 {
		return 0, fmt.Errorf("%w: %s with packet id 0", ErrMalformedPacket, p.PacketType)
	}

	w.writeUint16(p.PacketID)

	if v >= ProtocolV5 && (p.ReasonCode != ReasonSuccess || p.Props.Len() > 0) {
		w.writeByte(byte(p.ReasonCode))
		if p.Props.Len() > 0 {
			if err := p.Props.encode(w, p.PacketType.mask()); err != nil {
				return 0, err
			}
		}
	}

	var flags byte
	if p.PacketType == PacketPUBREL {
		flags = 0x02
	}
	return flags, nil
}

func (p *AckPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if p.PacketID == 0 {
		return fmt.Errorf("%w: %s with packet id 0", ErrMalformedPacket, p.PacketType)
	}

	if v < ProtocolV5 || r.remaining() == 0 {
		p.ReasonCode = ReasonSuccess
		return nil
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(p.PacketType) {
		return fmt.Errorf("%w: %s reason code %#02x", ErrMalformedPacket, p.PacketType, code)
	}

	return decodeOptionalProperties(r, p.PacketType, v, &p.Props)
}
