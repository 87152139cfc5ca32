package mqttclient

import "fmt"

// PublishPacket carries an application message in either direction.
type PublishPacket struct {
	Topic    string
	PacketID uint16
	QoS      byte
	Retain   bool
	Dup      bool
	Payload  []byte
	Props    Properties
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) flags() byte {
	flags := (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= publishFlagRetain
	}
	if p.Dup {
		flags |= publishFlagDup
	}
	return flags
}

func (p *PublishPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if err := validQoS(p.QoS); err != nil {
		return 0, err
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return 0, fmt.Errorf("%w: QoS %d PUBLISH without packet id", ErrMalformedPacket, p.QoS)
	}
	if p.Topic == "" && (v < ProtocolV5 || !p.Props.Has(PropTopicAlias)) {
		return 0, ErrInvalidTopic
	}

	if err := w.writeString(p.Topic, utf8CheckControl); err != nil {
		return 0, err
	}
	if p.QoS > 0 {
		w.writeUint16(p.PacketID)
	}
	if v >= ProtocolV5 {
		if err := p.Props.encode(w, PacketPUBLISH.mask()); err != nil {
			return 0, err
		}
	}
	w.writeRaw(p.Payload)

	return p.flags(), nil
}

func (p *PublishPacket) decode(flags byte, r *reader, v ProtocolVersion) error {
	p.QoS = (flags & publishFlagQoS) >> 1
	p.Retain = flags&publishFlagRetain != 0
	p.Dup = flags&publishFlagDup != 0

	var err error
	if p.Topic, err = r.readString(utf8CheckControl); err != nil {
		return err
	}

	if p.QoS > 0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return err
		}
		if p.PacketID == 0 {
			return fmt.Errorf("%w: QoS %d PUBLISH with packet id 0", ErrMalformedPacket, p.QoS)
		}
	}

	if v >= ProtocolV5 {
		if err := decodeProperties(r, PacketPUBLISH.mask(), v, &p.Props); err != nil {
			return err
		}
	}

	p.Payload = r.rest()
	return nil
}

// message converts the packet into a Message with properties applied.
func (p *PublishPacket) message() (*Message, error) {
	msg := &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.Dup,
		PacketID:  p.PacketID,
	}

	if err := p.Props.Visit(msg); err != nil {
		return nil, err
	}

	return msg, nil
}
