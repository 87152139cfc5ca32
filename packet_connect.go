package mqttclient

import (
	"errors"
	"fmt"
)

// Protocol names carried in CONNECT.
const (
	protocolNameV31 = "MQIsdp"
	protocolNameV4  = "MQTT"
)

// Connect flag bits.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanStart   = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillQoS      = 0x18
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT errors.
var (
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
)

// ConnectPacket is the first packet a client sends.
type ConnectPacket struct {
	// ProtocolName overrides the name derived from Version. Some proxies expect
	// their own variant here.
	ProtocolName string
	Version      ProtocolVersion
	CleanStart   bool
	KeepAlive    uint16
	ClientID     string
	Username     string
	Password     []byte
	Will         *WillMessage
	Props        Properties
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) protocolName() string {
	switch {
	case p.ProtocolName != "":
		return p.ProtocolName
	case p.Version == ProtocolV31:
		return protocolNameV31
	default:
		return protocolNameV4
	}
}

func (p *ConnectPacket) flags() byte {
	var flags byte

	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Will != nil {
		flags |= connectFlagWillFlag
		flags |= (p.Will.QoS & 0x03) << 3
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Password != nil {
		flags |= connectFlagPasswordFlag
	}
	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

func (p *ConnectPacket) encode(w *buffer, _ ProtocolVersion) (byte, error) {
	v := p.Version
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidProtocolVersion, byte(v))
	}
	if p.Password != nil && p.Username == "" && v < ProtocolV5 {
		return 0, fmt.Errorf("%w: password without username", ErrInvalidConnectFlags)
	}

	if err := w.writeString(p.protocolName(), utf8CheckStrict); err != nil {
		return 0, err
	}
	w.writeByte(byte(v))
	w.writeByte(p.flags())
	w.writeUint16(p.KeepAlive)

	if v >= ProtocolV5 {
		if err := p.Props.encode(w, PacketCONNECT.mask()); err != nil {
			return 0, err
		}
	}

	if err := w.writeString(p.ClientID, utf8CheckStrict); err != nil {
		return 0, fmt.Errorf("client id: %w", err)
	}

	if p.Will != nil {
		if err := p.Will.Validate(); err != nil {
			return 0, err
		}
		if v >= ProtocolV5 {
			props := p.Will.properties()
			if err := props.encode(w, maskWill); err != nil {
				return 0, err
			}
		}
		if err := w.writeString(p.Will.Topic, utf8CheckControl); err != nil {
			return 0, err
		}
		if err := w.writeBinary(p.Will.Payload); err != nil {
			return 0, err
		}
	}

	if p.Username != "" {
		if err := w.writeString(p.Username, utf8CheckNone); err != nil {
			return 0, err
		}
	}
	if p.Password != nil {
		if err := w.writeBinary(p.Password); err != nil {
			return 0, err
		}
	}

	return 0, nil
}

func (p *ConnectPacket) decode(_ byte, r *reader, _ ProtocolVersion) error {
	name, err := r.readString(utf8CheckStrict)
	if err != nil {
		return err
	}

	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	p.Version = ProtocolVersion(b)
	if !p.Version.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidProtocolVersion, b)
	}
	if name != p.protocolName() {
		p.ProtocolName = name
	}

	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if flags&connectFlagReserved != 0 {
		return ErrInvalidConnectFlags
	}
	p.CleanStart = flags&connectFlagCleanStart != 0

	if p.KeepAlive, err = r.readUint16(); err != nil {
		return err
	}

	if p.Version >= ProtocolV5 {
		if err := decodeProperties(r, PacketCONNECT.mask(), p.Version, &p.Props); err != nil {
			return err
		}
	}

	if p.ClientID, err = r.readString(utf8CheckStrict); err != nil {
		return err
	}

	if flags&connectFlagWillFlag != 0 {
		will := &WillMessage{
			QoS:    (flags & connectFlagWillQoS) >> 3,
			Retain: flags&connectFlagWillRetain != 0,
		}
		if will.QoS > 2 {
			return ErrInvalidConnectFlags
		}
		if p.Version >= ProtocolV5 {
			if err := decodeProperties(r, maskWill, p.Version, will); err != nil {
				return err
			}
		}
		if will.Topic, err = r.readString(utf8CheckControl); err != nil {
			return err
		}
		if will.Payload, err = r.readBinary(); err != nil {
			return err
		}
		p.Will = will
	} else if flags&(connectFlagWillQoS|connectFlagWillRetain) != 0 {
		return ErrInvalidConnectFlags
	}

	if flags&connectFlagUsernameFlag != 0 {
		if p.Username, err = r.readString(utf8CheckNone); err != nil {
			return err
		}
	}
	if flags&connectFlagPasswordFlag != 0 {
		if p.Password, err = r.readBinary(); err != nil {
			return err
		}
	}

	return nil
}

// ConnackPacket is the server's answer to CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          Properties
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	var flags byte
	if p.SessionPresent && v >= ProtocolV311 {
		flags = 0x01
	}
	w.writeByte(flags)

	if v < ProtocolV5 {
		w.writeByte(legacyConnackCode(p.ReasonCode))
		return 0, nil
	}

	w.writeByte(byte(p.ReasonCode))
	return 0, p.Props.encode(w, PacketCONNACK.mask())
}

func (p *ConnackPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if v >= ProtocolV311 {
		if flags&0xFE != 0 {
			return fmt.Errorf("%w: CONNACK flags %#x", ErrMalformedPacket, flags)
		}
		p.SessionPresent = flags&0x01 != 0
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}

	if v < ProtocolV5 {
		reason, ok := legacyConnackReason(code)
		if !ok {
			return fmt.Errorf("%w: CONNACK return code %d", ErrMalformedPacket, code)
		}
		p.ReasonCode = reason
		return nil
	}

	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(PacketCONNACK) {
		return fmt.Errorf("%w: CONNACK reason code %#02x", ErrMalformedPacket, code)
	}
	if p.ReasonCode.IsError() && p.SessionPresent {
		return fmt.Errorf("%w: session present on failed CONNACK", ErrMalformedPacket)
	}

	return decodeOptionalProperties(r, PacketCONNACK, v, &p.Props)
}
