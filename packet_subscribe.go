package mqttclient

import (
	"errors"
	"fmt"
)

// ErrNoSubscriptions is returned for SUBSCRIBE or UNSUBSCRIBE without topic filters.
var ErrNoSubscriptions = errors.New("at least one topic filter required")

// Subscribe option bits (v5).
const (
	subOptionQoS               = 0x03
	subOptionNoLocal           = 0x04
	subOptionRetainAsPublished = 0x08
	subOptionRetainHandling    = 0x30
	subOptionReserved          = 0xC0
)

// Subscription is one topic filter in a SUBSCRIBE request.
type Subscription struct {
	// Filter is the topic filter, possibly with wildcards or a $share prefix.
	Filter string

	// QoS is the maximum QoS requested.
	QoS byte

	// NoLocal stops the server from sending the client its own publications (v5).
	NoLocal bool

	// RetainAsPublished keeps the retain flag as published (v5).
	RetainAsPublished bool

	// RetainHandling: 0 send retained on subscribe, 1 only for new subscriptions, 2 never (v5).
	RetainHandling byte
}

func (s Subscription) options(v ProtocolVersion) byte {
	opts := s.QoS & subOptionQoS
	if v < ProtocolV5 {
		return opts
	}
	if s.NoLocal {
		opts |= subOptionNoLocal
	}
	if s.RetainAsPublished {
		opts |= subOptionRetainAsPublished
	}
	return opts | (s.RetainHandling&0x03)<<4
}

// Validate checks the filter and options.
func (s Subscription) Validate() error {
	if err := ValidateTopicFilter(s.Filter); err != nil {
		return err
	}
	if err := validQoS(s.QoS); err != nil {
		return err
	}
	if s.RetainHandling > 2 {
		return fmt.Errorf("%w: retain handling %d", ErrInvalidOption, s.RetainHandling)
	}
	if s.NoLocal && isSharedSubscription(s.Filter) {
		return fmt.Errorf("%w: no-local on shared subscription", ErrInvalidOption)
	}
	return nil
}

// SubscribePacket requests one or more subscriptions.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
	Props         Properties
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if len(p.Subscriptions) == 0 {
		return 0, ErrNoSubscriptions
	}

	w.writeUint16(p.PacketID)
	if v >= ProtocolV5 {
		if err := p.Props.encode(w, PacketSUBSCRIBE.mask()); err != nil {
			return 0, err
		}
	}

	for _, s := range p.Subscriptions {
		if err := w.writeString(s.Filter, utf8CheckControl); err != nil {
			return 0, err
		}
		w.writeByte(s.options(v))
	}

	return 0x02, nil
}

func (p *SubscribePacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if v >= ProtocolV5 {
		if err := decodeProperties(r, PacketSUBSCRIBE.mask(), v, &p.Props); err != nil {
			return err
		}
	}

	for r.remaining() > 0 {
		var s Subscription
		if s.Filter, err = r.readString(utf8CheckControl); err != nil {
			return err
		}
		opts, err := r.ReadByte()
		if err != nil {
			return err
		}
		if opts&subOptionReserved != 0 || (v < ProtocolV5 && opts&^subOptionQoS != 0) {
			return fmt.Errorf("%w: subscribe options %#x", ErrMalformedPacket, opts)
		}
		s.QoS = opts & subOptionQoS
		s.NoLocal = opts&subOptionNoLocal != 0
		s.RetainAsPublished = opts&subOptionRetainAsPublished != 0
		s.RetainHandling = (opts & subOptionRetainHandling) >> 4
		p.Subscriptions = append(p.Subscriptions, s)
	}

	if len(p.Subscriptions) == 0 {
		return fmt.Errorf("%w: %w", ErrMalformedPacket, ErrNoSubscriptions)
	}
	return nil
}

// SubackPacket answers SUBSCRIBE with one code per filter.
type SubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	w.writeUint16(p.PacketID)
	if v >= ProtocolV5 {
		if err := p.Props.encode(w, PacketSUBACK.mask()); err != nil {
			return 0, err
		}
	}
	for _, rc := range p.ReasonCodes {
		w.writeByte(byte(rc))
	}
	return 0, nil
}

func (p *SubackPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if v >= ProtocolV5 {
		if err := decodeProperties(r, PacketSUBACK.mask(), v, &p.Props); err != nil {
			return err
		}
	}

	for _, b := range r.rest() {
		rc := ReasonCode(b)
		if v < ProtocolV5 {
			if b > 2 && b != byte(ReasonSubscribeFailureV311) {
				return fmt.Errorf("%w: SUBACK return code %#02x", ErrMalformedPacket, b)
			}
		} else if !rc.ValidFor(PacketSUBACK) {
			return fmt.Errorf("%w: SUBACK reason code %#02x", ErrMalformedPacket, b)
		}
		p.ReasonCodes = append(p.ReasonCodes, rc)
	}

	if len(p.ReasonCodes) == 0 {
		return fmt.Errorf("%w: SUBACK without reason codes", ErrMalformedPacket)
	}
	return nil
}

// UnsubscribePacket removes one or more subscriptions.
type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string
	Props    Properties
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	if len(p.Filters) == 0 {
		return 0, ErrNoSubscriptions
	}

	w.writeUint16(p.PacketID)
	if v >= ProtocolV5 {
		if err := p.Props.encode(w, PacketUNSUBSCRIBE.mask()); err != nil {
			return 0, err
		}
	}
	for _, f := range p.Filters {
		if err := w.writeString(f, utf8CheckControl); err != nil {
			return 0, err
		}
	}
	return 0x02, nil
}

func (p *UnsubscribePacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if v >= ProtocolV5 {
		if err := decodeProperties(r, PacketUNSUBSCRIBE.mask(), v, &p.Props); err != nil {
			return err
		}
	}
	for r.remaining() > 0 {
		f, err := r.readString(utf8CheckControl)
		if err != nil {
			return err
		}
		p.Filters = append(p.Filters, f)
	}
	if len(p.Filters) == 0 {
		return fmt.Errorf("%w: %w", ErrMalformedPacket, ErrNoSubscriptions)
	}
	return nil
}

// UnsubackPacket answers UNSUBSCRIBE. Before v5 it carries no reason codes.
type UnsubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) encode(w *buffer, v ProtocolVersion) (byte, error) {
	w.writeUint16(p.PacketID)
	if v < ProtocolV5 {
		return 0, nil
	}
	if err := p.Props.encode(w, PacketUNSUBACK.mask()); err != nil {
		return 0, err
	}
	for _, rc := range p.ReasonCodes {
		w.writeByte(byte(rc))
	}
	return 0, nil
}

func (p *UnsubackPacket) decode(_ byte, r *reader, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if v < ProtocolV5 {
		return nil
	}
	if err := decodeProperties(r, PacketUNSUBACK.mask(), v, &p.Props); err != nil {
		return err
	}
	for _, b := range r.rest() {
		rc := ReasonCode(b)
		if !rc.ValidFor(PacketUNSUBACK) {
			return fmt.Errorf("%w: UNSUBACK reason code %#02x", ErrMalformedPacket, b)
		}
		p.ReasonCodes = append(p.ReasonCodes, rc)
	}
	return nil
}
