package mqttclient

import (
	"errors"
	"fmt"
)

// PropertyID represents an MQTT v5.0 property identifier.
type PropertyID byte

// Property identifiers.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// propertyType is the wire type of a property value.
type propertyType uint8

const (
	propInt1 propertyType = iota + 1
	propInt2
	propInt4
	propVarInt
	propString
	propBytes
	propNamePair
	propBoolean
)

// packetMask has one bit per packet type. Bit 0 is not a packet type and marks
// will properties, which travel inside CONNECT but have their own rules.
type packetMask uint16

const maskWill packetMask = 1

func maskOf(types ...PacketType) packetMask {
	var m packetMask
	for _, t := range types {
		m |= 1 << t
	}
	return m
}

func (t PacketType) mask() packetMask {
	return 1 << t
}

// propertyInfo describes one registry entry.
type propertyInfo struct {
	id         PropertyID
	name       string
	typ        propertyType
	minVersion ProtocolVersion
	valid      packetMask
	repeatable packetMask
}

var (
	maskMessage = maskOf(PacketPUBLISH) | maskWill
	maskAcks    = maskOf(PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP)
	maskAll     = maskOf(PacketCONNECT, PacketCONNACK, PacketPUBLISH, PacketPUBACK, PacketPUBREC,
		PacketPUBREL, PacketPUBCOMP, PacketSUBSCRIBE, PacketSUBACK, PacketUNSUBSCRIBE,
		PacketUNSUBACK, PacketDISCONNECT, PacketAUTH) | maskWill
)

// propertyTable is indexed by property identifier.
var propertyTable = [...]propertyInfo{
	PropPayloadFormatIndicator:   {name: "PayloadFormatIndicator", typ: propInt1, valid: maskMessage},
	PropMessageExpiryInterval:    {name: "MessageExpiryInterval", typ: propInt4, valid: maskMessage},
	PropContentType:              {name: "ContentType", typ: propString, valid: maskMessage},
	PropResponseTopic:            {name: "ResponseTopic", typ: propString, valid: maskMessage},
	PropCorrelationData:          {name: "CorrelationData", typ: propBytes, valid: maskMessage},
	PropSubscriptionIdentifier:   {name: "SubscriptionIdentifier", typ: propVarInt, valid: maskOf(PacketPUBLISH, PacketSUBSCRIBE), repeatable: maskOf(PacketPUBLISH)},
	PropSessionExpiryInterval:    {name: "SessionExpiryInterval", typ: propInt4, valid: maskOf(PacketCONNECT, PacketCONNACK, PacketDISCONNECT)},
	PropAssignedClientIdentifier: {name: "AssignedClientIdentifier", typ: propString, valid: maskOf(PacketCONNACK)},
	PropServerKeepAlive:          {name: "ServerKeepAlive", typ: propInt2, valid: maskOf(PacketCONNACK)},
	PropAuthenticationMethod:     {name: "AuthenticationMethod", typ: propString, valid: maskOf(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropAuthenticationData:       {name: "AuthenticationData", typ: propBytes, valid: maskOf(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropRequestProblemInfo:       {name: "RequestProblemInformation", typ: propInt1, valid: maskOf(PacketCONNECT)},
	PropWillDelayInterval:        {name: "WillDelayInterval", typ: propInt4, valid: maskWill},
	PropRequestResponseInfo:      {name: "RequestResponseInformation", typ: propBoolean, valid: maskOf(PacketCONNECT)},
	PropResponseInformation:      {name: "ResponseInformation", typ: propString, valid: maskOf(PacketCONNACK)},
	PropServerReference:          {name: "ServerReference", typ: propString, valid: maskOf(PacketCONNACK, PacketDISCONNECT)},
	PropReasonString:             {name: "ReasonString", typ: propString, valid: maskOf(PacketCONNACK, PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH) | maskAcks},
	PropReceiveMaximum:           {name: "ReceiveMaximum", typ: propInt2, valid: maskOf(PacketCONNECT, PacketCONNACK)},
	PropTopicAliasMaximum:        {name: "TopicAliasMaximum", typ: propInt2, valid: maskOf(PacketCONNECT, PacketCONNACK)},
	PropTopicAlias:               {name: "TopicAlias", typ: propInt2, valid: maskOf(PacketPUBLISH)},
	PropMaximumQoS:               {name: "MaximumQoS", typ: propInt1, valid: maskOf(PacketCONNACK)},
	PropRetainAvailable:          {name: "RetainAvailable", typ: propBoolean, valid: maskOf(PacketCONNACK)},
	PropUserProperty:             {name: "UserProperty", typ: propNamePair, valid: maskAll, repeatable: maskAll},
	PropMaximumPacketSize:        {name: "MaximumPacketSize", typ: propInt4, valid: maskOf(PacketCONNECT, PacketCONNACK)},
	PropWildcardSubAvailable:     {name: "WildcardSubscriptionAvailable", typ: propBoolean, valid: maskOf(PacketCONNACK)},
	PropSubscriptionIDAvailable:  {name: "SubscriptionIdentifierAvailable", typ: propBoolean, valid: maskOf(PacketCONNACK)},
	PropSharedSubAvailable:       {name: "SharedSubscriptionAvailable", typ: propBoolean, valid: maskOf(PacketCONNACK)},
}

func init() {
	for i := range propertyTable {
		if propertyTable[i].typ != 0 {
			propertyTable[i].id = PropertyID(i)
			propertyTable[i].minVersion = ProtocolV5
		}
	}
}

// lookupProperty returns the registry entry for id.
func lookupProperty(id PropertyID) (*propertyInfo, bool) {
	if int(id) >= len(propertyTable) || propertyTable[id].typ == 0 {
		return nil, false
	}
	return &propertyTable[id], true
}

// String returns the property name.
func (p PropertyID) String() string {
	if info, ok := lookupProperty(p); ok {
		return info.name
	}
	return fmt.Sprintf("Property(%#02x)", byte(p))
}

// Property errors.
var (
	ErrUnknownPropertyID   = errors.New("unknown property identifier")
	ErrInvalidPropertyType = errors.New("invalid property type for identifier")
	ErrPropertyNotAllowed  = errors.New("property not allowed in packet")
	ErrDuplicateProperty   = errors.New("duplicate property not allowed")
)

// propertyTarget receives decoded properties. Connection, Message and Result each
// implement it to apply the same wire data with their own semantics.
type propertyTarget interface {
	onInt(id PropertyID, v uint32) error
	onString(id PropertyID, v string) error
	onBytes(id PropertyID, v []byte) error
	onNamePair(id PropertyID, v StringPair) error
}

// encodeProperty writes one property. The value type must match the registry:
// integers for int1/int2/int4/varint, bool or 0/1 for boolean, string, []byte or StringPair.
// A false boolean is not written.
func encodeProperty(w *buffer, id PropertyID, value any) error {
	info, ok := lookupProperty(id)
	if !ok {
		return fmt.Errorf("%w: %#02x", ErrUnknownPropertyID, byte(id))
	}

	mismatch := func() error {
		return fmt.Errorf("%w: %s does not take %T", ErrInvalidPropertyType, id, value)
	}

	switch info.typ {
	case propBoolean:
		set, ok := asBool(value)
		if !ok {
			return mismatch()
		}
		if set {
			w.writeByte(byte(id))
			w.writeByte(1)
		}
		return nil

	case propInt1, propInt2, propInt4, propVarInt:
		v, ok := asUint32(value)
		if !ok {
			return mismatch()
		}
		w.writeByte(byte(id))
		switch info.typ {
		case propInt1:
			if v > 0xFF {
				return fmt.Errorf("%w: %s value %d out of range", ErrInvalidPropertyType, id, v)
			}
			w.writeByte(byte(v))
		case propInt2:
			if v > maxUint16 {
				return fmt.Errorf("%w: %s value %d out of range", ErrInvalidPropertyType, id, v)
			}
			w.writeUint16(uint16(v))
		case propInt4:
			w.writeUint32(v)
		default:
			return w.writeVarInt(v)
		}
		return nil

	case propString:
		s, ok := value.(string)
		if !ok {
			return mismatch()
		}
		w.writeByte(byte(id))
		return w.writeString(s, utf8CheckNone)

	case propBytes:
		b, ok := value.([]byte)
		if !ok {
			return mismatch()
		}
		w.writeByte(byte(id))
		return w.writeBinary(b)

	case propNamePair:
		p, ok := value.(StringPair)
		if !ok {
			return mismatch()
		}
		w.writeByte(byte(id))
		return w.writeStringPair(p)
	}

	return mismatch()
}

func asUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint8:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	case uint32:
		return n, true
	case int:
		if n < 0 || uint64(n) > 0xFFFFFFFF {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	n, ok := asUint32(v)
	if !ok || n > 1 {
		return false, false
	}
	return n == 1, true
}

// decodeProperties reads a length-prefixed property block that belongs to a packet
// whose bit is set in mask, and hands each property to target.
func decodeProperties(r *reader, mask packetMask, version ProtocolVersion, target propertyTarget) error {
	length, err := r.readVarInt()
	if err != nil {
		return err
	}

	block, err := r.readN(int(length))
	if err != nil {
		return err
	}

	br := newReader(block)
	var seen [len(propertyTable)]bool

	for br.remaining() > 0 {
		raw, err := br.readVarInt()
		if err != nil {
			return err
		}

		info, ok := lookupProperty(PropertyID(raw))
		if raw > 0xFF || !ok {
			return fmt.Errorf("%w: %#02x", ErrUnknownPropertyID, raw)
		}

		if version < info.minVersion || info.valid&mask == 0 {
			return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, info.id)
		}

		if seen[info.id] && info.repeatable&mask == 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateProperty, info.id)
		}
		seen[info.id] = true

		if err := decodeProperty(br, info, target); err != nil {
			return err
		}
	}

	return nil
}

func decodeProperty(r *reader, info *propertyInfo, target propertyTarget) error {
	switch info.typ {
	case propInt1, propBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if info.typ == propBoolean && b > 1 {
			return fmt.Errorf("%w: %s value %d", ErrInvalidPropertyType, info.id, b)
		}
		return target.onInt(info.id, uint32(b))

	case propInt2:
		v, err := r.readUint16()
		if err != nil {
			return err
		}
		return target.onInt(info.id, uint32(v))

	case propInt4:
		v, err := r.readUint32()
		if err != nil {
			return err
		}
		return target.onInt(info.id, v)

	case propVarInt:
		v, err := r.readVarInt()
		if err != nil {
			return err
		}
		return target.onInt(info.id, v)

	case propString:
		s, err := r.readString(utf8CheckNone)
		if err != nil {
			return err
		}
		return target.onString(info.id, s)

	case propBytes:
		b, err := r.readBinary()
		if err != nil {
			return err
		}
		return target.onBytes(info.id, b)

	case propNamePair:
		p, err := r.readStringPair()
		if err != nil {
			return err
		}
		return target.onNamePair(info.id, p)
	}

	return fmt.Errorf("%w: %s", ErrInvalidPropertyType, info.id)
}

// Property is a single decoded or pending property.
type Property struct {
	ID    PropertyID
	Value any
}

// Properties is an ordered property list. It collects decoded properties as a
// propertyTarget and replays them into other targets with Visit.
type Properties struct {
	list []Property
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.list)
}

// Add appends a property without checking for duplicates.
func (p *Properties) Add(id PropertyID, value any) {
	p.list = append(p.list, Property{ID: id, Value: value})
}

// Set replaces any existing value for id.
func (p *Properties) Set(id PropertyID, value any) {
	for i := range p.list {
		if p.list[i].ID == id {
			p.list[i].Value = value
			return
		}
	}
	p.Add(id, value)
}

// Get returns the first value for id.
func (p *Properties) Get(id PropertyID) (any, bool) {
	if p == nil {
		return nil, false
	}
	for _, prop := range p.list {
		if prop.ID == id {
			return prop.Value, true
		}
	}
	return nil, false
}

// Has reports whether id is present.
func (p *Properties) Has(id PropertyID) bool {
	_, ok := p.Get(id)
	return ok
}

// GetUint returns an integer property.
func (p *Properties) GetUint(id PropertyID) (uint32, bool) {
	v, ok := p.Get(id)
	if !ok {
		return 0, false
	}
	return asUint32(v)
}

// GetString returns a string property.
func (p *Properties) GetString(id PropertyID) string {
	v, _ := p.Get(id)
	s, _ := v.(string)
	return s
}

// GetBytes returns a binary property.
func (p *Properties) GetBytes(id PropertyID) []byte {
	v, _ := p.Get(id)
	b, _ := v.([]byte)
	return b
}

// UserProperties returns all user properties in wire order.
func (p *Properties) UserProperties() []StringPair {
	if p == nil {
		return nil
	}
	var out []StringPair
	for _, prop := range p.list {
		if pair, ok := prop.Value.(StringPair); ok && prop.ID == PropUserProperty {
			out = append(out, pair)
		}
	}
	return out
}

func (p *Properties) onInt(id PropertyID, v uint32) error {
	p.Add(id, v)
	return nil
}

func (p *Properties) onString(id PropertyID, v string) error {
	p.Add(id, v)
	return nil
}

func (p *Properties) onBytes(id PropertyID, v []byte) error {
	p.Add(id, v)
	return nil
}

func (p *Properties) onNamePair(id PropertyID, v StringPair) error {
	p.Add(id, v)
	return nil
}

// Visit replays the properties into target in order.
func (p *Properties) Visit(target propertyTarget) error {
	if p == nil {
		return nil
	}

	for _, prop := range p.list {
		info, ok := lookupProperty(prop.ID)
		if !ok {
			return fmt.Errorf("%w: %#02x", ErrUnknownPropertyID, byte(prop.ID))
		}

		var err error
		switch info.typ {
		case propString:
			s, _ := prop.Value.(string)
			err = target.onString(prop.ID, s)
		case propBytes:
			b, _ := prop.Value.([]byte)
			err = target.onBytes(prop.ID, b)
		case propNamePair:
			pair, _ := prop.Value.(StringPair)
			err = target.onNamePair(prop.ID, pair)
		case propBoolean:
			set, _ := asBool(prop.Value)
			v := uint32(0)
			if set {
				v = 1
			}
			err = target.onInt(prop.ID, v)
		default:
			v, _ := asUint32(prop.Value)
			err = target.onInt(prop.ID, v)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// encode writes the length-prefixed property block for a packet in mask.
// The length prefix is written as one byte and widened in place when the block
// turns out to need more.
func (p *Properties) encode(w *buffer, mask packetMask) error {
	start := w.Len()
	w.writeByte(0)

	if p != nil {
		for _, prop := range p.list {
			info, ok := lookupProperty(prop.ID)
			if !ok {
				return fmt.Errorf("%w: %#02x", ErrUnknownPropertyID, byte(prop.ID))
			}
			if info.valid&mask == 0 {
				return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, prop.ID)
			}
			if err := encodeProperty(w, prop.ID, prop.Value); err != nil {
				return err
			}
		}
	}

	n := w.Len() - start - 1
	if n > maxVarint {
		return ErrVarintTooLarge
	}

	width := varintSize(uint32(n))
	if width > 1 {
		w.ensure(width - 1)
		w.b = w.b[:w.Len()+width-1]
		copy(w.b[start+width:], w.b[start+1:start+1+n])
	}

	appendVarInt(w.b[start:start], uint32(n))
	return nil
}
