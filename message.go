package mqttclient

import "fmt"

// Message represents an MQTT application message.
// Outbound messages are built by the caller; inbound ones come from PUBLISH packets.
type Message struct {
	// Topic is the topic name. Inbound messages published with a topic alias
	// have it resolved already.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates if this is a retained message.
	Retain bool

	// Duplicate is the DUP flag of an inbound PUBLISH.
	Duplicate bool

	// PacketID is the packet identifier; zero for QoS 0.
	PacketID uint16

	// PayloadFormat indicates if the payload is UTF-8 encoded text (1) or unspecified bytes (0).
	PayloadFormat byte

	// MessageExpiry is the lifetime of the message in seconds.
	// Zero means no expiry.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic for response messages.
	ResponseTopic string

	// CorrelationData is used to correlate request/response messages.
	CorrelationData []byte

	// UserProperties contains user-defined name-value pairs.
	UserProperties []StringPair

	// SubscriptionIdentifiers lists the identifiers of matching subscriptions.
	// Only set on inbound messages.
	SubscriptionIdentifiers []uint32

	// TopicAlias is the alias carried by an inbound PUBLISH, if any.
	TopicAlias uint16
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := *m
	clone.Payload = cloneBytes(m.Payload)
	clone.CorrelationData = cloneBytes(m.CorrelationData)

	if m.UserProperties != nil {
		clone.UserProperties = append([]StringPair(nil), m.UserProperties...)
	}
	if m.SubscriptionIdentifiers != nil {
		clone.SubscriptionIdentifiers = append([]uint32(nil), m.SubscriptionIdentifiers...)
	}

	return &clone
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String is a short description for logs.
func (m *Message) String() string {
	return fmt.Sprintf("Message{topic=%q qos=%d retain=%t dup=%t id=%d len=%d}",
		m.Topic, m.QoS, m.Retain, m.Duplicate, m.PacketID, len(m.Payload))
}

// properties converts the message metadata into PUBLISH properties.
// The topic alias is added by the client, not here.
func (m *Message) properties() Properties {
	var p Properties

	if m.PayloadFormat != 0 {
		p.Add(PropPayloadFormatIndicator, m.PayloadFormat)
	}
	if m.MessageExpiry != 0 {
		p.Add(PropMessageExpiryInterval, m.MessageExpiry)
	}
	if m.ContentType != "" {
		p.Add(PropContentType, m.ContentType)
	}
	if m.ResponseTopic != "" {
		p.Add(PropResponseTopic, m.ResponseTopic)
	}
	if len(m.CorrelationData) > 0 {
		p.Add(PropCorrelationData, m.CorrelationData)
	}
	for _, up := range m.UserProperties {
		p.Add(PropUserProperty, up)
	}

	return p
}

func (m *Message) onInt(id PropertyID, v uint32) error {
	switch id {
	case PropPayloadFormatIndicator:
		if v > 1 {
			return fmt.Errorf("%w: payload format %d", ErrProtocolError, v)
		}
		m.PayloadFormat = byte(v)
	case PropMessageExpiryInterval:
		m.MessageExpiry = v
	case PropSubscriptionIdentifier:
		if v == 0 {
			return fmt.Errorf("%w: subscription identifier 0", ErrProtocolError)
		}
		m.SubscriptionIdentifiers = append(m.SubscriptionIdentifiers, v)
	case PropTopicAlias:
		m.TopicAlias = uint16(v)
	default:
		return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (m *Message) onString(id PropertyID, v string) error {
	switch id {
	case PropContentType:
		m.ContentType = v
	case PropResponseTopic:
		if err := ValidateTopicName(v); err != nil {
			return fmt.Errorf("response topic: %w", err)
		}
		m.ResponseTopic = v
	default:
		return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (m *Message) onBytes(id PropertyID, v []byte) error {
	if id != PropCorrelationData {
		return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, id)
	}
	m.CorrelationData = v
	return nil
}

func (m *Message) onNamePair(id PropertyID, v StringPair) error {
	if id != PropUserProperty {
		return fmt.Errorf("%w: %s", ErrPropertyNotAllowed, id)
	}
	m.UserProperties = append(m.UserProperties, v)
	return nil
}
